package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/metrobridge/metrobridge/internal/api"
	"github.com/metrobridge/metrobridge/internal/bootstrap"
	"github.com/metrobridge/metrobridge/internal/packager"
	"github.com/metrobridge/metrobridge/internal/proxy"
	"github.com/metrobridge/metrobridge/internal/ratelimit"
	"github.com/metrobridge/metrobridge/internal/sandbox"
	"github.com/metrobridge/metrobridge/internal/session"
	"github.com/metrobridge/metrobridge/internal/worker"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	log.Println("Starting Metro Bridge...")

	addr := envOr("MB_ADDR", ":8080")
	storagePath := envOr("MB_STORAGE_PATH", "./storage/bootstrap")
	clientName := envOr("MB_CLIENT_NAME", "metrobridge")
	nodePath := envOr("MB_NODE_PATH", "node")
	runnerKind := envOr("MB_SANDBOX_RUNNER", "process")
	sandboxImage := envOr("MB_SANDBOX_IMAGE", "node:20-alpine")

	// Bootstrap script store
	store, err := bootstrap.NewStore(storagePath)
	if err != nil {
		log.Fatalf("Failed to create bootstrap store: %v", err)
	}
	log.Println("✓ Bootstrap store initialized")

	// Packager collaborator client and bootstrap assembler
	packagerClient := packager.NewClient()
	assembler := bootstrap.NewAssembler(store, packagerClient, packager.IsExpoProject)
	log.Println("✓ Packager client initialized")

	// Worker factory: one lifetime manager per debug session
	newWorker := func(cfg worker.Config) session.WorkerManager {
		runnerFactory := func(scriptPath string) (sandbox.Runner, error) {
			if runnerKind == "container" {
				return sandbox.NewContainerRunner(sandboxImage, scriptPath, cfg.SessionID)
			}
			return sandbox.NewProcessRunner(nodePath, scriptPath), nil
		}
		return worker.NewManager(cfg, packagerClient, assembler, runnerFactory)
	}

	// Session registry
	registry := session.NewRegistry(clientName, newWorker)
	defer registry.Close()
	log.Println("✓ Session registry initialized")

	// CDP proxy
	proxyServer := proxy.NewServer(registry)
	log.Println("✓ CDP proxy initialized")

	// Rate limiter (100 requests/hour, burst of 10)
	rateLimiter := ratelimit.NewLimiter(100, 10)
	log.Println("✓ Rate limiter initialized (100 req/hour per project)")

	// Setup HTTP handlers
	handler := api.NewHandler(registry)
	router := handler.SetupRoutes(proxyServer, rateLimiter)
	log.Println("✓ HTTP routes configured")

	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		log.Printf("🚀 Server starting on http://localhost%s", addr)
		log.Println("📍 API endpoints available at /v1")
		log.Printf("🧩 Sandbox runner: %s", runnerKind)
		log.Println("🔍 Debug: live CDP proxy at /v1/sessions/{id}/ws")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("\n⏳ Shutting down server gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("✅ Server stopped cleanly")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
