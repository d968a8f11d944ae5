package models

import "time"

// SessionStatus represents the current state of a debug session
type SessionStatus string

const (
	StatusRunning   SessionStatus = "RUNNING"
	StatusCompleted SessionStatus = "COMPLETED"
	StatusError     SessionStatus = "ERROR"
	StatusTimedOut  SessionStatus = "TIMED_OUT"
)

// Session represents an active debug bridge between an editor client,
// a packager process and a device runtime
type Session struct {
	ID           string        `json:"id"`
	ProjectID    string        `json:"projectId"`
	Status       SessionStatus `json:"status"`
	StartedAt    time.Time     `json:"startedAt"`
	ExpiresAt    time.Time     `json:"expiresAt"`
	Timeout      int           `json:"timeout"`
	PackagerHost string        `json:"packagerHost"`
	PackagerPort int           `json:"packagerPort"`
	TargetURL    string        `json:"targetUrl"`
	ProjectPath  string        `json:"-"`
}

// CreateSessionRequest is the payload for creating a new debug session
type CreateSessionRequest struct {
	ProjectID    string         `json:"projectId"`
	ProjectPath  string         `json:"projectPath,omitempty"`
	PackagerHost string         `json:"packagerHost,omitempty"`
	PackagerPort int            `json:"packagerPort,omitempty"`
	TargetURL    string         `json:"targetUrl"`
	Timeout      int            `json:"timeout,omitempty"`
	Mappings     []MappingEntry `json:"mappings,omitempty"`
}
