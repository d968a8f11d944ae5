package models

// ProjectUsage tracks resource consumption for a project
type ProjectUsage struct {
	ProjectID      string `json:"projectId"`
	DebugMinutes   int64  `json:"debugMinutes"`
	ActiveSessions int    `json:"activeSessions"`
}
