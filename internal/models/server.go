package models

// ServerKind distinguishes the two child servers of a run
type ServerKind string

// Server kinds
const (
	ServerFrontend ServerKind = "frontend"
	ServerBackend  ServerKind = "backend"
)
