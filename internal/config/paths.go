package config

import (
	"os"
	"path/filepath"
)

// DataDir returns the root directory for ClaudeStation's user data.
// It uses $CLAUDESTATION_PATH if set, otherwise defaults to ~/.claudestation.
func DataDir() string {
	if v := os.Getenv("CLAUDESTATION_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".claudestation")
	}
	return filepath.Join(home, ".claudestation")
}

// ConfigPath returns the path to the ClaudeStation config file.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.jsonc")
}

// DotenvPath returns the path to the ClaudeStation .env file.
func DotenvPath() string {
	return filepath.Join(DataDir(), ".env")
}

// DBPath returns the path to the embedded relational store (§6).
func DBPath() string {
	return filepath.Join(DataDir(), "claude_station.db")
}

// LogPath returns the path to the application log file.
func LogPath() string {
	return filepath.Join(DataDir(), "claude_station.log")
}

// DocumentsDir returns the directory holding extracted project documents.
func DocumentsDir(projectID string) string {
	return filepath.Join(DataDir(), "documents", projectID)
}

// AttachmentsDir returns the directory holding conversation attachments.
func AttachmentsDir(conversationID string) string {
	return filepath.Join(DataDir(), "attachments", conversationID)
}
