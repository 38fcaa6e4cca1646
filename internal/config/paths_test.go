package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDataDir_Default(t *testing.T) {
	t.Setenv("CLAUDESTATION_PATH", "")

	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatal(err)
	}

	got := DataDir()
	want := filepath.Join(home, ".claudestation")
	if got != want {
		t.Errorf("DataDir() = %q, want %q", got, want)
	}
}

func TestDataDir_EnvOverride(t *testing.T) {
	t.Setenv("CLAUDESTATION_PATH", "/tmp/custom-cs")

	got := DataDir()
	want := "/tmp/custom-cs"
	if got != want {
		t.Errorf("DataDir() = %q, want %q", got, want)
	}
}

func TestConfigPath(t *testing.T) {
	t.Setenv("CLAUDESTATION_PATH", "/tmp/test-cs")

	got := ConfigPath()
	want := "/tmp/test-cs/config.jsonc"
	if got != want {
		t.Errorf("ConfigPath() = %q, want %q", got, want)
	}
}

func TestDotenvPath(t *testing.T) {
	t.Setenv("CLAUDESTATION_PATH", "/tmp/test-cs")

	got := DotenvPath()
	want := "/tmp/test-cs/.env"
	if got != want {
		t.Errorf("DotenvPath() = %q, want %q", got, want)
	}
}

func TestDBPath(t *testing.T) {
	t.Setenv("CLAUDESTATION_PATH", "/tmp/test-cs")

	got := DBPath()
	want := "/tmp/test-cs/claude_station.db"
	if got != want {
		t.Errorf("DBPath() = %q, want %q", got, want)
	}
}

func TestDocumentsDir(t *testing.T) {
	t.Setenv("CLAUDESTATION_PATH", "/tmp/test-cs")

	got := DocumentsDir("proj_1")
	want := "/tmp/test-cs/documents/proj_1"
	if got != want {
		t.Errorf("DocumentsDir() = %q, want %q", got, want)
	}
}
