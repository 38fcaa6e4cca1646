package config

import "time"

// Config is the root configuration for ClaudeStation.
type Config struct {
	Provider ProviderConfig `json:"provider"`
	Events   EventsConfig   `json:"events"`
	Defaults ProjectDefaults `json:"defaults"`
}

// ProviderConfig configures the Anthropic API client.
type ProviderConfig struct {
	BaseURL       string   `json:"base_url,omitempty"`
	Auth          AuthConfig `json:"auth"`
	Timeout       Duration `json:"timeout,omitempty"`
	ChatModel     string   `json:"chat_model,omitempty"`     // default: "claude-sonnet-4-6"
	HaikuModel    string   `json:"haiku_model,omitempty"`    // compression tier, default: "claude-haiku-4-6"
	ContextWindow int      `json:"context_window,omitempty"` // default: 200000
}

// AuthConfig configures API key resolution. Credential storage is out of
// scope (§1); this only names where the key comes from.
type AuthConfig struct {
	APIKey string `json:"api_key,omitempty"` // Direct API key or ${{ .Env.VAR }} template
	Token  string `json:"token,omitempty"`   // Bearer token auth (x-api-key vs Authorization)
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int    `json:"buffer_size"`
	LogLevel   string `json:"log_level"` // "debug" | "info" | "warn" | "error" (default: "info")
}

// ProjectDefaults holds the config file's project Settings block (§3.1).
// It is parsed but not applied: new projects are created with
// store.DefaultProjectSettings.
type ProjectDefaults struct {
	CacheTTL           string `json:"cache_ttl"`            // "5m" | "1h" (default "5m")
	CompressAfterTurns int    `json:"compress_after_turns"` // [5,30], default 10
	CompressBatchSize  int    `json:"compress_batch_size"`  // [3,10], default 5
	ThinkingEnabled    bool   `json:"thinking_enabled"`
	ThinkingBudget     int    `json:"thinking_budget"`
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
