package apiclient

import (
	"fmt"
	"os"
	"strings"

	"github.com/claudestation/claudestation/internal/config"
)

// AuthKind distinguishes x-api-key auth from Bearer-token auth.
type AuthKind int

const (
	AuthAPIKey AuthKind = iota
	AuthBearerToken
)

// ResolvedAuth holds the credential value ApiClient hands to the SDK's
// option.WithAPIKey / option.WithAuthToken.
type ResolvedAuth struct {
	Kind  AuthKind
	Value string
}

// ResolveAuth resolves Anthropic credentials from config. Resolution order:
// direct Bearer token, direct API key (both may be a literal or a
// ${{ .Env.VAR }}-style template the JSONC loader already expanded, or a
// bare ${VAR} left for us to resolve), then ANTHROPIC_API_KEY. Credential
// storage itself is out of scope (§1) — this only decides where the
// in-memory value comes from.
func ResolveAuth(cfg config.ProviderConfig) (ResolvedAuth, error) {
	if token := resolveEnvTemplate(cfg.Auth.Token); token != "" {
		return ResolvedAuth{Kind: AuthBearerToken, Value: token}, nil
	}
	if key := resolveEnvTemplate(cfg.Auth.APIKey); key != "" {
		return ResolvedAuth{Kind: AuthAPIKey, Value: key}, nil
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return ResolvedAuth{Kind: AuthAPIKey, Value: key}, nil
	}
	return ResolvedAuth{}, fmt.Errorf("apiclient: no credentials configured and ANTHROPIC_API_KEY not set")
}

func resolveEnvTemplate(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(strings.TrimSuffix(strings.TrimPrefix(v, "${"), "}"))
	}
	return v
}
