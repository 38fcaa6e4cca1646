// Package pricing implements TokenTracker: the static model price table and
// the cost formula used to cost every API response (§4.2).
package pricing

import (
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/claudestation/claudestation/internal/store"
	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var modelsYAML []byte

// rate holds the per-million-token prices and cache multipliers for one
// model tier. Cache-read multiplier is fixed by the provider at 0.1; the
// cache-write multipliers vary by TTL (1.25x for 5 minutes, 2.0x for 1 hour).
type rate struct {
	InputPerMTok     float64 `yaml:"input_per_mtok"`
	OutputPerMTok    float64 `yaml:"output_per_mtok"`
	CacheReadMult    float64 `yaml:"cache_read_mult"`
	CacheWrite5mMult float64 `yaml:"cache_write_5m_mult"`
	CacheWrite1hMult float64 `yaml:"cache_write_1h_mult"`
	ContextWindow    int     `yaml:"context_window"`
}

// fallbackTier is used for unrecognised model IDs — the Sonnet tier, per
// §4.2: cost is still computed, it is simply an estimate rather than an
// error.
const fallbackTier = "claude-sonnet-4-6"

// TokenTracker holds the model → rate table and computes costs from it.
type TokenTracker struct {
	rates map[string]rate
}

// New loads the embedded model price table.
func New() (*TokenTracker, error) {
	var rates map[string]rate
	if err := yaml.Unmarshal(modelsYAML, &rates); err != nil {
		return nil, fmt.Errorf("parse embedded price table: %w", err)
	}
	return &TokenTracker{rates: rates}, nil
}

func (t *TokenTracker) rateFor(model string) rate {
	if r, ok := t.rates[model]; ok {
		return r
	}
	slog.Warn("pricing: unrecognised model, falling back to sonnet tier", "model", model)
	return t.rates[fallbackTier]
}

// Cost computes the USD cost of one API response per the formula in §4.2:
//
//	cost = (input_tokens  * input_price
//	      + output_tokens * output_price
//	      + cache_creation_tokens * input_price * W
//	      + cache_read_tokens     * input_price * R) / 1_000_000
//
// where R is always 0.1 and W depends on the project's cache TTL.
func (t *TokenTracker) Cost(model string, usage store.Usage, ttl store.CacheTTL) float64 {
	r := t.rateFor(model)

	writeMult := r.CacheWrite5mMult
	if ttl == store.CacheTTL1h {
		writeMult = r.CacheWrite1hMult
	}

	total := float64(usage.InputTokens)*r.InputPerMTok +
		float64(usage.OutputTokens)*r.OutputPerMTok +
		float64(usage.CacheCreationTokens)*r.InputPerMTok*writeMult +
		float64(usage.CacheReadTokens)*r.InputPerMTok*r.CacheReadMult

	return total / 1_000_000
}

// ContextWindow returns the model's context window in tokens, falling back
// to the Sonnet tier for unrecognised models.
func (t *TokenTracker) ContextWindow(model string) int {
	return t.rateFor(model).ContextWindow
}

// Color is an advisory hint for rendering a formatted cost string; it is
// not itself a UI concern.
type Color string

const (
	ColorGreen  Color = "green"
	ColorYellow Color = "yellow"
	ColorRed    Color = "red"
)

// FormatCost renders a USD amount as a short display string plus a colour
// hint: green under one cent, yellow under ten cents, red otherwise (§4.2).
func FormatCost(usd float64) (string, Color) {
	switch {
	case usd < 0.01:
		return fmt.Sprintf("$%.4f", usd), ColorGreen
	case usd < 0.10:
		return fmt.Sprintf("$%.3f", usd), ColorYellow
	default:
		return fmt.Sprintf("$%.2f", usd), ColorRed
	}
}
