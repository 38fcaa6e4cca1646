package apiclient

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Sentinel error kinds the core distinguishes (§7). Wrapped at this
// boundary with github.com/pkg/errors so callers retain a stack trace for
// whatever transport failure triggered the classification.
var (
	ErrAuthFailed      = errors.New("apiclient: authentication failed")
	ErrRateLimited     = errors.New("apiclient: rate limited")
	ErrContextTooLong  = errors.New("apiclient: context too long")
	ErrModelUnknown    = errors.New("apiclient: model not recognised")
	ErrTransient       = errors.New("apiclient: transient transport error")
	ErrStreamCancelled = errors.New("apiclient: stream cancelled")
)

// classify maps a raw SDK/transport error to one of the sentinel kinds
// above by matching substrings, since the anthropic-sdk-go error types
// don't expose a clean status-code surface everywhere transport failures
// originate (dial errors, timeouts).
func classify(err error) error {
	if err == nil {
		return nil
	}

	s := strings.ToLower(err.Error())

	switch {
	case containsAny(s, "401", "403", "unauthorized", "invalid api key", "forbidden", "authentication"):
		return errors.Wrap(ErrAuthFailed, err.Error())
	case containsAny(s, "429", "rate limit", "too many requests", "quota"):
		return errors.Wrap(ErrRateLimited, err.Error())
	case containsAny(s, "context length", "too many tokens", "max tokens", "prompt is too long", "token limit"):
		return errors.Wrap(ErrContextTooLong, err.Error())
	case containsAny(s, "model not found", "model:", "404"):
		return errors.Wrap(ErrModelUnknown, err.Error())
	case containsAny(s, "connection", "eof", "timeout", "dial", "refused", "reset by peer", "5xx", "502", "503", "504"):
		return errors.Wrap(ErrTransient, err.Error())
	default:
		return err
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// isRetryable reports whether chat should retry pre-emission (§4.5, §7):
// transient transport failures only. Rate-limit errors are not retried by
// this loop; they are returned to the caller as they are.
func isRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

func fmtRetry(attempt int, err error) string {
	return fmt.Sprintf("apiclient: chat attempt %d failed: %v", attempt, err)
}
