package process

import (
	"strings"
	"time"
)

// DrainOptions bounds one polling burst.
type DrainOptions struct {
	// MaxAttempts is the number of receives attempted per burst.
	MaxAttempts int
	// Wait is how long each attempt waits for a chunk. Zero makes every
	// attempt non-blocking.
	Wait time.Duration
}

// DefaultDrainOptions returns the burst used by interactive pollers: ten
// attempts of up to 10ms, so a tick never blocks for more than 100ms.
func DefaultDrainOptions() DrainOptions {
	return DrainOptions{MaxAttempts: 10, Wait: 10 * time.Millisecond}
}

// Drain collects whatever ch delivers within one bounded burst and reports
// whether ch was closed. It performs up to MaxAttempts receives, each
// waiting at most Wait, and returns early only when ch is closed.
func Drain(ch <-chan string, opts DrainOptions) (string, bool) {
	attempts := opts.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var sb strings.Builder
	var timer *time.Timer
	if opts.Wait > 0 {
		timer = time.NewTimer(opts.Wait)
		defer timer.Stop()
	}

	for i := 0; i < attempts; i++ {
		if timer == nil {
			select {
			case chunk, ok := <-ch:
				if !ok {
					return sb.String(), true
				}
				sb.WriteString(chunk)
			default:
			}
			continue
		}

		// Reset discards any stale expiry (Go 1.23 timer semantics).
		if i > 0 {
			timer.Reset(opts.Wait)
		}
		select {
		case chunk, ok := <-ch:
			timer.Stop()
			if !ok {
				return sb.String(), true
			}
			sb.WriteString(chunk)
		case <-timer.C:
		}
	}
	return sb.String(), false
}
