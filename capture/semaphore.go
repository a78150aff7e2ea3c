package capture

import "log/slog"

// slots limits concurrent captures. A nil slots is unlimited.
type slots chan struct{}

func newSlots(max int) slots {
	if max <= 0 {
		return nil
	}
	slog.Info("capture concurrency limit initialized", slog.Int("max_concurrent", max))
	return make(slots, max)
}

// tryAcquire takes a slot without blocking. Returns false when all are taken.
func (s slots) tryAcquire() bool {
	if s == nil {
		return true
	}
	select {
	case s <- struct{}{}:
		return true
	default:
		return false
	}
}

// release frees a slot taken by tryAcquire.
func (s slots) release() {
	if s == nil {
		return
	}
	select {
	case <-s:
	default:
		// Should not happen unless mismatched acquire/release
		slog.Warn("capture slot release called without corresponding acquire")
	}
}

func (s slots) inUse() int { return len(s) }

func (s slots) capacity() int { return cap(s) }
