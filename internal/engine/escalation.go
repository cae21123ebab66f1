package engine

import (
	"context"
	"sync"
	"time"
)

// DefaultCheckInterval is how often an escalation loop re-evaluates due
// dates when nothing else wakes it.
const DefaultCheckInterval = time.Hour

// EscalationConfig controls the per-instance timeout loop.
type EscalationConfig struct {
	// CheckInterval is the nag interval: while a date stays overdue, a
	// fresh escalation fires on every wake. Zero means DefaultCheckInterval.
	CheckInterval time.Duration

	// DedupePerPurpose suppresses repeat notifications for a purpose that
	// already escalated once. The default (false) preserves the
	// re-notify-every-wake behavior: overdue dates keep nagging until
	// resolved.
	DedupePerPurpose bool
}

// escalationLoop is the cooperative timeout task for one instance. It is
// alive exactly while the instance is non-terminal and has an outstanding
// due date, sleeping until the next check and firing an escalation for each
// overdue purpose per wake. It holds no state that is not recoverable from
// the instance itself, so it can be restarted after a crash from the
// replayed due-date fields.
type escalationLoop struct {
	ex       *Executor
	interval time.Duration
	dedupe   bool

	wake chan struct{}
	quit chan struct{}

	once    sync.Once
	mu      sync.Mutex
	running bool
	fired   map[string]bool
}

func newEscalationLoop(ex *Executor, cfg EscalationConfig) *escalationLoop {
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return &escalationLoop{
		ex:       ex,
		interval: interval,
		dedupe:   cfg.DedupePerPurpose,
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		fired:    make(map[string]bool),
	}
}

// refresh pokes the loop after a committed transition: due dates may have
// appeared, moved, or gone away. It starts the loop on first use.
func (l *escalationLoop) refresh() {
	l.mu.Lock()
	if !l.running {
		dues, status := l.ex.dueDates()
		if l.ex.def.IsTerminal(status) || !hasDue(dues) {
			l.mu.Unlock()
			return
		}
		l.running = true
		l.mu.Unlock()
		go l.run()
		return
	}
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// stop terminates the loop. Safe to call more than once.
func (l *escalationLoop) stop() {
	l.once.Do(func() { close(l.quit) })
}

func (l *escalationLoop) run() {
	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	clock := l.ex.clock
	for {
		dues, status := l.ex.dueDates()
		if l.ex.def.IsTerminal(status) {
			return
		}
		if !hasDue(dues) {
			// Nothing to watch; park until a due date is set again.
			select {
			case <-l.wake:
				continue
			case <-l.quit:
				return
			}
		}

		wait := l.interval
		now := clock.Now()
		for _, due := range dues {
			if due.IsZero() {
				continue
			}
			if until := due.Sub(now); until > 0 && until < wait {
				wait = until
			}
		}

		select {
		case <-clock.After(wait):
		case <-l.wake:
			continue
		case <-l.quit:
			return
		}

		now = clock.Now()
		for purpose, due := range dues {
			if due.IsZero() || now.Before(due) {
				continue
			}
			if l.dedupe && l.fired[purpose] {
				continue
			}
			l.fired[purpose] = true
			l.ex.recordTimerFired(context.Background(), purpose, due)
		}
	}
}

func hasDue(dues map[string]time.Time) bool {
	for _, due := range dues {
		if !due.IsZero() {
			return true
		}
	}
	return false
}
