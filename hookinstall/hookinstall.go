// Package hookinstall installs host hooks that may only become available some time after
// startup. Installation is retried at a fixed interval up to a fixed number of attempts,
// after which the hook stays disabled for the rest of the process lifetime.
package hookinstall

import (
	"club-link/applog"
	"club-link/host"
	"context"
	"errors"
	"go.uber.org/zap"
	"sync"
	"time"
)

const (
	DefaultInterval    = time.Second
	DefaultMaxAttempts = 10
)

type State int

const (
	Pending State = iota
	Installed
	Disabled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Installed:
		return "installed"
	case Disabled:
		return "disabled"
	default:
		return "unknown"
	}
}

type Installer struct {
	Interval    time.Duration
	MaxAttempts int

	mu     sync.Mutex
	states map[string]State
}

func New(interval time.Duration, maxAttempts int) *Installer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Installer{
		Interval:    interval,
		MaxAttempts: maxAttempts,
		states:      make(map[string]State),
	}
}

// Install calls install until it succeeds, fails with an error other than
// host.ErrHookUnavailable, or MaxAttempts retries have been spent. The first attempt is
// synchronous; retries run in the background and Install returns immediately.
// A hook already installed or disabled is never attempted again.
func (i *Installer) Install(ctx context.Context, name string, install func() error) {
	i.mu.Lock()
	if _, seen := i.states[name]; seen {
		i.mu.Unlock()
		return
	}
	i.states[name] = Pending
	i.mu.Unlock()

	if i.attempt(name, 0, install) {
		return
	}
	go i.retry(ctx, name, install)
}

func (i *Installer) retry(ctx context.Context, name string, install func() error) {
	ticker := time.NewTicker(i.Interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if i.attempt(name, attempt, install) {
			return
		}
	}
}

// attempt reports whether installation reached a final state.
func (i *Installer) attempt(name string, attempt int, install func() error) bool {
	err := install()
	switch {
	case err == nil:
		i.setState(name, Installed)
		applog.Debug("Host hook installed", zap.String("hook", name), zap.Int("attempt", attempt))
		return true
	case !errors.Is(err, host.ErrHookUnavailable):
		i.setState(name, Disabled)
		applog.Warn("Host hook installation failed", zap.String("hook", name), zap.Error(err))
		return true
	case attempt >= i.MaxAttempts:
		i.setState(name, Disabled)
		applog.Warn("Host hook still unavailable, giving up",
			zap.String("hook", name),
			zap.Int("attempts", attempt+1),
		)
		return true
	default:
		return false
	}
}

func (i *Installer) setState(name string, state State) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.states[name] = state
}

func (i *Installer) State(name string) State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.states[name]
}
