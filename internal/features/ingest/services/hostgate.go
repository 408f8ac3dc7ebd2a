package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrGateDeadline is returned when the wait for a host would outlast the
// caller's deadline. It wraps context.DeadlineExceeded.
var ErrGateDeadline = fmt.Errorf("host spacing wait exceeds deadline: %w", context.DeadlineExceeded)

// HostGate spaces requests to the same host. One gate is shared by every job
// in the process, so two workers hitting one host still queue behind each
// other.
type HostGate struct {
	spacing  time.Duration
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHostGate creates a gate allowing one request per host every spacing.
// A zero spacing disables gating.
func NewHostGate(spacing time.Duration) *HostGate {
	return &HostGate{
		spacing:  spacing,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until a request to host may start or ctx is done
func (g *HostGate) Wait(ctx context.Context, host string) error {
	if g == nil || g.spacing <= 0 {
		return ctx.Err()
	}
	if err := g.limiter(host).Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// The limiter refuses up front when the deadline falls before the slot.
		return ErrGateDeadline
	}
	return nil
}

func (g *HostGate) limiter(host string) *rate.Limiter {
	host = strings.ToLower(host)

	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Every(g.spacing), 1)
		g.limiters[host] = l
	}
	return l
}
