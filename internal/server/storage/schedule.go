package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

// ParseSchedule parses a standard five-field cron expression or a descriptor
// such as "@hourly", "@daily" or "@every 30m". Expressions that can never
// fire, such as "0 0 30 2 *", are rejected.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	if sched.Next(time.Now()).IsZero() {
		return nil, fmt.Errorf("invalid schedule %q: never fires", expr)
	}
	return sched, nil
}

// waitNext blocks until the next activation of sched according to clock.
// Returns false if ctx is cancelled first or sched has no next activation.
func waitNext(ctx context.Context, clock clockwork.Clock, sched cron.Schedule) bool {
	now := clock.Now()
	next := sched.Next(now)
	if next.IsZero() {
		return false
	}

	timer := clock.NewTimer(next.Sub(now))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
