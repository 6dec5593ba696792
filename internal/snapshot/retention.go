package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// Retention prunes the store down to a fixed size on a cron schedule.
type Retention struct {
	store    *Store
	schedule string
	keep     int
	isDue    func(expr string, ref ...time.Time) (bool, error)
	now      func() time.Time
}

func NewRetention(store *Store, schedule string, keep int) (*Retention, error) {
	g := gronx.New()
	if !g.IsValid(schedule) {
		return nil, fmt.Errorf("snapshot retention: invalid schedule %q", schedule)
	}
	return &Retention{
		store:    store,
		schedule: schedule,
		keep:     keep,
		isDue:    g.IsDue,
		now:      time.Now,
	}, nil
}

// Run checks the schedule once a minute until ctx is done.
func (r *Retention) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Retention) tick() {
	due, err := r.isDue(r.schedule, r.now().Truncate(time.Minute))
	if err != nil {
		slog.Warn("snapshot retention schedule check failed", "schedule", r.schedule, "error", err)
		return
	}
	if !due {
		return
	}
	removed, err := r.store.Prune(r.keep)
	if err != nil {
		slog.Warn("snapshot retention failed", "dir", r.store.Dir(), "error", err)
		return
	}
	if removed > 0 {
		slog.Info("snapshot retention pruned images", "removed", removed, "keep", r.keep)
	}
}
