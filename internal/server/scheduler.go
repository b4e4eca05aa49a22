package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/mohammad-safakhou/opsctl/internal/audit"
	"github.com/mohammad-safakhou/opsctl/internal/lock"
	"go.uber.org/zap"
)

const auditLockKey = "sched:audit"

// Auditor runs the audit registry.
type Auditor interface {
	Run(ctx context.Context, names ...string) ([]audit.Finding, error)
}

// Scheduler runs every audit check on a cron schedule. The redis lock keeps
// several serve instances from auditing at the same time.
type Scheduler struct {
	Auditor  Auditor
	Locker   lock.Locker
	Schedule string
	LockTTL  time.Duration
	Logger   *zap.Logger
	Now      func() time.Time

	expr *cronexpr.Expression
}

func NewScheduler(a Auditor, l lock.Locker, schedule string, logger *zap.Logger) (*Scheduler, error) {
	expr, err := cronexpr.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("server.audit_schedule %q: %w", schedule, err)
	}
	if l == nil {
		l = lock.NopLocker{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		Auditor:  a,
		Locker:   l,
		Schedule: schedule,
		LockTTL:  10 * time.Minute,
		Logger:   logger,
		Now:      time.Now,
		expr:     expr,
	}, nil
}

// Next returns the first run time strictly after from.
func (s *Scheduler) Next(from time.Time) time.Time {
	return s.expr.Next(from)
}

// Start blocks, running the audit at each scheduled time until ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	for {
		next := s.Next(s.Now())
		if next.IsZero() {
			s.Logger.Warn("audit schedule has no future runs", zap.String("schedule", s.Schedule))
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one audit pass if no other instance holds the lock.
func (s *Scheduler) Tick(ctx context.Context) []audit.Finding {
	release, err := s.Locker.Acquire(ctx, auditLockKey, s.LockTTL)
	if errors.Is(err, lock.ErrLocked) {
		s.Logger.Debug("scheduled audit skipped, lock held")
		return nil
	}
	if err != nil {
		s.Logger.Error("scheduled audit lock", zap.Error(err))
		return nil
	}
	defer release()

	findings, err := s.Auditor.Run(ctx)
	if err != nil {
		s.Logger.Error("scheduled audit", zap.Error(err))
		return nil
	}
	for _, f := range findings {
		switch {
		case f.Err != nil:
			s.Logger.Error("audit check failed", zap.String("check", f.Check), zap.Error(f.Err))
		case f.Count > 0:
			s.Logger.Warn("audit findings", zap.String("check", f.Check), zap.Int("count", f.Count), zap.Strings("samples", f.Samples))
		}
	}
	return findings
}
