package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mohammad-safakhou/opsctl/internal/metrics"
	"github.com/mohammad-safakhou/opsctl/internal/store"
	"go.uber.org/zap"
)

var (
	ErrUnknownCheck = errors.New("unknown check")
	ErrNoRepair     = errors.New("check has no automatic repair")
)

// Store is the set of audit queries and repairs.
type Store interface {
	FindOrphanMembers(ctx context.Context, limit int) (store.AuditResult, error)
	FindCampaignsWithoutWorkspace(ctx context.Context, limit int) (store.AuditResult, error)
	FindProspectStatusMismatch(ctx context.Context, limit int) (store.AuditResult, error)
	FindDuplicateProspects(ctx context.Context, limit int) (store.AuditResult, error)
	FindUsersWithoutWorkspace(ctx context.Context, limit int) (store.AuditResult, error)
	FindStaleApprovalSessions(ctx context.Context, before time.Time, limit int) (store.AuditResult, error)

	DeleteOrphanMembers(ctx context.Context, apply bool) (int64, error)
	FixProspectStatusMismatch(ctx context.Context, apply bool) (int64, error)
	DeleteDuplicateProspects(ctx context.Context, apply bool) (int64, error)
	ExpireApprovalSessions(ctx context.Context, before time.Time, apply bool) (int64, error)
}

// Check is one consistency rule. Repair is nil when fixing the problem
// needs a human decision.
type Check struct {
	Name        string
	Description string
	Hint        string
	Find        func(ctx context.Context, st Store, opts Options) (store.AuditResult, error)
	Repair      func(ctx context.Context, st Store, opts Options, apply bool) (int64, error)
}

type Options struct {
	SampleLimit int
	StaleAfter  time.Duration
	Now         func() time.Time
}

func (o Options) cutoff() time.Time {
	now := time.Now
	if o.Now != nil {
		now = o.Now
	}
	stale := o.StaleAfter
	if stale <= 0 {
		stale = 7 * 24 * time.Hour
	}
	return now().Add(-stale)
}

func (o Options) limit() int {
	if o.SampleLimit <= 0 {
		return 5
	}
	return o.SampleLimit
}

var checks = []Check{
	{
		Name:        "orphan-members",
		Description: "workspace memberships pointing at a missing workspace or user",
		Hint:        "run `opsctl repair orphan-members --apply` to delete them",
		Find: func(ctx context.Context, st Store, o Options) (store.AuditResult, error) {
			return st.FindOrphanMembers(ctx, o.limit())
		},
		Repair: func(ctx context.Context, st Store, _ Options, apply bool) (int64, error) {
			return st.DeleteOrphanMembers(ctx, apply)
		},
	},
	{
		Name:        "campaigns-without-workspace",
		Description: "campaigns whose workspace no longer exists",
		Hint:        "reassign them in the application or delete them by hand",
		Find: func(ctx context.Context, st Store, o Options) (store.AuditResult, error) {
			return st.FindCampaignsWithoutWorkspace(ctx, o.limit())
		},
	},
	{
		Name:        "prospect-status-mismatch",
		Description: "prospects whose status disagrees with contacted_at",
		Hint:        "run `opsctl repair prospect-status-mismatch --apply` to align status with contacted_at",
		Find: func(ctx context.Context, st Store, o Options) (store.AuditResult, error) {
			return st.FindProspectStatusMismatch(ctx, o.limit())
		},
		Repair: func(ctx context.Context, st Store, _ Options, apply bool) (int64, error) {
			return st.FixProspectStatusMismatch(ctx, apply)
		},
	},
	{
		Name:        "duplicate-prospects",
		Description: "prospects repeating a profile url within one campaign",
		Hint:        "run `opsctl repair duplicate-prospects --apply` to keep only the oldest row",
		Find: func(ctx context.Context, st Store, o Options) (store.AuditResult, error) {
			return st.FindDuplicateProspects(ctx, o.limit())
		},
		Repair: func(ctx context.Context, st Store, _ Options, apply bool) (int64, error) {
			return st.DeleteDuplicateProspects(ctx, apply)
		},
	},
	{
		Name:        "users-without-workspace",
		Description: "users that belong to no workspace and cannot sign in to anything",
		Hint:        "attach them with `opsctl member add <email> <workspace-id>` or delete them with `opsctl user delete`",
		Find: func(ctx context.Context, st Store, o Options) (store.AuditResult, error) {
			return st.FindUsersWithoutWorkspace(ctx, o.limit())
		},
	},
	{
		Name:        "stale-approvals",
		Description: "approval sessions left active past the staleness window",
		Hint:        "run `opsctl repair stale-approvals --apply` to expire them",
		Find: func(ctx context.Context, st Store, o Options) (store.AuditResult, error) {
			return st.FindStaleApprovalSessions(ctx, o.cutoff(), o.limit())
		},
		Repair: func(ctx context.Context, st Store, o Options, apply bool) (int64, error) {
			return st.ExpireApprovalSessions(ctx, o.cutoff(), apply)
		},
	},
}

// Checks returns the registered checks in run order.
func Checks() []Check {
	out := make([]Check, len(checks))
	copy(out, checks)
	return out
}

// Lookup finds a check by name.
func Lookup(name string) (Check, error) {
	for _, c := range checks {
		if c.Name == name {
			return c, nil
		}
	}
	return Check{}, fmt.Errorf("%q: %w (known: %v)", name, ErrUnknownCheck, Names())
}

func Names() []string {
	names := make([]string, 0, len(checks))
	for _, c := range checks {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

type Finding struct {
	Check       string
	Description string
	Count       int
	Samples     []string
	Hint        string
	Repairable  bool
	Err         error
}

func (f Finding) OK() bool { return f.Err == nil && f.Count == 0 }

type Runner struct {
	Store   Store
	Options Options
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Run executes the named checks, or all of them when names is empty. A
// failing query is reported on its finding and the remaining checks still
// run; the returned error only covers unknown names.
func (r *Runner) Run(ctx context.Context, names ...string) ([]Finding, error) {
	selected, err := selectChecks(names)
	if err != nil {
		return nil, err
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	findings := make([]Finding, 0, len(selected))
	for _, c := range selected {
		f := Finding{Check: c.Name, Description: c.Description, Repairable: c.Repair != nil}
		res, err := c.Find(ctx, r.Store, r.Options)
		if err != nil {
			f.Err = err
			logger.Error("audit check failed", zap.String("check", c.Name), zap.Error(err))
		} else {
			f.Count = res.Count
			f.Samples = res.Samples
			if res.Count > 0 {
				f.Hint = c.Hint
			}
			r.Metrics.Findings(c.Name, res.Count)
		}
		findings = append(findings, f)
	}
	return findings, nil
}

func selectChecks(names []string) ([]Check, error) {
	if len(names) == 0 {
		return Checks(), nil
	}
	out := make([]Check, 0, len(names))
	for _, n := range names {
		c, err := Lookup(n)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

type RepairResult struct {
	Check   string
	Rows    int64
	Applied bool
}

type Repairer struct {
	Store   Store
	Options Options
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Repair fixes the rows a check reports. With apply false the change is
// rolled back and only the row count is returned.
func (r *Repairer) Repair(ctx context.Context, name string, apply bool) (RepairResult, error) {
	c, err := Lookup(name)
	if err != nil {
		return RepairResult{}, err
	}
	if c.Repair == nil {
		return RepairResult{}, fmt.Errorf("%s: %w; %s", name, ErrNoRepair, c.Hint)
	}
	n, err := c.Repair(ctx, r.Store, r.Options, apply)
	if err != nil {
		return RepairResult{}, fmt.Errorf("repair %s: %w", name, err)
	}
	if apply {
		r.Metrics.RepairedRows(name, n)
	}
	if r.Logger != nil {
		r.Logger.Info("repair finished", zap.String("check", name), zap.Int64("rows", n), zap.Bool("applied", apply))
	}
	return RepairResult{Check: name, Rows: n, Applied: apply}, nil
}
