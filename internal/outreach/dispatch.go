package outreach

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/opsctl/config"
	"github.com/mohammad-safakhou/opsctl/internal/lock"
	"github.com/mohammad-safakhou/opsctl/internal/metrics"
	"github.com/mohammad-safakhou/opsctl/internal/store"
	"github.com/mohammad-safakhou/opsctl/internal/unipile"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrCampaignInactive = errors.New("campaign is not active")
	ErrDailyLimit       = errors.New("daily invitation limit reached")
	ErrNoAccount        = errors.New("no outreach account available")
)

// Outcomes recorded per prospect.
const (
	OutcomeSent           = "sent"
	OutcomeWouldSend      = "would-send"
	OutcomeAlreadyInvited = "already-invited"
	OutcomeDuplicate      = "duplicate"
	OutcomeFailed         = "failed"
)

// Store is the slice of the database dispatch needs.
type Store interface {
	GetCampaign(ctx context.Context, id string) (store.Campaign, error)
	ListWorkspaceAccounts(ctx context.Context, workspaceID string) ([]store.WorkspaceAccount, error)
	CountContactedSince(ctx context.Context, workspaceID string, since time.Time) (int, error)
	ListProspectsByStatus(ctx context.Context, campaignID string, statuses []string, limit int) ([]store.Prospect, error)
	UpdateProspectStatus(ctx context.Context, id, status, errMsg string) error
	MarkProspectContacted(ctx context.Context, id, providerID string, at time.Time) error
	SetProspectsStatus(ctx context.Context, ids []string, status string) (int64, error)
}

// Messenger sends connection requests.
type Messenger interface {
	GetProfile(ctx context.Context, accountID, identifier string) (unipile.Profile, error)
	SendInvitation(ctx context.Context, inv unipile.Invitation) (unipile.InvitationResult, error)
}

type Options struct {
	CampaignID string
	AccountID  string
	Limit      int
	DryRun     bool
	// Force dispatches a campaign that is not active.
	Force bool
}

type Result struct {
	ProspectID string
	Name       string
	Outcome    string
	Message    string
	Error      string
}

type Summary struct {
	CampaignID     string
	AccountID      string
	QuotaRemaining int
	Sent           int
	Skipped        int
	Failed         int
	// Stopped is set when the loop ended before the batch was exhausted.
	Stopped string
	DryRun  bool
	Results []Result
}

// Dispatcher sends connection requests for approved prospects one at a
// time, waiting on Limiter between calls.
type Dispatcher struct {
	Store     Store
	Messenger Messenger
	Locker    lock.Locker
	Metrics   *metrics.Metrics
	Limiter   *rate.Limiter
	Logger    *zap.Logger
	Config    config.OutreachConfig
	// DefaultAccountID is used when Options.AccountID is empty.
	DefaultAccountID string
	Now              func() time.Time
}

func NewDispatcher(st Store, m Messenger, l lock.Locker, met *metrics.Metrics, cfg config.OutreachConfig, logger *zap.Logger) *Dispatcher {
	cfg = cfg.Normalize()
	if l == nil {
		l = lock.NopLocker{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		Store:     st,
		Messenger: m,
		Locker:    l,
		Metrics:   met,
		Limiter:   rate.NewLimiter(rate.Every(cfg.InviteDelay), 1),
		Logger:    logger,
		Config:    cfg,
		Now:       time.Now,
	}
}

func (d *Dispatcher) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func (d *Dispatcher) Run(ctx context.Context, opts Options) (Summary, error) {
	sum := Summary{CampaignID: opts.CampaignID, DryRun: opts.DryRun}
	campaign, err := d.Store.GetCampaign(ctx, opts.CampaignID)
	if err != nil {
		return sum, err
	}
	if campaign.Status != store.CampaignActive && !opts.Force {
		return sum, fmt.Errorf("campaign %s is %s: %w", campaign.ID, campaign.Status, ErrCampaignInactive)
	}
	if strings.TrimSpace(campaign.ConnectionMessage) == "" {
		d.Logger.Warn("campaign has no connection message, sending bare invitations", zap.String("campaign", campaign.ID))
	}

	accountID, err := d.pickAccount(ctx, campaign, opts.AccountID)
	if err != nil {
		return sum, err
	}
	sum.AccountID = accountID

	release, err := d.Locker.Acquire(ctx, "campaign:"+campaign.ID, d.Config.LockTTL)
	if err != nil {
		return sum, err
	}
	defer release()

	now := d.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	sent, err := d.Store.CountContactedSince(ctx, campaign.WorkspaceID, dayStart)
	if err != nil {
		return sum, fmt.Errorf("count today's invitations: %w", err)
	}
	remaining := d.Config.DailyLimit - sent
	sum.QuotaRemaining = remaining
	if remaining <= 0 {
		return sum, fmt.Errorf("%d of %d sent today: %w", sent, d.Config.DailyLimit, ErrDailyLimit)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = d.Config.BatchSize
	}
	if limit > remaining {
		limit = remaining
	}
	prospects, err := d.Store.ListProspectsByStatus(ctx, campaign.ID, []string{store.ProspectApproved}, limit)
	if err != nil {
		return sum, fmt.Errorf("list approved prospects: %w", err)
	}
	d.Logger.Info("dispatching campaign",
		zap.String("campaign", campaign.ID),
		zap.String("account", accountID),
		zap.Int("prospects", len(prospects)),
		zap.Int("quota_remaining", remaining),
		zap.Bool("dry_run", opts.DryRun))

	for _, p := range prospects {
		if err := ctx.Err(); err != nil {
			sum.Stopped = "cancelled"
			break
		}
		res, stop, err := d.dispatchOne(ctx, campaign, accountID, p, opts.DryRun)
		if err != nil {
			return sum, err
		}
		sum.Results = append(sum.Results, res)
		switch res.Outcome {
		case OutcomeSent, OutcomeWouldSend:
			sum.Sent++
			sum.QuotaRemaining--
		case OutcomeFailed:
			sum.Failed++
		case "":
		default:
			sum.Skipped++
		}
		if stop != "" {
			sum.Stopped = stop
			break
		}
	}
	return sum, nil
}

// pickAccount prefers the explicit account, then the configured default,
// then the workspace's first active connected account.
func (d *Dispatcher) pickAccount(ctx context.Context, c store.Campaign, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if d.DefaultAccountID != "" {
		return d.DefaultAccountID, nil
	}
	if c.WorkspaceID == "" {
		return "", fmt.Errorf("campaign %s has no workspace: %w", c.ID, ErrNoAccount)
	}
	accounts, err := d.Store.ListWorkspaceAccounts(ctx, c.WorkspaceID)
	if err != nil {
		return "", fmt.Errorf("list workspace accounts: %w", err)
	}
	for _, a := range accounts {
		if a.Status == "active" && strings.EqualFold(a.Provider, c.Channel) {
			return a.AccountID, nil
		}
	}
	return "", fmt.Errorf("workspace %s: %w", c.WorkspaceID, ErrNoAccount)
}

func dedupKey(accountID string, p store.Prospect) string {
	id := unipile.ProfileIdentifier(p.LinkedInURL)
	if id == "" {
		id = p.ProviderID
	}
	if id == "" {
		id = p.ID
	}
	return "invite:" + accountID + ":" + strings.ToLower(id)
}

// dispatchOne handles a single prospect. A non-empty stop reason ends the
// batch; a returned error aborts the run.
func (d *Dispatcher) dispatchOne(ctx context.Context, c store.Campaign, accountID string, p store.Prospect, dryRun bool) (Result, string, error) {
	res := Result{ProspectID: p.ID, Name: p.FullName(), Message: RenderTemplate(c.ConnectionMessage, p)}
	log := d.Logger.With(zap.String("prospect", p.ID), zap.String("name", res.Name))
	key := dedupKey(accountID, p)

	seen, err := d.Locker.Seen(ctx, key)
	if err != nil {
		log.Warn("dedup lookup failed", zap.Error(err))
	}
	if seen {
		res.Outcome = OutcomeDuplicate
		if dryRun {
			return res, "", nil
		}
		d.Metrics.Invitation(metrics.ResultSkipped)
		log.Info("already invited from this account, skipping")
		// move it out of the approved queue so it stops taking batch slots
		if err := d.Store.UpdateProspectStatus(ctx, p.ID, store.ProspectSkipped, "already invited from this account"); err != nil {
			return res, "", fmt.Errorf("mark %s skipped: %w", p.ID, err)
		}
		return res, "", nil
	}

	if dryRun {
		res.Outcome = OutcomeWouldSend
		return res, "", nil
	}

	providerID := p.ProviderID
	ident := ""
	if providerID == "" {
		ident = unipile.ProfileIdentifier(p.LinkedInURL)
		if ident == "" {
			return d.fail(ctx, log, res, p.ID, errors.New("prospect has no profile url"))
		}
	}

	// one wait per prospect covers both the lookup and the invitation
	if err := d.Limiter.Wait(ctx); err != nil {
		return res, "cancelled", nil
	}
	if providerID == "" {
		profile, err := d.Messenger.GetProfile(ctx, accountID, ident)
		if err != nil {
			if errors.Is(err, unipile.ErrRateLimited) {
				log.Warn("rate limited during profile lookup, stopping", zap.Error(err))
				return res, "rate limited", nil
			}
			return d.fail(ctx, log, res, p.ID, err)
		}
		providerID = profile.ProviderID
		if providerID == "" {
			return d.fail(ctx, log, res, p.ID, errors.New("profile lookup returned no provider id"))
		}
	}

	_, err = d.Messenger.SendInvitation(ctx, unipile.Invitation{AccountID: accountID, ProviderID: providerID, Message: res.Message})
	switch {
	case err == nil:
		res.Outcome = OutcomeSent
		d.Metrics.Invitation(metrics.ResultSent)
		log.Info("connection request sent")
	case errors.Is(err, unipile.ErrAlreadyInvited):
		res.Outcome = OutcomeAlreadyInvited
		d.Metrics.Invitation(metrics.ResultSkipped)
		log.Info("invitation already pending")
	case errors.Is(err, unipile.ErrRateLimited):
		log.Warn("rate limited, stopping", zap.Error(err))
		return res, "rate limited", nil
	default:
		return d.fail(ctx, log, res, p.ID, err)
	}

	if err := d.Locker.MarkSeen(ctx, key, d.Config.DedupTTL); err != nil {
		log.Warn("record dedup key failed", zap.Error(err))
	}
	if err := d.Store.MarkProspectContacted(ctx, p.ID, providerID, d.now()); err != nil {
		return res, "", fmt.Errorf("record invitation for %s: %w", p.ID, err)
	}
	return res, "", nil
}

func (d *Dispatcher) fail(ctx context.Context, log *zap.Logger, res Result, id string, cause error) (Result, string, error) {
	res.Outcome = OutcomeFailed
	res.Error = cause.Error()
	d.Metrics.Invitation(metrics.ResultFailed)
	log.Warn("invitation failed", zap.Error(cause))
	if err := d.Store.UpdateProspectStatus(ctx, id, store.ProspectFailed, cause.Error()); err != nil {
		return res, "", fmt.Errorf("mark %s failed: %w", id, err)
	}
	return res, "", nil
}
