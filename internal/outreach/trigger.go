package outreach

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/opsctl/internal/metrics"
	"github.com/mohammad-safakhou/opsctl/internal/n8n"
	"github.com/mohammad-safakhou/opsctl/internal/store"
	"go.uber.org/zap"
)

// Webhook hands a campaign batch to the workflow runner.
type Webhook interface {
	Trigger(ctx context.Context, path string, payload any) (n8n.Response, error)
	CampaignPath() string
}

type TriggerOptions struct {
	CampaignID string
	AccountID  string
	Limit      int
	DryRun     bool
	// Templates overrides the campaign's stored messages when set.
	Templates *n8n.Templates
}

type TriggerResult struct {
	Payload  n8n.CampaignPayload
	Queued   int64
	Response n8n.Response
}

// Triggerer is the webhook alternative to Dispatcher: the workflow runner
// sends the invitations and reports back through the hook server.
type Triggerer struct {
	Store   Store
	Webhook Webhook
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

func (t *Triggerer) Trigger(ctx context.Context, opts TriggerOptions) (TriggerResult, error) {
	var out TriggerResult
	logger := t.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	campaign, err := t.Store.GetCampaign(ctx, opts.CampaignID)
	if err != nil {
		return out, err
	}
	if campaign.Status != store.CampaignActive {
		return out, fmt.Errorf("campaign %s is %s: %w", campaign.ID, campaign.Status, ErrCampaignInactive)
	}
	prospects, err := t.Store.ListProspectsByStatus(ctx, campaign.ID, []string{store.ProspectApproved}, opts.Limit)
	if err != nil {
		return out, fmt.Errorf("list approved prospects: %w", err)
	}

	out.Payload = BuildPayload(campaign, prospects, opts.AccountID, opts.Templates, opts.DryRun)
	if len(prospects) == 0 {
		logger.Info("no approved prospects to hand off", zap.String("campaign", campaign.ID))
		return out, nil
	}
	if opts.DryRun {
		return out, nil
	}

	resp, err := t.Webhook.Trigger(ctx, t.Webhook.CampaignPath(), out.Payload)
	if err != nil {
		t.Metrics.Webhook(metrics.ResultError)
		return out, err
	}
	t.Metrics.Webhook(metrics.ResultOK)
	out.Response = resp

	ids := make([]string, 0, len(prospects))
	for _, p := range prospects {
		ids = append(ids, p.ID)
	}
	n, err := t.Store.SetProspectsStatus(ctx, ids, store.ProspectQueued)
	if err != nil {
		return out, fmt.Errorf("webhook accepted but marking prospects queued failed: %w", err)
	}
	out.Queued = n
	logger.Info("campaign handed to workflow", zap.String("campaign", campaign.ID), zap.Int64("queued", n), zap.Int("status", resp.StatusCode))
	return out, nil
}

// BuildPayload assembles the webhook body. Stored follow-ups carry no delay,
// so the workflow's own default applies to them.
func BuildPayload(c store.Campaign, prospects []store.Prospect, accountID string, tpl *n8n.Templates, dryRun bool) n8n.CampaignPayload {
	p := n8n.CampaignPayload{
		CampaignID:  c.ID,
		WorkspaceID: c.WorkspaceID,
		AccountID:   accountID,
		Prospects:   make([]n8n.ProspectPayload, 0, len(prospects)),
		DryRun:      dryRun,
	}
	if tpl != nil {
		p.Templates = *tpl
	} else {
		p.Templates.ConnectionRequest = c.ConnectionMessage
		for _, m := range c.FollowUps {
			p.Templates.FollowUps = append(p.Templates.FollowUps, n8n.FollowUp{Message: m})
		}
	}
	for _, pr := range prospects {
		p.Prospects = append(p.Prospects, n8n.ProspectPayload{
			ID:          pr.ID,
			FirstName:   pr.FirstName,
			LastName:    pr.LastName,
			Company:     pr.Company,
			LinkedInURL: pr.LinkedInURL,
			ProviderID:  pr.ProviderID,
		})
	}
	return p
}
