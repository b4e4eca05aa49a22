package outreach

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/mohammad-safakhou/opsctl/internal/lock"
	"github.com/mohammad-safakhou/opsctl/internal/n8n"
	"github.com/mohammad-safakhou/opsctl/internal/store"
	"github.com/mohammad-safakhou/opsctl/internal/unipile"
)

type fakeStore struct {
	campaign   store.Campaign
	accounts   []store.WorkspaceAccount
	contacted  int
	prospects  []store.Prospect
	gotLimit   int
	statuses   map[string]string
	errors     map[string]string
	contactedP map[string]string
	queued     []string
}

func newFakeStore(c store.Campaign, prospects ...store.Prospect) *fakeStore {
	return &fakeStore{
		campaign:   c,
		prospects:  prospects,
		statuses:   map[string]string{},
		errors:     map[string]string{},
		contactedP: map[string]string{},
	}
}

func (f *fakeStore) GetCampaign(_ context.Context, id string) (store.Campaign, error) {
	if id != f.campaign.ID {
		return store.Campaign{}, fmt.Errorf("campaign %s: %w", id, store.ErrNotFound)
	}
	return f.campaign, nil
}

func (f *fakeStore) ListWorkspaceAccounts(context.Context, string) ([]store.WorkspaceAccount, error) {
	return f.accounts, nil
}

func (f *fakeStore) CountContactedSince(context.Context, string, time.Time) (int, error) {
	return f.contacted, nil
}

func (f *fakeStore) ListProspectsByStatus(_ context.Context, _ string, statuses []string, limit int) ([]store.Prospect, error) {
	f.gotLimit = limit
	var out []store.Prospect
	for _, p := range f.prospects {
		status := p.Status
		if s, ok := f.statuses[p.ID]; ok {
			status = s
		}
		if !slices.Contains(statuses, status) {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateProspectStatus(_ context.Context, id, status, errMsg string) error {
	f.statuses[id] = status
	f.errors[id] = errMsg
	return nil
}

func (f *fakeStore) MarkProspectContacted(_ context.Context, id, providerID string, _ time.Time) error {
	f.statuses[id] = store.ProspectConnectionRequested
	f.contactedP[id] = providerID
	return nil
}

func (f *fakeStore) SetProspectsStatus(_ context.Context, ids []string, status string) (int64, error) {
	for _, id := range ids {
		f.statuses[id] = status
	}
	f.queued = append(f.queued, ids...)
	return int64(len(ids)), nil
}

type fakeMessenger struct {
	profiles map[string]string
	sendErr  map[string]error
	sent     []unipile.Invitation
	lookups  int
}

func (m *fakeMessenger) GetProfile(_ context.Context, _ string, identifier string) (unipile.Profile, error) {
	m.lookups++
	id, ok := m.profiles[identifier]
	if !ok {
		return unipile.Profile{}, fmt.Errorf("get profile %s: %w", identifier, unipile.ErrNotFound)
	}
	return unipile.Profile{ProviderID: id, PublicIdentifier: identifier}, nil
}

func (m *fakeMessenger) SendInvitation(_ context.Context, inv unipile.Invitation) (unipile.InvitationResult, error) {
	if err := m.sendErr[inv.ProviderID]; err != nil {
		return unipile.InvitationResult{}, err
	}
	m.sent = append(m.sent, inv)
	return unipile.InvitationResult{InvitationID: "inv-" + inv.ProviderID}, nil
}

type memLocker struct {
	held map[string]bool
	seen map[string]bool
}

func newMemLocker() *memLocker {
	return &memLocker{held: map[string]bool{}, seen: map[string]bool{}}
}

func (l *memLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if l.held[key] {
		return nil, fmt.Errorf("%s: %w", key, lock.ErrLocked)
	}
	l.held[key] = true
	return func() { delete(l.held, key) }, nil
}

func (l *memLocker) Seen(_ context.Context, key string) (bool, error) { return l.seen[key], nil }

func (l *memLocker) MarkSeen(_ context.Context, key string, _ time.Duration) error {
	l.seen[key] = true
	return nil
}

type fakeWebhook struct {
	payload any
	err     error
}

func (w *fakeWebhook) CampaignPath() string { return "campaign-outreach" }

func (w *fakeWebhook) Trigger(_ context.Context, _ string, payload any) (n8n.Response, error) {
	if w.err != nil {
		return n8n.Response{}, w.err
	}
	w.payload = payload
	return n8n.Response{StatusCode: 200, Body: `{"message":"Workflow was started"}`}, nil
}
