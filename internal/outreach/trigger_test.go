package outreach

import (
	"context"
	"errors"
	"testing"

	"github.com/mohammad-safakhou/opsctl/internal/metrics"
	"github.com/mohammad-safakhou/opsctl/internal/n8n"
	"github.com/mohammad-safakhou/opsctl/internal/store"
	"go.uber.org/zap"
)

func TestTriggerQueuesProspects(t *testing.T) {
	c := activeCampaign()
	c.FollowUps = []string{"Bumping this", "Last note"}
	st := newFakeStore(c,
		prospect("p1", "Ada", "https://www.linkedin.com/in/ada/", ""),
		prospect("p2", "Alan", "https://www.linkedin.com/in/alan/", "ACo2"),
	)
	wh := &fakeWebhook{}
	tr := &Triggerer{Store: st, Webhook: wh, Metrics: metrics.New(), Logger: zap.NewNop()}

	res, err := tr.Trigger(context.Background(), TriggerOptions{CampaignID: "c1", AccountID: "acc-1"})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if res.Queued != 2 || st.statuses["p1"] != store.ProspectQueued {
		t.Fatalf("prospects not queued: %+v %v", res, st.statuses)
	}
	payload, ok := wh.payload.(n8n.CampaignPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", wh.payload)
	}
	if payload.AccountID != "acc-1" || len(payload.Prospects) != 2 || len(payload.Templates.FollowUps) != 2 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.Templates.ConnectionRequest != c.ConnectionMessage {
		t.Fatalf("expected stored connection message, got %q", payload.Templates.ConnectionRequest)
	}
}

func TestTriggerTemplateOverrideAndDryRun(t *testing.T) {
	st := newFakeStore(activeCampaign(), prospect("p1", "Ada", "https://www.linkedin.com/in/ada/", ""))
	wh := &fakeWebhook{}
	tr := &Triggerer{Store: st, Webhook: wh}

	tpl := &n8n.Templates{ConnectionRequest: "Override {{first_name}}"}
	res, err := tr.Trigger(context.Background(), TriggerOptions{CampaignID: "c1", Templates: tpl, DryRun: true})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if res.Payload.Templates.ConnectionRequest != "Override {{first_name}}" || !res.Payload.DryRun {
		t.Fatalf("unexpected payload %+v", res.Payload)
	}
	if wh.payload != nil || len(st.statuses) != 0 {
		t.Fatal("dry run must not post or write")
	}
}

func TestTriggerWebhookFailureLeavesProspects(t *testing.T) {
	st := newFakeStore(activeCampaign(), prospect("p1", "Ada", "https://www.linkedin.com/in/ada/", ""))
	tr := &Triggerer{Store: st, Webhook: &fakeWebhook{err: errors.New("502 Bad Gateway")}}
	if _, err := tr.Trigger(context.Background(), TriggerOptions{CampaignID: "c1"}); err == nil {
		t.Fatal("expected webhook error")
	}
	if len(st.queued) != 0 {
		t.Fatal("prospects must stay approved when the webhook fails")
	}
}
