package n8n

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/mohammad-safakhou/opsctl/config"
	"github.com/mohammad-safakhou/opsctl/internal/httpclient"
	"gopkg.in/yaml.v3"
)

// Response is what the workflow runner answered.
type Response struct {
	StatusCode int
	Body       string
}

type Client struct {
	baseURL      string
	campaignPath string
	header       [2]string
	http         *httpclient.Client
}

func New(cfg config.N8NConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.WebhookURL, "/"),
		campaignPath: cfg.CampaignPath,
		header:       [2]string{cfg.HeaderName, cfg.HeaderValue},
		http:         httpclient.New(cfg.Timeout, 0, 0),
	}, nil
}

// CampaignPath is the webhook path for campaign hand-offs.
func (c *Client) CampaignPath() string { return c.campaignPath }

// Trigger POSTs payload as JSON to the webhook at path. Webhooks are
// fire-and-forget so the call is never retried.
func (c *Client) Trigger(ctx context.Context, path string, payload any) (Response, error) {
	url := c.baseURL
	if p := strings.Trim(path, "/"); p != "" {
		url += "/" + p
	}
	headers := map[string]string{}
	if c.header[0] != "" {
		headers[c.header[0]] = c.header[1]
	}
	resp, err := c.http.Do(ctx, http.MethodPost, url, headers, payload)
	if err != nil {
		return Response{}, fmt.Errorf("trigger %s: %w", url, err)
	}
	return Response{StatusCode: resp.StatusCode, Body: string(resp.Body)}, nil
}

type FollowUp struct {
	DelayDays int    `json:"delay_days" yaml:"delay_days"`
	Message   string `json:"message" yaml:"message"`
}

// Templates are the messages the workflow sends for a campaign.
type Templates struct {
	ConnectionRequest string     `json:"connection_request" yaml:"connection_request"`
	FollowUps         []FollowUp `json:"follow_ups,omitempty" yaml:"follow_ups"`
}

type ProspectPayload struct {
	ID          string `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Company     string `json:"company"`
	LinkedInURL string `json:"linkedin_url"`
	ProviderID  string `json:"provider_id,omitempty"`
}

type CampaignPayload struct {
	CampaignID  string            `json:"campaign_id"`
	WorkspaceID string            `json:"workspace_id"`
	AccountID   string            `json:"account_id,omitempty"`
	Prospects   []ProspectPayload `json:"prospects"`
	Templates   Templates         `json:"templates"`
	DryRun      bool              `json:"dry_run"`
}

// LoadTemplates reads a YAML template file:
//
//	connection_request: "Hi {{first_name}}, ..."
//	follow_ups:
//	  - delay_days: 3
//	    message: "..."
func LoadTemplates(path string) (Templates, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Templates{}, err
	}
	var t Templates
	if err := yaml.Unmarshal(b, &t); err != nil {
		return Templates{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if strings.TrimSpace(t.ConnectionRequest) == "" {
		return Templates{}, fmt.Errorf("%s: connection_request required", path)
	}
	for i, f := range t.FollowUps {
		if f.DelayDays < 0 {
			return Templates{}, fmt.Errorf("%s: follow_ups[%d].delay_days cannot be negative", path, i)
		}
	}
	return t, nil
}
