package unipile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/mohammad-safakhou/opsctl/config"
	"github.com/mohammad-safakhou/opsctl/internal/httpclient"
)

var (
	ErrRateLimited    = errors.New("outreach provider rate limited")
	ErrAlreadyInvited = errors.New("invitation already sent")
	ErrNotFound       = errors.New("profile not found")
)

// MaxInvitationMessage is the provider's limit on the invitation note.
const MaxInvitationMessage = 300

type Account struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
	Sources   []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"sources"`
}

// Status is the first source status, "OK" for a healthy connection.
func (a Account) Status() string {
	if len(a.Sources) == 0 {
		return ""
	}
	return a.Sources[0].Status
}

type Profile struct {
	ProviderID       string `json:"provider_id"`
	PublicIdentifier string `json:"public_identifier"`
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	Headline         string `json:"headline"`
	NetworkDistance  string `json:"network_distance"`
	InvitationStatus string `json:"invitation,omitempty"`
}

type Invitation struct {
	AccountID  string `json:"account_id"`
	ProviderID string `json:"provider_id"`
	Message    string `json:"message,omitempty"`
}

type InvitationResult struct {
	Object       string `json:"object"`
	InvitationID string `json:"invitation_id"`
}

type Client struct {
	baseURL string
	apiKey  string
	http    *httpclient.Client
}

func New(cfg config.UnipileConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		baseURL: BaseURL(cfg.DSN),
		apiKey:  cfg.APIKey,
		http:    httpclient.New(cfg.Timeout, cfg.Retries, 0),
	}, nil
}

// BaseURL turns a DSN such as "api8.unipile.com:13851" into an https URL.
func BaseURL(dsn string) string {
	dsn = strings.TrimRight(strings.TrimSpace(dsn), "/")
	if !strings.Contains(dsn, "://") {
		dsn = "https://" + dsn
	}
	return dsn
}

func (c *Client) headers() map[string]string {
	return map[string]string{"X-API-KEY": c.apiKey}
}

func classify(err error) error {
	var se *httpclient.StatusError
	if !errors.As(err, &se) {
		return err
	}
	switch {
	case se.Code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, se.Body)
	case se.Code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, se.Body)
	case se.Code == http.StatusUnprocessableEntity && (strings.Contains(se.Body, "already_invited") || strings.Contains(se.Body, "cannot_resend_yet")):
		return fmt.Errorf("%w: %s", ErrAlreadyInvited, se.Body)
	}
	return err
}

// ListAccounts follows the cursor until every connected account is read.
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	var all []Account
	cursor := ""
	for {
		q := url.Values{}
		q.Set("limit", "100")
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var page struct {
			Items  []Account `json:"items"`
			Cursor *string   `json:"cursor"`
		}
		if err := c.http.DoJSON(ctx, http.MethodGet, c.baseURL+"/api/v1/accounts?"+q.Encode(), c.headers(), nil, &page); err != nil {
			return nil, fmt.Errorf("list accounts: %w", classify(err))
		}
		all = append(all, page.Items...)
		if page.Cursor == nil || *page.Cursor == "" || len(page.Items) == 0 {
			return all, nil
		}
		cursor = *page.Cursor
	}
}

// GetProfile looks up a profile by public identifier or provider id.
func (c *Client) GetProfile(ctx context.Context, accountID, identifier string) (Profile, error) {
	if identifier == "" {
		return Profile{}, fmt.Errorf("profile identifier required")
	}
	q := url.Values{}
	q.Set("account_id", accountID)
	var p Profile
	if err := c.http.DoJSON(ctx, http.MethodGet, c.baseURL+"/api/v1/users/"+url.PathEscape(identifier)+"?"+q.Encode(), c.headers(), nil, &p); err != nil {
		return Profile{}, fmt.Errorf("get profile %s: %w", identifier, classify(err))
	}
	return p, nil
}

// SendInvitation sends a connection request. The note is cut to the
// provider's limit on a rune boundary.
func (c *Client) SendInvitation(ctx context.Context, inv Invitation) (InvitationResult, error) {
	if inv.AccountID == "" || inv.ProviderID == "" {
		return InvitationResult{}, fmt.Errorf("account_id and provider_id required")
	}
	inv.Message = TruncateMessage(inv.Message, MaxInvitationMessage)
	var res InvitationResult
	if err := c.http.DoJSON(ctx, http.MethodPost, c.baseURL+"/api/v1/users/invite", c.headers(), inv, &res); err != nil {
		return InvitationResult{}, fmt.Errorf("invite %s: %w", inv.ProviderID, classify(err))
	}
	return res, nil
}

func TruncateMessage(s string, max int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:max]))
}

// ProfileIdentifier extracts "jane-doe" from a profile URL such as
// https://www.linkedin.com/in/jane-doe/. Values without a /in/ segment are
// returned trimmed, so provider ids pass through unchanged.
func ProfileIdentifier(profileURL string) string {
	s := strings.TrimSpace(profileURL)
	if s == "" {
		return ""
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return strings.Trim(s, "/")
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "in" && parts[i+1] != "" {
			id, err := url.PathUnescape(parts[i+1])
			if err != nil {
				return parts[i+1]
			}
			return id
		}
	}
	return ""
}
