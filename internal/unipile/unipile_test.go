package unipile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/mohammad-safakhou/opsctl/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(config.UnipileConfig{DSN: srv.URL, APIKey: "key"})
	require.NoError(t, err)
	return c
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "https://api8.unipile.com:13851", BaseURL("api8.unipile.com:13851"))
	assert.Equal(t, "http://localhost:8080", BaseURL("http://localhost:8080/"))
}

func TestProfileIdentifier(t *testing.T) {
	cases := map[string]string{
		"https://www.linkedin.com/in/jane-doe/":       "jane-doe",
		"https://linkedin.com/in/jane-doe?trk=public": "jane-doe",
		"https://www.linkedin.com/in/j%C3%BCrgen-m/":  "jürgen-m",
		"ACoAAB1234":                                  "ACoAAB1234",
		"https://www.linkedin.com/company/acme":       "",
		"":                                            "",
	}
	for in, want := range cases {
		assert.Equal(t, want, ProfileIdentifier(in), in)
	}
}

func TestTruncateMessage(t *testing.T) {
	long := strings.Repeat("é", 350)
	got := TruncateMessage(long, MaxInvitationMessage)
	assert.Equal(t, MaxInvitationMessage, utf8.RuneCountInString(got))
	assert.Equal(t, "short", TruncateMessage("  short ", MaxInvitationMessage))
}

func TestListAccountsFollowsCursor(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "key", r.Header.Get("X-API-KEY"))
		if r.URL.Query().Get("cursor") == "" {
			_, _ = w.Write([]byte(`{"items":[{"id":"a1","name":"Jane","type":"LINKEDIN","sources":[{"id":"s1","status":"OK"}]}],"cursor":"next"}`))
			return
		}
		_, _ = w.Write([]byte(`{"items":[{"id":"a2","name":"Joe","type":"LINKEDIN"}],"cursor":null}`))
	})
	accounts, err := c.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "OK", accounts[0].Status())
	assert.Equal(t, "", accounts[1].Status())
	assert.Equal(t, 2, calls)
}

func TestGetProfile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/users/jane-doe", r.URL.Path)
		assert.Equal(t, "acc-1", r.URL.Query().Get("account_id"))
		_, _ = w.Write([]byte(`{"provider_id":"ACo1","public_identifier":"jane-doe","first_name":"Jane"}`))
	})
	p, err := c.GetProfile(context.Background(), "acc-1", "jane-doe")
	require.NoError(t, err)
	assert.Equal(t, "ACo1", p.ProviderID)
}

func TestSendInvitation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/users/invite", r.URL.Path)
		var inv Invitation
		require.NoError(t, json.NewDecoder(r.Body).Decode(&inv))
		assert.LessOrEqual(t, utf8.RuneCountInString(inv.Message), MaxInvitationMessage)
		_, _ = w.Write([]byte(`{"object":"UserInvitationSent","invitation_id":"inv-1"}`))
	})
	res, err := c.SendInvitation(context.Background(), Invitation{AccountID: "acc-1", ProviderID: "ACo1", Message: strings.Repeat("a", 400)})
	require.NoError(t, err)
	assert.Equal(t, "inv-1", res.InvitationID)
}

func TestSendInvitationErrors(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusTooManyRequests, `{"type":"errors/too_many_requests"}`, ErrRateLimited},
		{http.StatusUnprocessableEntity, `{"type":"errors/already_invited_recently"}`, ErrAlreadyInvited},
		{http.StatusUnprocessableEntity, `{"type":"errors/cannot_resend_yet"}`, ErrAlreadyInvited},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		})
		_, err := c.SendInvitation(context.Background(), Invitation{AccountID: "acc-1", ProviderID: "ACo1"})
		assert.True(t, errors.Is(err, tc.want), "status %d: got %v", tc.status, err)
	}
}

func TestSendInvitationValidates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := c.SendInvitation(context.Background(), Invitation{AccountID: "acc-1"})
	assert.Error(t, err)
}
