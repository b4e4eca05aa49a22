package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mohammad-safakhou/opsctl/config"
	"github.com/mohammad-safakhou/opsctl/internal/httpclient"
)

var (
	ErrUserExists   = errors.New("auth user already exists")
	ErrUserNotFound = errors.New("auth user not found")
)

const usersPerPage = 200

// User is the subset of the auth admin user object opsctl reads.
type User struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	LastSignInAt     *time.Time     `json:"last_sign_in_at,omitempty"`
	UserMetadata     map[string]any `json:"user_metadata,omitempty"`
}

type CreateUserParams struct {
	Email        string         `json:"email"`
	Password     string         `json:"password,omitempty"`
	EmailConfirm bool           `json:"email_confirm"`
	Metadata     map[string]any `json:"user_metadata,omitempty"`
}

type UpdateUserParams struct {
	Email        string         `json:"email,omitempty"`
	Password     string         `json:"password,omitempty"`
	EmailConfirm *bool          `json:"email_confirm,omitempty"`
	Metadata     map[string]any `json:"user_metadata,omitempty"`
}

// Client calls the auth admin API with service-role credentials.
type Client struct {
	BaseURL string
	token   string
	http    *httpclient.Client
}

// New builds a client from config. Without a service role key a short-lived
// service-role JWT is minted from the project's JWT secret.
func New(cfg config.SupabaseConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	token := cfg.ServiceRoleKey
	if token == "" {
		t, err := ServiceRoleToken(cfg.JWTSecret, time.Now(), time.Hour)
		if err != nil {
			return nil, err
		}
		token = t
	}
	return &Client{
		BaseURL: strings.TrimRight(cfg.URL, "/"),
		token:   token,
		http:    httpclient.New(cfg.Timeout, 2, 0),
	}, nil
}

// ServiceRoleToken signs an HS256 token carrying role=service_role.
func ServiceRoleToken(secret string, now time.Time, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("jwt secret required")
	}
	claims := jwt.MapClaims{
		"role": "service_role",
		"iss":  "supabase",
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign service role token: %w", err)
	}
	return signed, nil
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"apikey":        c.token,
		"Authorization": "Bearer " + c.token,
	}
}

func (c *Client) CreateUser(ctx context.Context, p CreateUserParams) (User, error) {
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	if p.Email == "" {
		return User{}, fmt.Errorf("email required")
	}
	var u User
	err := c.http.DoJSON(ctx, http.MethodPost, c.BaseURL+"/auth/v1/admin/users", c.headers(), p, &u)
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) && (se.Code == http.StatusUnprocessableEntity || se.Code == http.StatusConflict) && alreadyExists(se.Body) {
			return User{}, fmt.Errorf("%s: %w", p.Email, ErrUserExists)
		}
		return User{}, fmt.Errorf("create user %s: %w", p.Email, err)
	}
	return u, nil
}

func alreadyExists(body string) bool {
	b := strings.ToLower(body)
	return strings.Contains(b, "already") || strings.Contains(b, "email_exists")
}

// GetUserByEmail pages through the admin user list. The admin API has no
// email filter, so this is linear in the number of users.
func (c *Client) GetUserByEmail(ctx context.Context, email string) (User, error) {
	want := strings.ToLower(strings.TrimSpace(email))
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(usersPerPage))
		var out struct {
			Users []User `json:"users"`
		}
		if err := c.http.DoJSON(ctx, http.MethodGet, c.BaseURL+"/auth/v1/admin/users?"+q.Encode(), c.headers(), nil, &out); err != nil {
			return User{}, fmt.Errorf("list users page %d: %w", page, err)
		}
		for _, u := range out.Users {
			if strings.EqualFold(u.Email, want) {
				return u, nil
			}
		}
		if len(out.Users) < usersPerPage {
			return User{}, fmt.Errorf("%s: %w", email, ErrUserNotFound)
		}
	}
}

func (c *Client) UpdateUser(ctx context.Context, id string, p UpdateUserParams) (User, error) {
	var u User
	if err := c.http.DoJSON(ctx, http.MethodPut, c.BaseURL+"/auth/v1/admin/users/"+url.PathEscape(id), c.headers(), p, &u); err != nil {
		return User{}, fmt.Errorf("update user %s: %w", id, err)
	}
	return u, nil
}

func (c *Client) DeleteUser(ctx context.Context, id string) error {
	_, err := c.http.Do(ctx, http.MethodDelete, c.BaseURL+"/auth/v1/admin/users/"+url.PathEscape(id), c.headers(), nil)
	if err != nil {
		if httpclient.IsStatus(err, http.StatusNotFound) {
			return fmt.Errorf("%s: %w", id, ErrUserNotFound)
		}
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	return nil
}

// GenerateLink returns an action link of the given type (magiclink,
// recovery, invite) for email.
func (c *Client) GenerateLink(ctx context.Context, linkType, email string) (string, error) {
	switch linkType {
	case "magiclink", "recovery", "invite":
	default:
		return "", fmt.Errorf("unsupported link type %q", linkType)
	}
	var out struct {
		ActionLink string `json:"action_link"`
		Properties struct {
			ActionLink string `json:"action_link"`
		} `json:"properties"`
	}
	body := map[string]string{"type": linkType, "email": strings.ToLower(strings.TrimSpace(email))}
	if err := c.http.DoJSON(ctx, http.MethodPost, c.BaseURL+"/auth/v1/admin/generate_link", c.headers(), body, &out); err != nil {
		return "", fmt.Errorf("generate %s link: %w", linkType, err)
	}
	if out.ActionLink != "" {
		return out.ActionLink, nil
	}
	if out.Properties.ActionLink != "" {
		return out.Properties.ActionLink, nil
	}
	return "", fmt.Errorf("generate %s link: empty action link", linkType)
}
