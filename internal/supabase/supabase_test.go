package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mohammad-safakhou/opsctl/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(config.SupabaseConfig{URL: srv.URL + "/", ServiceRoleKey: "srk"})
	require.NoError(t, err)
	return c
}

func TestServiceRoleToken(t *testing.T) {
	now := time.Now()
	signed, err := ServiceRoleToken("secret", now, time.Hour)
	require.NoError(t, err)

	tok, err := jwt.Parse(signed, func(*jwt.Token) (any, error) { return []byte("secret"), nil },
		jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	claims := tok.Claims.(jwt.MapClaims)
	assert.Equal(t, "service_role", claims["role"])
	assert.Equal(t, "supabase", claims["iss"])

	_, err = ServiceRoleToken("", now, time.Hour)
	assert.Error(t, err)
}

func TestNewMintsTokenFromSecret(t *testing.T) {
	c, err := New(config.SupabaseConfig{URL: "https://abc.supabase.co", JWTSecret: "secret"})
	require.NoError(t, err)
	_, err = jwt.Parse(c.token, func(*jwt.Token) (any, error) { return []byte("secret"), nil })
	assert.NoError(t, err)
}

func TestCreateUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/admin/users", r.URL.Path)
		assert.Equal(t, "srk", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer srk", r.Header.Get("Authorization"))
		var p CreateUserParams
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, "jane@example.com", p.Email)
		assert.True(t, p.EmailConfirm)
		_ = json.NewEncoder(w).Encode(User{ID: "u1", Email: p.Email})
	})
	u, err := c.CreateUser(context.Background(), CreateUserParams{Email: " Jane@Example.com", Password: "pw", EmailConfirm: true})
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
}

func TestCreateUserExists(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"code":422,"error_code":"email_exists","msg":"A user with this email address has already been registered"}`))
	})
	_, err := c.CreateUser(context.Background(), CreateUserParams{Email: "jane@example.com"})
	assert.True(t, errors.Is(err, ErrUserExists), "got %v", err)
}

func TestGetUserByEmailPages(t *testing.T) {
	var pages []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		pages = append(pages, page)
		users := []User{}
		if page == "1" {
			for i := 0; i < usersPerPage; i++ {
				users = append(users, User{ID: fmt.Sprintf("u%d", i), Email: fmt.Sprintf("user%d@example.com", i)})
			}
		} else {
			users = append(users, User{ID: "target", Email: "Jane@Example.com"})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"users": users})
	})
	u, err := c.GetUserByEmail(context.Background(), "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, "target", u.ID)
	assert.Equal(t, []string{"1", "2"}, pages)
}

func TestGetUserByEmailNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"users":[{"id":"u1","email":"other@example.com"}]}`))
	})
	_, err := c.GetUserByEmail(context.Background(), "jane@example.com")
	assert.True(t, errors.Is(err, ErrUserNotFound), "got %v", err)
}

func TestUpdateAndDeleteUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			assert.Equal(t, "/auth/v1/admin/users/u1", r.URL.Path)
			var p UpdateUserParams
			require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
			assert.Equal(t, "new-password", p.Password)
			_, _ = w.Write([]byte(`{"id":"u1","email":"jane@example.com"}`))
		case http.MethodDelete:
			if r.URL.Path == "/auth/v1/admin/users/gone" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		}
	})
	_, err := c.UpdateUser(context.Background(), "u1", UpdateUserParams{Password: "new-password"})
	require.NoError(t, err)
	require.NoError(t, c.DeleteUser(context.Background(), "u1"))
	assert.True(t, errors.Is(c.DeleteUser(context.Background(), "gone"), ErrUserNotFound))
}

func TestGenerateLink(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/admin/generate_link", r.URL.Path)
		_, _ = w.Write([]byte(`{"properties":{"action_link":"https://abc.supabase.co/auth/v1/verify?token=t"}}`))
	})
	link, err := c.GenerateLink(context.Background(), "recovery", "jane@example.com")
	require.NoError(t, err)
	assert.Contains(t, link, "verify?token=t")

	_, err = c.GenerateLink(context.Background(), "signup", "jane@example.com")
	assert.Error(t, err)
}
