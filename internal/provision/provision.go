package provision

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/mohammad-safakhou/opsctl/internal/store"
	"github.com/mohammad-safakhou/opsctl/internal/supabase"
	"go.uber.org/zap"
)

var ErrNotMember = errors.New("user is not a member of the workspace")

// Auth is the auth-admin API.
type Auth interface {
	CreateUser(ctx context.Context, p supabase.CreateUserParams) (supabase.User, error)
	GetUserByEmail(ctx context.Context, email string) (supabase.User, error)
	UpdateUser(ctx context.Context, id string, p supabase.UpdateUserParams) (supabase.User, error)
	DeleteUser(ctx context.Context, id string) error
	GenerateLink(ctx context.Context, linkType, email string) (string, error)
}

type Store interface {
	GetProfileByEmail(ctx context.Context, email string) (store.Profile, error)
	UpsertProfile(ctx context.Context, p store.Profile) error
	DeleteProfile(ctx context.Context, userID string) error
	SetCurrentWorkspace(ctx context.Context, userID, workspaceID string) error
	GetWorkspace(ctx context.Context, id string) (store.Workspace, error)
	CreateWorkspace(ctx context.Context, name, ownerID string) (store.Workspace, error)
	UpsertWorkspaceMember(ctx context.Context, m store.WorkspaceMember) (string, error)
	RemoveWorkspaceMember(ctx context.Context, workspaceID, userID string) (int64, error)
	RemoveAllMemberships(ctx context.Context, userID string) (int64, error)
	CountMemberships(ctx context.Context, userID string) (int, error)
}

type Provisioner struct {
	Auth   Auth
	Store  Store
	Logger *zap.Logger
}

func (p *Provisioner) log() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

type Request struct {
	Email    string
	Password string
	FullName string
	// WorkspaceID joins an existing workspace. Without it an existing user
	// keeps their current workspace; anyone else gets a new workspace named
	// WorkspaceName (or derived from the user) that they own.
	WorkspaceID   string
	WorkspaceName string
	// Role is applied only when set; an existing membership keeps its role.
	Role string
}

type Result struct {
	UserID            string
	Email             string
	ExistingUser      bool
	TemporaryPassword string
	Workspace         store.Workspace
	CreatedWorkspace  bool
	Role              string
}

// NormalizeEmail validates and lowercases an address.
func NormalizeEmail(email string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return "", fmt.Errorf("invalid email %q: %w", email, err)
	}
	return strings.ToLower(addr.Address), nil
}

// GeneratePassword returns a random URL-safe password.
func GeneratePassword() (string, error) {
	var b [18]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

// ProvisionUser creates (or reuses) the auth user, its profile, a workspace
// and the membership, then points the user's current workspace at it.
func (p *Provisioner) ProvisionUser(ctx context.Context, req Request) (Result, error) {
	email, err := NormalizeEmail(req.Email)
	if err != nil {
		return Result{}, err
	}
	if req.Role != "" && !store.ValidRole(req.Role) {
		return Result{}, fmt.Errorf("invalid role %q", req.Role)
	}
	res := Result{Email: email}

	password := req.Password
	if password == "" {
		if password, err = GeneratePassword(); err != nil {
			return Result{}, err
		}
		res.TemporaryPassword = password
	}
	meta := map[string]any{}
	if req.FullName != "" {
		meta["full_name"] = req.FullName
	}
	user, err := p.Auth.CreateUser(ctx, supabase.CreateUserParams{Email: email, Password: password, EmailConfirm: true, Metadata: meta})
	switch {
	case errors.Is(err, supabase.ErrUserExists):
		user, err = p.Auth.GetUserByEmail(ctx, email)
		if err != nil {
			return Result{}, err
		}
		res.ExistingUser = true
		res.TemporaryPassword = ""
		p.log().Info("auth user already exists, reusing", zap.String("email", email), zap.String("user_id", user.ID))
	case err != nil:
		return Result{}, err
	}
	res.UserID = user.ID

	if err := p.Store.UpsertProfile(ctx, store.Profile{ID: user.ID, Email: email, FullName: req.FullName}); err != nil {
		return res, fmt.Errorf("upsert profile: %w", err)
	}

	role := req.Role
	switch {
	case req.WorkspaceID != "":
		ws, err := p.Store.GetWorkspace(ctx, req.WorkspaceID)
		if err != nil {
			return res, err
		}
		res.Workspace = ws
	case res.ExistingUser:
		ws, ok, err := p.currentWorkspace(ctx, email)
		if err != nil {
			return res, err
		}
		if ok {
			res.Workspace = ws
			p.log().Info("reusing current workspace", zap.String("email", email), zap.String("workspace", ws.ID))
		}
	}
	if res.Workspace.ID == "" {
		name := req.WorkspaceName
		if strings.TrimSpace(name) == "" {
			name = defaultWorkspaceName(req.FullName, email)
		}
		ws, err := p.Store.CreateWorkspace(ctx, name, user.ID)
		if err != nil {
			return res, fmt.Errorf("create workspace: %w", err)
		}
		res.Workspace = ws
		res.CreatedWorkspace = true
		if role == "" {
			role = store.RoleOwner
		}
	}

	res.Role, err = p.Store.UpsertWorkspaceMember(ctx, store.WorkspaceMember{WorkspaceID: res.Workspace.ID, UserID: user.ID, Role: role})
	if err != nil {
		return res, fmt.Errorf("add membership: %w", err)
	}
	if err := p.Store.SetCurrentWorkspace(ctx, user.ID, res.Workspace.ID); err != nil {
		return res, fmt.Errorf("set current workspace: %w", err)
	}
	p.log().Info("user provisioned",
		zap.String("email", email),
		zap.String("workspace", res.Workspace.ID),
		zap.String("role", res.Role),
		zap.Bool("new_workspace", res.CreatedWorkspace))
	return res, nil
}

// currentWorkspace returns the workspace the user's profile points at, if
// it still exists.
func (p *Provisioner) currentWorkspace(ctx context.Context, email string) (store.Workspace, bool, error) {
	profile, err := p.Store.GetProfileByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return store.Workspace{}, false, nil
	}
	if err != nil {
		return store.Workspace{}, false, err
	}
	if profile.CurrentWorkspaceID == "" {
		return store.Workspace{}, false, nil
	}
	ws, err := p.Store.GetWorkspace(ctx, profile.CurrentWorkspaceID)
	if errors.Is(err, store.ErrNotFound) {
		p.log().Warn("current workspace is gone", zap.String("email", email), zap.String("workspace", profile.CurrentWorkspaceID))
		return store.Workspace{}, false, nil
	}
	if err != nil {
		return store.Workspace{}, false, err
	}
	return ws, true, nil
}

func defaultWorkspaceName(fullName, email string) string {
	if n := strings.TrimSpace(fullName); n != "" {
		return n + "'s Workspace"
	}
	local, _, _ := strings.Cut(email, "@")
	return local + "'s Workspace"
}

// AddMember attaches an already provisioned user to a workspace. An empty
// role keeps the role of an existing membership.
func (p *Provisioner) AddMember(ctx context.Context, email, workspaceID, role string) (store.WorkspaceMember, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return store.WorkspaceMember{}, err
	}
	if role != "" && !store.ValidRole(role) {
		return store.WorkspaceMember{}, fmt.Errorf("invalid role %q", role)
	}
	profile, err := p.Store.GetProfileByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.WorkspaceMember{}, fmt.Errorf("%w; provision the user first with `opsctl user provision %s`", err, email)
		}
		return store.WorkspaceMember{}, err
	}
	m := store.WorkspaceMember{WorkspaceID: workspaceID, UserID: profile.ID, Email: profile.Email, Role: role}
	if _, err := p.Store.GetWorkspace(ctx, workspaceID); err != nil {
		return m, err
	}
	if m.Role, err = p.Store.UpsertWorkspaceMember(ctx, m); err != nil {
		return m, err
	}
	if profile.CurrentWorkspaceID == "" {
		if err := p.Store.SetCurrentWorkspace(ctx, profile.ID, workspaceID); err != nil {
			return m, err
		}
	}
	p.log().Info("member added", zap.String("email", email), zap.String("workspace", workspaceID), zap.String("role", m.Role))
	return m, nil
}

// RemoveMember deletes one membership. A user whose current workspace was
// the removed one is left without a current workspace.
func (p *Provisioner) RemoveMember(ctx context.Context, email, workspaceID string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	profile, err := p.Store.GetProfileByEmail(ctx, email)
	if err != nil {
		return err
	}
	n, err := p.Store.RemoveWorkspaceMember(ctx, workspaceID, profile.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s in %s: %w", email, workspaceID, ErrNotMember)
	}
	if profile.CurrentWorkspaceID == workspaceID {
		if err := p.Store.SetCurrentWorkspace(ctx, profile.ID, ""); err != nil {
			return err
		}
	}
	p.log().Info("member removed", zap.String("email", email), zap.String("workspace", workspaceID))
	return nil
}

// ResetPassword sets a new password, generating one when password is empty,
// and returns the password that was set.
func (p *Provisioner) ResetPassword(ctx context.Context, email, password string) (string, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return "", err
	}
	user, err := p.Auth.GetUserByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if password == "" {
		if password, err = GeneratePassword(); err != nil {
			return "", err
		}
	}
	confirm := true
	if _, err := p.Auth.UpdateUser(ctx, user.ID, supabase.UpdateUserParams{Password: password, EmailConfirm: &confirm}); err != nil {
		return "", err
	}
	return password, nil
}

// RecoveryLink returns a password recovery link instead of setting a
// password directly.
func (p *Provisioner) RecoveryLink(ctx context.Context, email string) (string, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return "", err
	}
	return p.Auth.GenerateLink(ctx, "recovery", email)
}

type DeleteResult struct {
	UserID      string
	Memberships int64
	HadProfile  bool
	Applied     bool
}

// DeleteUser removes memberships, the profile and the auth user, in that
// order. With apply false it only reports what would be removed.
func (p *Provisioner) DeleteUser(ctx context.Context, email string, apply bool) (DeleteResult, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return DeleteResult{}, err
	}
	var res DeleteResult
	user, authErr := p.Auth.GetUserByEmail(ctx, email)
	if authErr != nil && !errors.Is(authErr, supabase.ErrUserNotFound) {
		return res, authErr
	}
	res.UserID = user.ID

	profile, err := p.Store.GetProfileByEmail(ctx, email)
	switch {
	case err == nil:
		res.HadProfile = true
		if res.UserID == "" {
			res.UserID = profile.ID
		}
	case errors.Is(err, store.ErrNotFound):
		if authErr != nil {
			return res, fmt.Errorf("%s: %w", email, supabase.ErrUserNotFound)
		}
	default:
		return res, err
	}

	if !apply {
		n, err := p.Store.CountMemberships(ctx, res.UserID)
		if err != nil {
			return res, err
		}
		res.Memberships = int64(n)
		return res, nil
	}

	if res.Memberships, err = p.Store.RemoveAllMemberships(ctx, res.UserID); err != nil {
		return res, fmt.Errorf("remove memberships: %w", err)
	}
	if res.HadProfile {
		if err := p.Store.DeleteProfile(ctx, res.UserID); err != nil {
			return res, fmt.Errorf("delete profile: %w", err)
		}
	}
	if authErr == nil {
		if err := p.Auth.DeleteUser(ctx, res.UserID); err != nil {
			return res, err
		}
	}
	res.Applied = true
	p.log().Info("user deleted", zap.String("email", email), zap.String("user_id", res.UserID), zap.Int64("memberships", res.Memberships))
	return res, nil
}
