package main

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/opsctl/internal/provision"
	"github.com/mohammad-safakhou/opsctl/internal/store"
	"github.com/mohammad-safakhou/opsctl/internal/supabase"
	"github.com/spf13/cobra"
)

func (a *app) provisioner(ctx context.Context) (*provision.Provisioner, error) {
	if err := a.cfg.RequireSupabase(); err != nil {
		return nil, err
	}
	auth, err := supabase.New(a.cfg.Supabase)
	if err != nil {
		return nil, err
	}
	st, err := a.store(ctx)
	if err != nil {
		return nil, err
	}
	return &provision.Provisioner{Auth: auth, Store: st, Logger: a.log}, nil
}

func userCMD(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage platform users"}
	cmd.AddCommand(userProvisionCMD(a), userResetPasswordCMD(a), userDeleteCMD(a))
	return cmd
}

func userProvisionCMD(a *app) *cobra.Command {
	var req provision.Request
	cmd := &cobra.Command{
		Use:   "provision <email>",
		Short: "Create a user with a profile and workspace membership",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.WorkspaceID != "" {
				if err := requireUUID("workspace id", req.WorkspaceID); err != nil {
					return err
				}
			}
			if req.Role != "" && !store.ValidRole(req.Role) {
				return fmt.Errorf("invalid role %q", req.Role)
			}
			p, err := a.provisioner(cmd.Context())
			if err != nil {
				return err
			}
			req.Email = args[0]
			res, err := p.ProvisionUser(cmd.Context(), req)
			if err != nil {
				return err
			}
			a.pr.Header("user %s", res.Email)
			if res.ExistingUser {
				a.pr.Info("auth user already existed: %s", res.UserID)
			} else {
				a.pr.OK("auth user created: %s", res.UserID)
			}
			if res.CreatedWorkspace {
				a.pr.OK("workspace created: %s (%s)", res.Workspace.Name, res.Workspace.ID)
			} else {
				a.pr.OK("joined workspace: %s (%s)", res.Workspace.Name, res.Workspace.ID)
			}
			a.pr.Info("role: %s", res.Role)
			if res.TemporaryPassword != "" {
				a.pr.Warn("temporary password: %s", res.TemporaryPassword)
				a.pr.Hint("share it over a secure channel and ask the user to change it")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Password, "password", "", "initial password (generated when empty)")
	cmd.Flags().StringVar(&req.FullName, "full-name", "", "display name")
	cmd.Flags().StringVar(&req.WorkspaceID, "workspace-id", "", "join an existing workspace")
	cmd.Flags().StringVar(&req.WorkspaceName, "workspace-name", "", "name of the workspace to create")
	cmd.Flags().StringVar(&req.Role, "role", "", "membership role (owner, admin, member)")
	cmd.MarkFlagsMutuallyExclusive("workspace-id", "workspace-name")
	return cmd
}

func userResetPasswordCMD(a *app) *cobra.Command {
	var password string
	var link bool
	cmd := &cobra.Command{
		Use:   "reset-password <email>",
		Short: "Set a new password or print a recovery link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.provisioner(cmd.Context())
			if err != nil {
				return err
			}
			if link {
				url, err := p.RecoveryLink(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				a.pr.OK("recovery link: %s", url)
				return nil
			}
			pw, err := p.ResetPassword(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			a.pr.OK("password updated for %s", args[0])
			if password == "" {
				a.pr.Warn("new password: %s", pw)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "new password (generated when empty)")
	cmd.Flags().BoolVar(&link, "link", false, "generate a recovery link instead")
	cmd.MarkFlagsMutuallyExclusive("password", "link")
	return cmd
}

func userDeleteCMD(a *app) *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "delete <email>",
		Short: "Remove a user's memberships, profile and auth account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.provisioner(cmd.Context())
			if err != nil {
				return err
			}
			res, err := p.DeleteUser(cmd.Context(), args[0], apply)
			if err != nil {
				return err
			}
			verb := "would remove"
			if res.Applied {
				verb = "removed"
			}
			a.pr.Header("delete %s%s", args[0], dryRunNote(apply))
			a.pr.Info("%s %d membership(s)", verb, res.Memberships)
			if res.HadProfile {
				a.pr.Info("%s profile", verb)
			}
			if res.UserID != "" {
				a.pr.Info("%s auth user %s", verb, res.UserID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "actually delete")
	return cmd
}

func memberCMD(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "member", Short: "Manage workspace memberships"}
	cmd.AddCommand(memberAddCMD(a), memberRemoveCMD(a), memberListCMD(a))
	return cmd
}

func memberAddCMD(a *app) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "add <email> <workspace-id>",
		Short: "Add an existing user to a workspace",
		Args:  uuidArgs(2, map[int]string{1: "workspace id"}),
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != "" && !store.ValidRole(role) {
				return fmt.Errorf("invalid role %q", role)
			}
			p, err := a.provisioner(cmd.Context())
			if err != nil {
				return err
			}
			m, err := p.AddMember(cmd.Context(), args[0], args[1], role)
			if err != nil {
				return err
			}
			a.pr.OK("%s (%s) is now %s of %s", m.Email, m.UserID, m.Role, args[1])
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "membership role (owner, admin, member); new members default to member and existing ones keep their role")
	return cmd
}

func memberRemoveCMD(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <email> <workspace-id>",
		Short: "Remove a user from a workspace",
		Args:  uuidArgs(2, map[int]string{1: "workspace id"}),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.provisioner(cmd.Context())
			if err != nil {
				return err
			}
			if err := p.RemoveMember(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			a.pr.OK("%s removed from %s", args[0], args[1])
			return nil
		},
	}
}

func memberListCMD(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <workspace-id>",
		Short: "List members of a workspace",
		Args:  uuidArgs(1, map[int]string{0: "workspace id"}),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			ws, err := st.GetWorkspace(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			members, err := st.ListWorkspaceMembers(cmd.Context(), ws.ID)
			if err != nil {
				return err
			}
			a.pr.Header("%s (%d members)", ws.Name, len(members))
			rows := make([][]string, 0, len(members))
			for _, m := range members {
				rows = append(rows, []string{orDash(m.Email), m.UserID, m.Role, orDash(m.Status), m.CreatedAt.Format("2006-01-02")})
			}
			a.pr.Table([]string{"EMAIL", "USER", "ROLE", "STATUS", "JOINED"}, rows)
			return nil
		},
	}
}
