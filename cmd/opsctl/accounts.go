package main

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/opsctl/internal/store"
	"github.com/mohammad-safakhou/opsctl/internal/unipile"
	"github.com/spf13/cobra"
)

// syncedAccount maps a provider account onto a workspace_accounts row. The
// provider reports "OK" for a healthy connection.
func syncedAccount(workspaceID, userID string, acc unipile.Account) store.WorkspaceAccount {
	status := "disconnected"
	if strings.EqualFold(acc.Status(), "OK") {
		status = "active"
	}
	return store.WorkspaceAccount{
		WorkspaceID: workspaceID,
		UserID:      userID,
		Provider:    strings.ToLower(acc.Type),
		AccountID:   acc.ID,
		AccountName: acc.Name,
		Status:      status,
	}
}

func accountsCMD(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "accounts", Short: "Outreach integration accounts"}
	cmd.AddCommand(accountsListCMD(a), accountsSyncCMD(a))
	return cmd
}

func (a *app) unipile() (*unipile.Client, error) {
	if err := a.cfg.RequireUnipile(); err != nil {
		return nil, err
	}
	return unipile.New(a.cfg.Unipile)
}

func accountsListCMD(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts connected to the outreach provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.unipile()
			if err != nil {
				return err
			}
			accounts, err := client.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(accounts))
			for _, acc := range accounts {
				rows = append(rows, []string{acc.ID, orDash(acc.Name), acc.Type, orDash(acc.Status())})
			}
			a.pr.Table([]string{"ID", "NAME", "TYPE", "STATUS"}, rows)
			return nil
		},
	}
}

func accountsSyncCMD(a *app) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "sync <workspace-id>",
		Short: "Record the provider's accounts on a workspace",
		Args:  uuidArgs(1, map[int]string{0: "workspace id"}),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.unipile()
			if err != nil {
				return err
			}
			st, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			ws, err := st.GetWorkspace(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if userID == "" {
				userID = ws.OwnerID
			}
			accounts, err := client.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}
			synced := 0
			for _, acc := range accounts {
				rec := syncedAccount(ws.ID, userID, acc)
				if err := st.UpsertWorkspaceAccount(cmd.Context(), rec); err != nil {
					a.pr.Fail("%s: %v", acc.ID, err)
					continue
				}
				synced++
				a.pr.OK("%s %s (%s)", acc.ID, orDash(acc.Name), rec.Status)
			}
			if synced != len(accounts) {
				return fmt.Errorf("synced %d of %d accounts", synced, len(accounts))
			}
			a.pr.Info("%d account(s) synced to %s", synced, ws.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "owning user (default: workspace owner)")
	return cmd
}
