package main

import (
	"github.com/spf13/cobra"
)

func workspaceCMD(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "workspace", Short: "Inspect workspaces"}
	cmd.AddCommand(workspaceListCMD(a))
	return cmd
}

func workspaceListCMD(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all workspaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			workspaces, err := st.ListWorkspaces(cmd.Context())
			if err != nil {
				return err
			}
			a.pr.Header("%d workspaces", len(workspaces))
			rows := make([][]string, 0, len(workspaces))
			for _, ws := range workspaces {
				rows = append(rows, []string{ws.Name, ws.ID, orDash(ws.OwnerID), ws.CreatedAt.Format("2006-01-02")})
			}
			a.pr.Table([]string{"NAME", "ID", "OWNER", "CREATED"}, rows)
			return nil
		},
	}
}
