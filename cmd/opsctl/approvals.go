package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mohammad-safakhou/opsctl/internal/store"
	"github.com/spf13/cobra"
)

func approvalsCMD(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "approvals", Short: "Inspect prospect approval sessions"}
	cmd.AddCommand(approvalsStaleCMD(a))
	return cmd
}

func approvalsStaleCMD(a *app) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "stale",
		Short: "List active approval sessions nobody has touched recently, with their decisions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				olderThan = a.cfg.Audit.StaleApprovalAfter
			}
			if olderThan <= 0 {
				olderThan = 7 * 24 * time.Hour
			}
			st, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			sessions, err := st.ListStaleApprovalSessions(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			a.pr.Header("%d approval sessions idle for more than %s", len(sessions), olderThan)
			rows := make([][]string, 0, len(sessions))
			for _, s := range sessions {
				decisions, err := st.ListDecisions(cmd.Context(), s.ID)
				if err != nil {
					return fmt.Errorf("decisions for %s: %w", s.ID, err)
				}
				rows = append(rows, []string{s.ID, s.WorkspaceID, orDash(s.CampaignID), s.UpdatedAt.Format("2006-01-02 15:04"), decisionCounts(decisions)})
			}
			a.pr.Table([]string{"SESSION", "WORKSPACE", "CAMPAIGN", "LAST ACTIVITY", "DECISIONS"}, rows)
			if len(sessions) > 0 {
				a.pr.Hint("run `opsctl repair stale-approvals --apply` to expire them")
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "idle time before a session counts as stale (default audit.stale_approval_after)")
	return cmd
}

// decisionCounts renders decisions as "approved=2 rejected=1".
func decisionCounts(ds []store.ApprovalDecision) string {
	if len(ds) == 0 {
		return "none"
	}
	counts := map[string]int{}
	for _, d := range ds {
		counts[strings.ToLower(d.Decision)]++
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}
