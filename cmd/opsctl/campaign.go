package main

import (
	"sort"
	"strconv"

	"github.com/mohammad-safakhou/opsctl/internal/n8n"
	"github.com/mohammad-safakhou/opsctl/internal/outreach"
	"github.com/mohammad-safakhou/opsctl/internal/unipile"
	"github.com/spf13/cobra"
)

func campaignCMD(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "campaign", Short: "Inspect and run outreach campaigns"}
	cmd.AddCommand(campaignListCMD(a), campaignStatusCMD(a), campaignDispatchCMD(a), campaignTriggerCMD(a))
	return cmd
}

func campaignListCMD(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list [workspace-id]",
		Short: "List campaigns, optionally of one workspace",
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
				return err
			}
			if len(args) == 1 {
				return requireUUID("workspace id", args[0])
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var workspaceID string
			if len(args) == 1 {
				workspaceID = args[0]
			}
			st, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			campaigns, err := st.ListCampaigns(cmd.Context(), workspaceID)
			if err != nil {
				return err
			}
			a.pr.Header("%d campaigns", len(campaigns))
			rows := make([][]string, 0, len(campaigns))
			for _, c := range campaigns {
				rows = append(rows, []string{c.Name, c.ID, c.Status, c.Channel, orDash(c.WorkspaceID), c.CreatedAt.Format("2006-01-02")})
			}
			a.pr.Table([]string{"NAME", "ID", "STATUS", "CHANNEL", "WORKSPACE", "CREATED"}, rows)
			return nil
		},
	}
}

func campaignStatusCMD(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <campaign-id>",
		Short: "Show a campaign and its prospect pipeline",
		Args:  uuidArgs(1, map[int]string{0: "campaign id"}),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			c, err := st.GetCampaign(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			counts, err := st.CountProspectsByStatus(cmd.Context(), c.ID)
			if err != nil {
				return err
			}
			a.pr.Header("%s (%s)", c.Name, c.ID)
			a.pr.Info("status: %s  channel: %s  workspace: %s", c.Status, c.Channel, orDash(c.WorkspaceID))
			statuses := make([]string, 0, len(counts))
			total := 0
			for s, n := range counts {
				statuses = append(statuses, s)
				total += n
			}
			sort.Strings(statuses)
			rows := make([][]string, 0, len(statuses)+1)
			for _, s := range statuses {
				rows = append(rows, []string{s, strconv.Itoa(counts[s])})
			}
			rows = append(rows, []string{"total", strconv.Itoa(total)})
			a.pr.Table([]string{"STATUS", "PROSPECTS"}, rows)
			return nil
		},
	}
}

func campaignDispatchCMD(a *app) *cobra.Command {
	var opts outreach.Options
	cmd := &cobra.Command{
		Use:   "dispatch <campaign-id>",
		Short: "Send connection requests to approved prospects",
		Args:  uuidArgs(1, map[int]string{0: "campaign id"}),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.CampaignID = args[0]
			st, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			var messenger outreach.Messenger
			if err := a.cfg.RequireUnipile(); err != nil {
				if !opts.DryRun {
					return err
				}
			} else {
				client, err := unipile.New(a.cfg.Unipile)
				if err != nil {
					return err
				}
				messenger = client
			}
			locker, err := a.lockerFor(cmd.Context())
			if err != nil {
				return err
			}
			d := outreach.NewDispatcher(st, messenger, locker, a.met, a.cfg.Outreach, a.log)
			d.DefaultAccountID = a.cfg.Unipile.AccountID

			sum, err := d.Run(cmd.Context(), opts)
			printSummary(a, sum)
			return err
		},
	}
	cmd.Flags().StringVar(&opts.AccountID, "account", "", "outreach account id (default: configured or workspace account)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "max prospects this run (default outreach.batch_size)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "render messages without sending")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "dispatch even if the campaign is not active")
	return cmd
}

func printSummary(a *app, sum outreach.Summary) {
	if len(sum.Results) == 0 && sum.AccountID == "" {
		return
	}
	title := "dispatch " + sum.CampaignID
	if sum.DryRun {
		title += " (dry run)"
	}
	a.pr.Header("%s", title)
	rows := make([][]string, 0, len(sum.Results))
	for _, r := range sum.Results {
		detail := r.Error
		if detail == "" && sum.DryRun {
			detail = r.Message
		}
		rows = append(rows, []string{r.ProspectID, orDash(r.Name), r.Outcome, orDash(detail)})
	}
	if len(rows) > 0 {
		a.pr.Table([]string{"PROSPECT", "NAME", "OUTCOME", "DETAIL"}, rows)
	}
	a.pr.Info("account %s, quota remaining today %d", orDash(sum.AccountID), sum.QuotaRemaining)
	a.pr.OK("sent %d, skipped %d", sum.Sent, sum.Skipped)
	if sum.Failed > 0 {
		a.pr.Fail("failed %d", sum.Failed)
	}
	if sum.Stopped != "" {
		a.pr.Warn("stopped early: %s", sum.Stopped)
	}
}

func campaignTriggerCMD(a *app) *cobra.Command {
	var opts outreach.TriggerOptions
	var templates string
	cmd := &cobra.Command{
		Use:   "trigger <campaign-id>",
		Short: "Hand approved prospects to the workflow webhook",
		Args:  uuidArgs(1, map[int]string{0: "campaign id"}),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.CampaignID = args[0]
			if err := a.cfg.RequireN8N(); err != nil {
				return err
			}
			if templates != "" {
				tpl, err := n8n.LoadTemplates(templates)
				if err != nil {
					return err
				}
				opts.Templates = &tpl
			}
			if opts.AccountID == "" {
				opts.AccountID = a.cfg.Unipile.AccountID
			}
			hook, err := n8n.New(a.cfg.N8N)
			if err != nil {
				return err
			}
			st, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			t := &outreach.Triggerer{Store: st, Webhook: hook, Metrics: a.met, Logger: a.log}
			res, err := t.Trigger(cmd.Context(), opts)
			if err != nil {
				return err
			}
			n := len(res.Payload.Prospects)
			switch {
			case n == 0:
				a.pr.Warn("no approved prospects in %s", opts.CampaignID)
			case opts.DryRun:
				a.pr.Info("would post %d prospect(s) to %s", n, hook.CampaignPath())
			default:
				a.pr.OK("webhook accepted %d prospect(s) (HTTP %d), %d marked queued", n, res.Response.StatusCode, res.Queued)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&templates, "templates", "", "YAML file overriding the campaign's messages")
	cmd.Flags().StringVar(&opts.AccountID, "account", "", "outreach account id passed to the workflow")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "max prospects to hand off (0 = all approved)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "build the payload without posting")
	return cmd
}
