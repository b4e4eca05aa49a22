package main

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/opsctl/internal/audit"
	"github.com/spf13/cobra"
)

func auditOptions(a *app) audit.Options {
	return audit.Options{
		SampleLimit: a.cfg.Audit.SampleLimit,
		StaleAfter:  a.cfg.Audit.StaleApprovalAfter,
	}
}

func auditCMD(a *app) *cobra.Command {
	var list, strict bool
	cmd := &cobra.Command{
		Use:   "audit [checks...]",
		Short: "Run consistency checks against the database",
		Long:  "Runs every check, or only the named ones. Checks: " + strings.Join(audit.Names(), ", "),
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				rows := make([][]string, 0)
				for _, c := range audit.Checks() {
					repair := "no"
					if c.Repair != nil {
						repair = "yes"
					}
					rows = append(rows, []string{c.Name, repair, c.Description})
				}
				a.pr.Table([]string{"CHECK", "REPAIR", "DESCRIPTION"}, rows)
				return nil
			}
			st, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			r := &audit.Runner{Store: st, Options: auditOptions(a), Metrics: a.met, Logger: a.log}
			findings, err := r.Run(cmd.Context(), args...)
			if err != nil {
				return err
			}
			return printFindings(a, findings, strict)
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list available checks")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when any check reports findings")
	return cmd
}

func printFindings(a *app, findings []audit.Finding, strict bool) error {
	a.pr.Header("audit")
	var failed, dirty int
	for _, f := range findings {
		switch {
		case f.Err != nil:
			failed++
			a.pr.Fail("%s: %v", f.Check, f.Err)
		case f.Count == 0:
			a.pr.OK("%s", f.Check)
		default:
			dirty++
			a.pr.Warn("%s: %d row(s) %s", f.Check, f.Count, f.Description)
			for _, s := range f.Samples {
				a.pr.Info("  %s", s)
			}
			if f.Hint != "" {
				a.pr.Hint("%s", f.Hint)
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed to run", failed)
	}
	if strict && dirty > 0 {
		return fmt.Errorf("%d check(s) reported findings", dirty)
	}
	return nil
}

func repairCMD(a *app) *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "repair <check>",
		Short: "Fix rows reported by a check (dry run unless --apply)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := audit.Lookup(args[0]); err != nil {
				return err
			}
			st, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			r := &audit.Repairer{Store: st, Options: auditOptions(a), Metrics: a.met, Logger: a.log}
			res, err := r.Repair(cmd.Context(), args[0], apply)
			if err != nil {
				return err
			}
			if res.Rows == 0 {
				a.pr.OK("%s: nothing to repair", res.Check)
				return nil
			}
			if res.Applied {
				a.pr.OK("%s: %d row(s) changed", res.Check, res.Rows)
			} else {
				a.pr.Warn("%s: %d row(s) would change%s", res.Check, res.Rows, dryRunNote(false))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "commit the repair")
	return cmd
}
