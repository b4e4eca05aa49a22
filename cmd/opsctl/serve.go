package main

import (
	"github.com/mohammad-safakhou/opsctl/internal/audit"
	"github.com/mohammad-safakhou/opsctl/internal/outreach"
	srv "github.com/mohammad-safakhou/opsctl/internal/server"
	"github.com/mohammad-safakhou/opsctl/internal/unipile"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCMD(a *app) *cobra.Command {
	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the hook server and scheduled audits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.serving = true
			if err := a.cfg.Server.Validate(); err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := a.store(ctx)
			if err != nil {
				return err
			}
			locker, err := a.lockerFor(ctx)
			if err != nil {
				return err
			}

			var dispatcher srv.Dispatcher
			if err := a.cfg.RequireUnipile(); err == nil {
				client, err := unipile.New(a.cfg.Unipile)
				if err != nil {
					return err
				}
				d := outreach.NewDispatcher(st, client, locker, a.met, a.cfg.Outreach, a.log)
				d.DefaultAccountID = a.cfg.Unipile.AccountID
				dispatcher = d
			} else {
				a.log.Warn("unipile not configured, dispatch hook disabled", zap.Error(err))
			}

			if spec := a.cfg.Server.AuditSchedule; spec != "" {
				runner := &audit.Runner{Store: st, Options: auditOptions(a), Metrics: a.met, Logger: a.log}
				sched, err := srv.NewScheduler(runner, locker, spec, a.log)
				if err != nil {
					return err
				}
				go sched.Start(ctx)
				a.log.Info("audit scheduler started", zap.String("schedule", spec))
			}

			addr := serveAddr
			if addr == "" {
				addr = a.cfg.Server.Address
			}
			return srv.New(st, dispatcher, a.met, a.cfg.Server.HookSecret, a.log).Run(ctx, addr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default server.address)")
	return serve
}
