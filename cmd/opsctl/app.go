package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/opsctl/config"
	"github.com/mohammad-safakhou/opsctl/internal/lock"
	"github.com/mohammad-safakhou/opsctl/internal/logging"
	"github.com/mohammad-safakhou/opsctl/internal/metrics"
	"github.com/mohammad-safakhou/opsctl/internal/report"
	"github.com/mohammad-safakhou/opsctl/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app holds the lazily opened collaborators shared by every command.
type app struct {
	cfgPath string
	debug   bool
	noColor bool
	out     io.Writer

	cfg    *config.Config
	log    *zap.Logger
	pr     *report.Printer
	met    *metrics.Metrics
	st     *store.Store
	rdb    *redis.Client
	locker lock.Locker

	// serving disables the pushgateway push; serve exposes /metrics instead.
	serving bool
}

func rootCMD(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "opsctl",
		Short:         "Operations toolkit for the outreach platform",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "", "config file (default ./config/opsctl.json or ./opsctl.json)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "debug logging")
	root.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		auditCMD(a),
		repairCMD(a),
		userCMD(a),
		memberCMD(a),
		workspaceCMD(a),
		campaignCMD(a),
		approvalsCMD(a),
		accountsCMD(a),
		backupCMD(a),
		migrateCMD(a),
		serveCMD(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.General.LogLevel, a.debug)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger
	a.pr = report.New(a.out, a.noColor)
	a.met = metrics.New()
	return nil
}

func (a *app) timeout() time.Duration {
	if a.cfg == nil || a.cfg.General.DefaultTimeout <= 0 {
		return 30 * time.Second
	}
	return a.cfg.General.DefaultTimeout
}

func (a *app) store(ctx context.Context) (*store.Store, error) {
	if a.st != nil {
		return a.st, nil
	}
	dsn, err := a.cfg.RequirePostgres()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout())
	defer cancel()
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.st = st
	return st, nil
}

// lockerFor returns the redis locker, or a no-op locker when redis is not
// configured.
func (a *app) lockerFor(ctx context.Context) (lock.Locker, error) {
	if a.locker != nil {
		return a.locker, nil
	}
	if !a.cfg.Storage.Redis.Enabled() {
		a.log.Debug("redis not configured, dispatch locks and dedup disabled")
		a.locker = lock.NopLocker{}
		return a.locker, nil
	}
	opts, err := a.cfg.Storage.Redis.Options()
	if err != nil {
		return nil, err
	}
	rdb, err := lock.Conn(ctx, opts)
	if err != nil {
		return nil, err
	}
	a.rdb = rdb
	a.locker = lock.NewRedisLocker(rdb)
	return a.locker, nil
}

// shutdown pushes run metrics and closes connections. It runs after every
// command, failed or not.
func (a *app) shutdown(ctx context.Context) {
	if a.cfg != nil && a.cfg.Metrics.PushgatewayURL != "" && !a.serving {
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := a.met.Push(pctx, a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job); err != nil {
			a.log.Warn("push metrics", zap.Error(err))
		}
		cancel()
	}
	if a.st != nil {
		_ = a.st.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

func requireUUID(what, v string) error {
	if _, err := uuid.Parse(v); err != nil {
		return fmt.Errorf("%s %q is not a valid uuid", what, v)
	}
	return nil
}

// uuidArgs validates that positional args at the given indexes are uuids.
func uuidArgs(n int, names map[int]string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return err
		}
		for i, name := range names {
			if err := requireUUID(name, args[i]); err != nil {
				return err
			}
		}
		return nil
	}
}

func dryRunNote(apply bool) string {
	if apply {
		return ""
	}
	return " (dry run, pass --apply to commit)"
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
