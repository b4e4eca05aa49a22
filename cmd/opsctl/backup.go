package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/mohammad-safakhou/opsctl/internal/airtable"
	"github.com/mohammad-safakhou/opsctl/internal/backup"
	"github.com/mohammad-safakhou/opsctl/internal/store"
	"github.com/spf13/cobra"
)

func backupCMD(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "backup", Short: "Export, snapshot and restore platform tables"}
	cmd.AddCommand(
		backupExportCMD(a),
		backupRestoreCMD(a),
		backupSnapshotCMD(a),
		backupSnapshotsCMD(a),
		backupRestoreSnapshotCMD(a),
	)
	return cmd
}

// tablesArg expands "all" and validates explicit table names.
func tablesArg(arg string) ([]string, error) {
	if arg == "all" {
		return store.BackupTables, nil
	}
	if !store.IsBackupTable(arg) {
		return nil, fmt.Errorf("table %q is not backed up (known: %v)", arg, store.BackupTables)
	}
	return []string{arg}, nil
}

func (a *app) airtable() (*airtable.Client, error) {
	if err := a.cfg.RequireAirtable(); err != nil {
		return nil, err
	}
	return airtable.New(a.cfg.Airtable)
}

func backupExportCMD(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export <table|all>",
		Short: "Copy table rows into Airtable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tables, err := tablesArg(args[0])
			if err != nil {
				return err
			}
			at, err := a.airtable()
			if err != nil {
				return err
			}
			st, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			e := &backup.Exporter{Store: st, Records: at, Logger: a.log}
			for _, t := range tables {
				n, err := e.ExportToAirtable(cmd.Context(), t)
				if err != nil {
					return fmt.Errorf("%s: %w", t, err)
				}
				a.pr.OK("%s: %d record(s) exported", t, n)
			}
			return nil
		},
	}
}

func backupRestoreCMD(a *app) *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "restore <table|all>",
		Short: "Upsert Airtable records back into the database (dry run unless --apply)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tables, err := tablesArg(args[0])
			if err != nil {
				return err
			}
			at, err := a.airtable()
			if err != nil {
				return err
			}
			st, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			i := &backup.Importer{Store: st, Records: at, Logger: a.log}
			a.pr.Header("restore from airtable%s", dryRunNote(apply))
			for _, t := range tables {
				res, err := i.RestoreFromAirtable(cmd.Context(), t, apply)
				if err != nil {
					return fmt.Errorf("%s: %w", t, err)
				}
				a.pr.OK("%s: %d record(s), %d row(s) upserted", t, res.Records, res.Rows)
				if res.Skipped > 0 {
					a.pr.Warn("%s: %d record(s) without id skipped", t, res.Skipped)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "commit the restore")
	return cmd
}

func (a *app) snapshotter(ctx context.Context, needStore bool) (*backup.Snapshotter, error) {
	s := &backup.Snapshotter{Dir: a.cfg.General.SnapshotDir, Logger: a.log}
	if a.cfg.Storage.S3.Enabled() {
		arch, err := backup.NewS3Archive(ctx, a.cfg.Storage.S3)
		if err != nil {
			return nil, err
		}
		s.Archive = arch
	}
	if needStore {
		st, err := a.store(ctx)
		if err != nil {
			return nil, err
		}
		s.Store = st
	}
	return s, nil
}

func backupSnapshotCMD(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot [tables...]",
		Short: "Write a JSON snapshot locally and to object storage when configured",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.snapshotter(cmd.Context(), true)
			if err != nil {
				return err
			}
			info, err := s.Snapshot(cmd.Context(), args)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(info.Tables))
			for t := range info.Tables {
				names = append(names, t)
			}
			sort.Strings(names)
			rows := make([][]string, 0, len(names))
			for _, t := range names {
				rows = append(rows, []string{t, strconv.Itoa(info.Tables[t])})
			}
			a.pr.Table([]string{"TABLE", "ROWS"}, rows)
			a.pr.OK("snapshot written to %s (%d bytes)", info.Path, info.Bytes)
			if info.Key != "" {
				a.pr.OK("uploaded as %s", info.Key)
			} else {
				a.pr.Hint("configure storage.s3 to keep an off-site copy")
			}
			return nil
		},
	}
}

func backupSnapshotsCMD(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshots",
		Short: "List archived snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.snapshotter(cmd.Context(), false)
			if err != nil {
				return err
			}
			if s.Archive == nil {
				return fmt.Errorf("storage.s3.bucket required to list snapshots")
			}
			objs, err := s.Archive.List(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(objs))
			for _, o := range objs {
				rows = append(rows, []string{o.Key, strconv.FormatInt(o.Size, 10), o.LastModified.Format("2006-01-02 15:04:05")})
			}
			a.pr.Table([]string{"KEY", "BYTES", "MODIFIED"}, rows)
			return nil
		},
	}
}

func backupRestoreSnapshotCMD(a *app) *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "restore-snapshot <path|key> [tables...]",
		Short: "Upsert a snapshot back into the database (dry run unless --apply)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.snapshotter(cmd.Context(), true)
			if err != nil {
				return err
			}
			counts, err := s.Restore(cmd.Context(), args[0], args[1:], apply)
			if err != nil {
				return err
			}
			a.pr.Header("restore %s%s", args[0], dryRunNote(apply))
			for _, t := range store.BackupTables {
				if n, ok := counts[t]; ok {
					a.pr.OK("%s: %d row(s)", t, n)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "commit the restore")
	return cmd
}
