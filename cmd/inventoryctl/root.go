package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"inventorycore/internal/adapters/archive"
	"inventorycore/internal/bulk"
	"inventorycore/pkg/domain"
)

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "inventoryctl",
		Short:        "Inventory placement and bulk operation tool",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.Context(), cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close(cmd.Context())
		},
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "config file (yaml, json or toml)")
	flags.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the config")
	flags.StringVar(&a.actor, "actor", os.Getenv("INVENTORY_ACTOR"), "username performing the operation")
	flags.StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")

	root.AddCommand(newBulkCommand(a), newTemplateCommand(a), newLockCommand(a), newArchiveCommand(a), newWorkbenchCommand(a))
	return root
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readRequest(cmd *cobra.Command, path string) (bulk.Request, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return bulk.Request{}, err
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	var req bulk.Request
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return bulk.Request{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

func newBulkCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "bulk", Short: "Run or check bulk requests"}

	apply := &cobra.Command{
		Use:   "apply FILE",
		Short: "Execute a bulk request read from FILE (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			req, err := readRequest(cmd, args[0])
			if err != nil {
				return err
			}
			res, err := a.svc.ExecuteBulk(cmd.Context(), actor, req)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if res.Status != bulk.StatusCompleted {
				return fmt.Errorf("batch %s finished with status %s", res.BatchID, res.Status)
			}
			return nil
		},
	}

	prevalidate := &cobra.Command{
		Use:   "prevalidate FILE",
		Short: "Check a bulk request without applying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := readRequest(cmd, args[0])
			if err != nil {
				return err
			}
			res := a.svc.PrevalidateBulk(req)
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if res.Status != bulk.StatusPrevalidated {
				return fmt.Errorf("request failed prevalidation with %d errors", res.ErrorCount)
			}
			return nil
		},
	}
	cmd.AddCommand(apply, prevalidate)
	return cmd
}

func newTemplateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "template", Short: "Inspect templates and migrate their samples"}

	var version int
	show := &cobra.Command{
		Use:   "show ID",
		Short: "Print a template version (current by default)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], domain.RecordTemplate)
			if err != nil {
				return err
			}
			if version > 0 {
				id.Version = version
			}
			tv, err := a.svc.TemplateVersion(cmd.Context(), a.actor, id)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), tv)
		},
	}
	show.Flags().IntVar(&version, "version", 0, "template version to print")

	migrate := &cobra.Command{
		Use:   "migrate ID",
		Short: "Move every outdated sample of a template to its latest version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			id, err := parseID(args[0], domain.RecordTemplate)
			if err != nil {
				return err
			}
			res, err := a.svc.MigrateAllSamplesOfTemplate(cmd.Context(), actor, id.ID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.AddCommand(show, migrate)
	return cmd
}

func newLockCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "lock", Short: "Manage edit locks"}

	acquire := &cobra.Command{
		Use:   "acquire ID",
		Short: "Take the edit lock on a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			id, err := domain.ParseGlobalID(args[0])
			if err != nil {
				return err
			}
			lock, err := a.svc.AttemptToLockForEdit(cmd.Context(), actor, id)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), lock)
		},
	}

	release := &cobra.Command{
		Use:   "release ID",
		Short: "Release an edit lock held by the actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			id, err := domain.ParseGlobalID(args[0])
			if err != nil {
				return err
			}
			return a.svc.Unlock(cmd.Context(), actor, id)
		},
	}

	holder := &cobra.Command{
		Use:   "holder ID",
		Short: "Print who holds the edit lock on a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.ParseGlobalID(args[0])
			if err != nil {
				return err
			}
			name, ok, err := a.svc.LockHolder(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !ok {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "unlocked")
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), name)
			return err
		},
	}
	cmd.AddCommand(acquire, release, holder)
	return cmd
}

func newArchiveCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "archive", Short: "Export and restore inventory snapshots"}

	var label string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write a snapshot and a placement report to the blob store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			arch, err := a.archiver(cmd.Context())
			if err != nil {
				return err
			}
			exp, err := arch.Export(cmd.Context(), actor, label)
			if err != nil {
				return err
			}
			a.logger.Info("snapshot exported", "id", exp.ID, "actor", actor)
			return writeJSON(cmd.OutOrStdout(), exp)
		},
	}
	export.Flags().StringVar(&label, "label", "", "free text label stored with the snapshot")

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			arch, err := a.archiver(cmd.Context())
			if err != nil {
				return err
			}
			exports, err := arch.List(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), exports)
		},
	}

	restore := &cobra.Command{
		Use:   "restore ID",
		Short: "Replace the working set with a stored snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			arch, err := a.archiver(cmd.Context())
			if err != nil {
				return err
			}
			sink, ok := a.store.(archive.StateSink)
			if !ok {
				return fmt.Errorf("storage driver %s cannot restore snapshots", a.cfg.Storage.Driver)
			}
			if err := arch.Restore(cmd.Context(), args[0], sink); err != nil {
				return err
			}
			a.logger.Warn("snapshot restored", "id", args[0], "actor", actor)
			return nil
		},
	}
	cmd.AddCommand(export, list, restore)
	return cmd
}

func newWorkbenchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "workbench",
		Short: "Print the actor's workbench, creating it on first use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			wb, _, err := a.svc.Workbench(cmd.Context(), actor)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), wb)
		},
	}
}

// parseID accepts a global id ("IT12") or a bare number of the given type.
func parseID(raw string, t domain.RecordType) (domain.GlobalID, error) {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return domain.NewGlobalID(t, n), nil
	}
	id, err := domain.ParseGlobalID(raw)
	if err != nil {
		return domain.GlobalID{}, err
	}
	if id.Type != t {
		return domain.GlobalID{}, fmt.Errorf("%s is not a %s id", raw, t)
	}
	return id, nil
}
