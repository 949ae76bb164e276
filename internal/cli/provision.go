package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"mvstore/internal/registry"
)

// ProvisionReport is the structured result of a provision run.
type ProvisionReport struct {
	Manifest  string `json:"manifest"`
	Entries   int    `json:"entries"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	Unchanged int    `json:"unchanged"`
}

// NewProvisionCommand creates the provision command, the external
// provisioner role: the only place DDL happens.
func NewProvisionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision <manifest.cue>",
		Short: "Apply a registry manifest",
		Long: `Validate a CUE registry manifest, insert new registry entries, and
create their physical relations. Re-provisioning an unchanged manifest is
a no-op; a change the schema-change classifier deems dangerous (pointer
or owner moves) is refused before anything is written.

Example:
  mvstore provision --db ./mvstore.db ./registry.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvision(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runProvision(opts *RootOptions, manifestPath string, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	cfg, err := opts.loadConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	entries, err := registry.LoadManifest(manifestPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load manifest", err)
	}
	slog.Info("manifest loaded", "path", manifestPath, "entries", len(entries))

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	result, err := registry.Provision(ctx, db, entries, nil)
	if err != nil {
		if registry.IsDangerousChange(err) {
			return WrapExitError(ExitFailure, "dangerous schema change refused", err)
		}
		return WrapExitError(ExitCommandError, "provisioning failed", err)
	}

	report := ProvisionReport{
		Manifest:  manifestPath,
		Entries:   len(entries),
		Created:   result.Created,
		Updated:   result.Updated,
		Unchanged: result.Unchanged,
	}

	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}
	return outputProvisionReport(formatter, report)
}

func outputProvisionReport(formatter *OutputFormatter, report ProvisionReport) error {
	if formatter.Format == "json" {
		return formatter.Success(report)
	}

	fmt.Fprintf(formatter.Writer, "Provisioned %d entr%s: %d created, %d updated, %d unchanged\n",
		report.Entries, pluralY(report.Entries), report.Created, report.Updated, report.Unchanged)
	return nil
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
