package app

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/agentstation/riskmap/internal/governance"
	"github.com/agentstation/riskmap/internal/report"
	"github.com/agentstation/riskmap/internal/runner"
	"github.com/agentstation/riskmap/pkg/errors"
)

// runFlags are the flags shared by sync and report.
type runFlags struct {
	snapshot     string
	reportPath   string
	reportFormat string
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.snapshot, "snapshot", "", "read scanner data from a YAML snapshot instead of the TrustLogix API (SNAPSHOT_FILE)")
	cmd.Flags().StringVar(&f.reportPath, "report", "", "also write the report to this file (REPORT_PATH)")
	cmd.Flags().StringVar(&f.reportFormat, "report-format", "", "report file format: table, json, yaml, html, markdown (default from extension)")
}

func (f *runFlags) apply(c *Config) {
	if f.snapshot != "" {
		c.SnapshotFile = f.snapshot
	}
	if f.reportPath != "" {
		c.ReportPath = f.reportPath
	}
	if f.reportFormat != "" {
		c.ReportFormat = f.reportFormat
	}
}

// NewSyncCommand creates the sync command.
func (a *App) NewSyncCommand() *cobra.Command {
	var (
		flags       runFlags
		workers     int
		metricsAddr string
		dryRun      bool
		noLogo      bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Scan TrustLogix and write risk metadata to Atlan",
		Long: `Sync scans every supported TrustLogix account, writes each account's
risk summary onto the Atlan assets of its databases, assigns the account
to the most common data domain of those assets and finally writes the
domain rollups.

Repeated 403 responses from Atlan abort the remaining writes; the report
is still produced and the command exits non-zero.`,
		Example: `  riskmap sync
  riskmap sync --workers 8 --metrics-addr :9102
  riskmap sync --snapshot export.yaml --report out/risk.html`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags.apply(a.config)
			if cmd.Flags().Changed("workers") {
				a.config.Workers = workers
			}
			if metricsAddr != "" {
				a.config.MetricsAddr = metricsAddr
			}
			if noLogo {
				a.config.UploadLogo = false
			}

			var engine *governance.Engine
			if !dryRun {
				engine = a.Engine()
			}
			rep, err := a.runOnce(cmd, engine)
			if err != nil {
				return err
			}
			if rep.Aborted {
				return errors.WrapSync("assets", errors.ErrAborted)
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent asset writes per database (WORKERS)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while running (METRICS_ADDR)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "scan and report without writing to Atlan")
	cmd.Flags().BoolVar(&noLogo, "no-logo", false, "skip uploading the TrustLogix logo")
	return cmd
}

// NewReportCommand creates the report command.
func (a *App) NewReportCommand() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the domain-grouped risk report without writing to Atlan",
		Long: `Report scans TrustLogix the same way sync does but never writes to
Atlan. Catalog domains are not resolved, so every account is reported
under the Unassigned domain.`,
		Example: `  riskmap report
  riskmap report --snapshot export.yaml -o yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags.apply(a.config)
			_, err := a.runOnce(cmd, nil)
			return err
		},
	}

	flags.register(cmd)
	return cmd
}

// NewVersionCommand creates the version command.
func (a *App) NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "riskmap %s\n", a.version)
			fmt.Fprintf(out, "  commit:   %s\n", a.commit)
			fmt.Fprintf(out, "  built:    %s\n", a.date)
			fmt.Fprintf(out, "  built by: %s\n", a.builtBy)
		},
	}
}

func (a *App) runOnce(cmd *cobra.Command, engine *governance.Engine) (*report.Report, error) {
	if err := a.config.Validate(); err != nil {
		return nil, err
	}
	out, err := outputFormat(a.config.Format, cmd.OutOrStdout())
	if err != nil {
		return nil, err
	}
	if err := a.StartMetrics(a.config.MetricsAddr); err != nil {
		return nil, err
	}

	ctx := cmd.Context()
	src, err := a.Source(ctx)
	if err != nil {
		return nil, err
	}

	rep, runErr := runner.Run(ctx, runner.Options{
		Source:  src,
		Engine:  engine,
		Workers: a.config.Workers,
		Logger:  a.logger,
	})
	if rep == nil {
		return nil, runErr
	}

	if a.config.ReportPath != "" {
		f := report.FormatForPath(a.config.ReportPath)
		if a.config.ReportFormat != "" {
			f, _ = report.ParseFormat(a.config.ReportFormat)
		}
		if err := report.WriteFile(a.config.ReportPath, rep, f); err != nil {
			return rep, err
		}
		a.logger.Info().Str("path", a.config.ReportPath).Str("format", string(f)).Msg("Wrote report")
	}
	if err := report.Write(cmd.OutOrStdout(), rep, out); err != nil {
		return rep, errors.WrapIO("write", "stdout", err)
	}
	return rep, runErr
}

// outputFormat resolves the stdout format: explicit when given, a table
// on terminals and JSON when piped.
func outputFormat(explicit string, w io.Writer) (report.Format, error) {
	if explicit != "" {
		return report.ParseFormat(explicit)
	}
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return report.FormatTable, nil
	}
	return report.FormatJSON, nil
}

// NewManCommand generates the riskmap man page.
func (a *App) NewManCommand() *cobra.Command {
	return &cobra.Command{
		Use:    "man",
		Short:  "Generate man page",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			header := &doc.GenManHeader{
				Title:   "RISKMAP",
				Section: "1",
				Source:  "riskmap",
				Manual:  "riskmap Manual",
			}
			return doc.GenMan(cmd.Root(), header, cmd.OutOrStdout())
		},
	}
}
