package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"notice_ingest/internal/config"
	"notice_ingest/internal/domain"
	"notice_ingest/internal/scheduler"
	"notice_ingest/internal/storage/postgres"
	"notice_ingest/internal/storage/sqlite"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll every active feed group on the configured interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		p, err := buildPipeline(ctx, cfg, logger, false)
		if err != nil {
			return err
		}
		defer p.Close()

		sched := scheduler.NewScheduler(p.orchestrator, cfg.Ingest.Interval, cfg.Ingest.PassTimeout, logger)

		logger.Info("starting notice ingester",
			"feeds", len(cfg.Feeds),
			"storage", cfg.Storage.Driver,
			"workers", cfg.Ingest.Workers,
			"publisher", cfg.RabbitMQ.Enabled(),
		)

		if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	},
}

var onceDryRun bool

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single ingest pass and print a per-feed summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		p, err := buildPipeline(ctx, cfg, logger, onceDryRun)
		if err != nil {
			return err
		}
		defer p.Close()

		passCtx, passCancel := context.WithTimeout(ctx, cfg.Ingest.PassTimeout)
		defer passCancel()

		stats, runErr := p.orchestrator.Run(passCtx)
		if stats != nil {
			if err := printRunStats(cmd.OutOrStdout(), stats); err != nil {
				return err
			}
		}
		return runErr
	},
}

func printRunStats(w io.Writer, stats *domain.RunStats) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FEED\tSTATE\tFETCHED\tNEW\tMATCHED\tINSERTED\tDUPLICATES\tERRORED\tREASON")
	for _, gs := range stats.Groups {
		reason := ""
		switch {
		case gs.Reason != nil:
			reason = gs.Reason.Error()
		case gs.Warning != nil:
			reason = gs.Warning.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			gs.FeedSlug, gs.State, gs.Fetched, gs.New, gs.Matched,
			gs.Inserted, gs.Duplicates, gs.Errored, oneLine(reason))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nrun %s: %d inserted, %d failed groups in %s\n",
		stats.RunID, stats.Inserted(), stats.Failed(), stats.Duration.Round(time.Millisecond))
	return err
}

func oneLine(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\n' {
			r = ';'
		}
		out = append(out, r)
	}
	return string(out)
}

var (
	listFeed        string
	listCategory    string
	listMinSeverity int
	listMaxSeverity int
	listSince       time.Duration
	listLimit       uint64
	listJSON        bool
)

var incidentsCmd = &cobra.Command{
	Use:   "incidents",
	Short: "List stored incidents, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStores(ctx, cfg, logger, false)
		if err != nil {
			return err
		}
		defer st.Close()

		filter := domain.IncidentFilter{
			FeedSlug:    listFeed,
			Category:    listCategory,
			MinSeverity: listMinSeverity,
			MaxSeverity: listMaxSeverity,
			Limit:       listLimit,
		}
		if listSince > 0 {
			filter.PublishedAfter = time.Now().Add(-listSince)
		}

		incidents, err := st.incidents.List(ctx, filter)
		if err != nil {
			return fmt.Errorf("list incidents: %w", err)
		}

		if listJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(incidents)
		}
		return printIncidents(cmd.OutOrStdout(), incidents)
	},
}

func printIncidents(w io.Writer, incidents []domain.Incident) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PUBLISHED\tFEED\tSEVERITY\tRELEVANCE\tHASH\tLANGS\tTITLE")
	for _, inc := range incidents {
		b := domain.Bundle{Primary: domain.LangEnglish, Content: inc.Content}
		_, lead := b.Lead()
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.2f\t%s\t%d\t%s\n",
			inc.SourcePublishedAt.UTC().Format(time.RFC3339),
			inc.FeedSlug,
			inc.Severity,
			inc.RelevanceScore,
			inc.ContentHash,
			len(inc.Content),
			lead.Title,
		)
	}
	return tw.Flush()
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var (
			applied int
			err     error
		)
		switch cfg.Storage.Driver {
		case config.DriverPostgres:
			db, cerr := connectPostgres(ctx, cfg)
			if cerr != nil {
				return cerr
			}
			defer db.Close()
			applied, err = postgres.Migrate(ctx, db, logger)
		case config.DriverSQLite:
			db, cerr := sqlite.Open(ctx, cfg.Storage.SQLitePath, logger)
			if cerr != nil {
				return cerr
			}
			defer db.Close()
			version, verr := sqlite.SchemaVersion(ctx, db)
			if verr != nil {
				return verr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sqlite schema at version %d\n", version)
			return nil
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "storage driver %q has no schema\n", cfg.Storage.Driver)
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
		return nil
	},
}

func init() {
	onceCmd.Flags().BoolVar(&onceDryRun, "dry-run", false, "Use in-memory stores and skip publishing")

	incidentsCmd.Flags().StringVar(&listFeed, "feed", "", "Only incidents of this feed slug")
	incidentsCmd.Flags().StringVar(&listCategory, "category", "", "Only incidents of this category")
	incidentsCmd.Flags().IntVar(&listMinSeverity, "min-severity", 0, "Minimum severity (1-5)")
	incidentsCmd.Flags().IntVar(&listMaxSeverity, "max-severity", 0, "Maximum severity (1-5)")
	incidentsCmd.Flags().DurationVar(&listSince, "since", 0, "Only incidents published within this window, e.g. 24h")
	incidentsCmd.Flags().Uint64Var(&listLimit, "limit", 0, "Maximum rows (default 100)")
	incidentsCmd.Flags().BoolVar(&listJSON, "json", false, "Print JSON instead of a table")
}
