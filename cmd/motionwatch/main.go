package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/MotionWatch/internal/adapter"
	"github.com/TobiSchelling/MotionWatch/internal/collect"
	"github.com/TobiSchelling/MotionWatch/internal/config"
	"github.com/TobiSchelling/MotionWatch/internal/database"
	"github.com/TobiSchelling/MotionWatch/internal/fetch"
	"github.com/TobiSchelling/MotionWatch/internal/logging"
	"github.com/TobiSchelling/MotionWatch/internal/motion"
	"github.com/TobiSchelling/MotionWatch/internal/pipeline"
	"github.com/TobiSchelling/MotionWatch/internal/scheduler"
	"github.com/TobiSchelling/MotionWatch/internal/server"
	"github.com/TobiSchelling/MotionWatch/internal/source"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     = zap.NewNop()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
	_ = logger.Sync()
}

var rootCmd = &cobra.Command{
	Use:          "motionwatch",
	Short:        "Track political motions through review",
	Long:         "MotionWatch collects motions from feeds, registries and council portals, scores them against a keyword lexicon and tracks each through human review.",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger, err = logging.New(cfg.Logging.Level, verbose)
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(importCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("motionwatch", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/motionwatch/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure sources, keywords and the review server.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and review status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Println("Motions:")
		fmt.Printf("  Total: %d (%d versions)\n", stats.Motions, stats.Versions)
		for _, st := range motion.Statuses() {
			fmt.Printf("  %-10s %d\n", st+":", stats.ByStatus[st])
		}
		fmt.Printf("  Pending submissions: %d\n", stats.Pending)
		fmt.Println("\nReview:")
		fmt.Printf("  Human reviews: %d\n", stats.Reviews)
		fmt.Println("\nRuns:")
		if stats.LastRunAt == nil {
			fmt.Println("  No runs yet. Run 'motionwatch collect'.")
		} else {
			fmt.Printf("  Last run: %s (%s)\n", stats.LastRunID, stats.LastRunAt.Local().Format(time.DateTime))
		}
		return nil
	},
}

// --- sources command ---

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List configured sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := cfg.SourceRegistry()
		if err != nil {
			return err
		}

		counts := map[string]int{}
		if db, err := openDB(); err == nil {
			stored, err := db.ListSources(cmd.Context())
			db.Close()
			if err != nil {
				return err
			}
			for _, s := range stored {
				counts[s.ID] = s.Motions
			}
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tADAPTER\tENABLED\tMOTIONS\tLABEL")
		for _, s := range reg.All() {
			fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%s\n", s.ID, s.Kind, s.Enabled, counts[s.ID], s.Name())
		}
		return tw.Flush()
	},
}

// --- collect command ---

var (
	collectOnly   []string
	collectReport bool
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run one pass: collect -> enrich -> score -> store -> report",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe, err := newPipeline(db, collectOnly)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result, err := pipe.Run(ctx)
		if err != nil {
			return err
		}

		for i, step := range result.Steps {
			fmt.Printf("\nStep %d/%d: %s\n", i+1, len(result.Steps), step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}
		if collectReport {
			fmt.Println()
			fmt.Println(result.Report)
		}

		fmt.Printf("\nRun %s complete. Run 'motionwatch serve' to view the report.\n", result.RunID)
		return nil
	},
}

func init() {
	collectCmd.Flags().StringSliceVar(&collectOnly, "source", nil, "Collect only these source ids (enables them for this run)")
	collectCmd.Flags().BoolVar(&collectReport, "report", false, "Print the markdown run report")
}

// --- watch command ---

var watchSync bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run passes on the configured cron schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe, err := newPipeline(db, nil)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sched, err := scheduler.New(cfg.Schedule.Cron, cfg.Schedule.Timezone, func(ctx context.Context) {
			if _, err := pipe.Run(ctx); err != nil {
				logger.Error("scheduled run failed", zap.Error(err))
			}
		}, logger)
		if err != nil {
			return fmt.Errorf("schedule: %w", err)
		}

		if watchSync {
			syncer, err := newSyncer()
			if err != nil {
				return err
			}
			go func() {
				if err := syncer.Run(ctx, cfg.Review.SyncInterval.Duration); err != nil && ctx.Err() == nil {
					logger.Error("decision sync stopped", zap.Error(err))
				}
			}()
		}

		fmt.Printf("Watching with schedule %q (%s). Press Ctrl+C to stop.\n", cfg.Schedule.Cron, sched.Location())
		return sched.Run(ctx)
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchSync, "sync", false, "Also push pending local review decisions")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the review server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		srv, err := server.New(db, server.WithLogger(logger), server.WithLanguages(cfg.Languages.Preference))
		if err != nil {
			return err
		}
		if servePort > 0 {
			cfg.Server.Port = servePort
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Starting server at http://%s\n", cfg.Addr())
		fmt.Println("Press Ctrl+C to stop")
		return srv.ListenAndServe(ctx, cfg.Addr())
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

// --- publish command ---

var publishReviewer string

var publishCmd = &cobra.Command{
	Use:   "publish [id...]",
	Short: "Publish approved motions (all approved when no ids are given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		res, err := pipeline.Publish(cmd.Context(), db, args, reviewerName(publishReviewer), time.Now())
		if err != nil {
			return err
		}
		for _, id := range res.Published {
			fmt.Printf("  published %s\n", id)
		}
		for id, reason := range res.Skipped {
			fmt.Printf("  skipped %s: %s\n", id, reason)
		}
		fmt.Printf("%d published, %d skipped\n", len(res.Published), len(res.Skipped))
		return nil
	},
}

func init() {
	publishCmd.Flags().StringVar(&publishReviewer, "reviewer", "", "Reviewer name recorded on the publish review")
}

// --- submit command ---

var (
	submitURL      string
	submitSummary  string
	submitLanguage string
	submitLabel    string
)

var submitCmd = &cobra.Command{
	Use:   "submit [title]",
	Short: "Submit a motion tip for the next pass",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		id, err := db.InsertSubmission(cmd.Context(), motion.Submission{
			Title:       args[0],
			Summary:     submitSummary,
			URL:         submitURL,
			SourceLabel: submitLabel,
			Language:    submitLanguage,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Added submission [%d]: %s\n", id, args[0])
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitURL, "url", "", "Link to the motion")
	submitCmd.Flags().StringVar(&submitSummary, "summary", "", "Short summary")
	submitCmd.Flags().StringVar(&submitLanguage, "language", "de", "Language code")
	submitCmd.Flags().StringVar(&submitLabel, "label", "", "Where the tip came from")
}

// --- import command ---

type importedDecision struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	DecidedAt string `json:"decidedAt"`
	Reviewer  string `json:"reviewer"`
	Reason    string `json:"reason"`
}

var importCmd = &cobra.Command{
	Use:   "import [decisions.json]",
	Short: "Replay exported review decisions into the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading decisions: %w", err)
		}
		var decisions []importedDecision
		if err := json.Unmarshal(data, &decisions); err != nil {
			return fmt.Errorf("parsing decisions: %w", err)
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		var applied, duplicate, failed int
		for _, d := range decisions {
			st, err := motion.ParseStatus(d.Status)
			if err != nil {
				failed++
				fmt.Printf("  skipped %s: %v\n", d.ID, err)
				continue
			}
			decided, err := time.Parse(time.RFC3339Nano, d.DecidedAt)
			if err != nil {
				failed++
				fmt.Printf("  skipped %s: invalid decidedAt %q\n", d.ID, d.DecidedAt)
				continue
			}
			reviewer := d.Reviewer
			if reviewer == "" {
				reviewer = "import"
			}
			res, err := db.ApplyDecision(cmd.Context(), database.Decision{
				ID:        d.ID,
				Status:    st,
				DecidedAt: decided,
				Reviewer:  reviewer,
				Reason:    d.Reason,
			})
			if err != nil {
				failed++
				fmt.Printf("  skipped %s: %v\n", d.ID, err)
				continue
			}
			if res.Duplicate {
				duplicate++
			} else {
				applied++
			}
		}
		fmt.Printf("%d applied, %d already present, %d skipped\n", applied, duplicate, failed)
		return nil
	},
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(cfg.DBPath(), database.WithLogger(logger))
}

// newPipeline wires the configured sources, adapters and policies. only
// restricts the pass to the named sources and enables them.
func newPipeline(db *database.DB, only []string) (*pipeline.Pipeline, error) {
	descriptors := cfg.Sources
	if len(only) > 0 {
		all, err := cfg.SourceRegistry()
		if err != nil {
			return nil, err
		}
		descriptors = nil
		for _, id := range only {
			s, ok := all.Get(strings.TrimSpace(id))
			if !ok {
				return nil, fmt.Errorf("unknown source %q", id)
			}
			s.Enabled = true
			descriptors = append(descriptors, s)
		}
	}
	sources, err := source.NewRegistry(descriptors)
	if err != nil {
		return nil, fmt.Errorf("config sources: %w", err)
	}

	kinds, err := cfg.KindOverrides(collect.DefaultKindOverrides())
	if err != nil {
		return nil, err
	}

	adapters := adapter.Default(adapter.Deps{
		Logger:      logger.Named("adapter"),
		Keywords:    cfg.Keywords,
		Submissions: db,
	})

	return pipeline.New(db, adapters, pipeline.Options{
		Sources:   sources,
		Keywords:  cfg.Keywords,
		Threshold: cfg.Relevance.Threshold,
		Collect: collect.Options{
			Concurrency:   cfg.Collection.Concurrency,
			GlobalTimeout: cfg.Collection.GlobalTimeout.Duration,
			Defaults:      cfg.RetryPolicy(),
			KindOverrides: kinds,
		},
		Enrich: fetch.Options{
			MaxPerRun: cfg.EnrichMaxPerRun(),
			Timeout:   cfg.Enrich.Timeout.Duration,
		},
	}, logger.Named("pipeline")), nil
}

func reviewerName(flag string) string {
	if flag != "" {
		return flag
	}
	if cfg.Review.Reviewer != "" {
		return cfg.Review.Reviewer
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "reviewer"
}
