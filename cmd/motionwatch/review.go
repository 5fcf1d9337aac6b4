package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/MotionWatch/internal/motion"
	"github.com/TobiSchelling/MotionWatch/internal/retry"
	"github.com/TobiSchelling/MotionWatch/internal/review"
)

// --- review command ---

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review motions against the review server, offline when needed",
}

var (
	listIncludeDecided bool
	listLimit          int
)

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the review queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := openCache()
		if err != nil {
			return err
		}
		client := review.NewClient(cfg.Review.ServerURL, nil)

		view, err := review.LoadQueue(cmd.Context(), client, cache, review.QueueOptions{
			IncludeDecided: listIncludeDecided,
			Limit:          listLimit,
			Languages:      cfg.Languages.Preference,
		}, time.Now())
		if err != nil {
			return fmt.Errorf("no review queue available: %w", err)
		}
		if view.Stale {
			fmt.Printf("Server unreachable (%v); showing queue cached at %s.\n\n",
				view.FetchErr, view.FetchedAt.Local().Format(time.DateTime))
		}
		if len(view.Items) == 0 {
			fmt.Println("Review queue is empty.")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tSCORE\tSYNC\tTITLE")
		for _, it := range view.Items {
			flag := ""
			if it.Fastlane {
				flag = "* "
			}
			fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%s%s\n", it.ID, it.Status, it.Score, it.Sync, flag, truncate(it.Title, 70))
		}
		return tw.Flush()
	},
}

func init() {
	reviewListCmd.Flags().BoolVar(&listIncludeDecided, "all", false, "Include decided motions")
	reviewListCmd.Flags().IntVarP(&listLimit, "limit", "n", 50, "Maximum items to show")
}

var (
	decideReason   string
	decideReviewer string
	decideOffline  bool
)

var reviewDecideCmd = &cobra.Command{
	Use:   "decide [id] [status]",
	Short: "Record a decision locally and push it to the server",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, _, err := motion.ParseID(args[0]); err != nil {
			return err
		}
		st, err := review.ParseVerdict(args[1])
		if err != nil {
			return err
		}

		cache, err := openCache()
		if err != nil {
			return err
		}
		if snap, ok := cache.Queue(); ok {
			for _, it := range snap.Items {
				if it.ID == args[0] {
					if err := review.Transition(it.Status, st, review.ActorReviewer); err != nil {
						return err
					}
					break
				}
			}
		}

		d, err := cache.Record(review.LocalDecision{
			ID:        args[0],
			Status:    st,
			DecidedAt: time.Now().UTC(),
			Reviewer:  reviewerName(decideReviewer),
			Reason:    decideReason,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Recorded %s -> %s\n", d.ID, d.Status)
		if decideOffline {
			return nil
		}

		syncer := review.NewSyncer(cache, review.NewClient(cfg.Review.ServerURL, nil), noRetry(), cfg.Review.MaxSyncAttempts, logger.Named("sync"))
		res, err := syncer.SyncOnce(cmd.Context())
		if err != nil {
			return err
		}
		printSync(res)
		return nil
	},
}

func init() {
	reviewDecideCmd.Flags().StringVar(&decideReason, "reason", "", "Reason shown with the decision")
	reviewDecideCmd.Flags().StringVar(&decideReviewer, "reviewer", "", "Reviewer name (default from config or $USER)")
	reviewDecideCmd.Flags().BoolVar(&decideOffline, "offline", false, "Only record locally; push on the next sync")
}

var syncLoop bool

var reviewSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push pending local decisions to the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		syncer, err := newSyncer()
		if err != nil {
			return err
		}
		if syncLoop {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			fmt.Printf("Syncing every %s. Press Ctrl+C to stop.\n", cfg.Review.SyncInterval)
			return syncer.Run(ctx, cfg.Review.SyncInterval.Duration)
		}
		res, err := syncer.SyncOnce(cmd.Context())
		if err != nil {
			return err
		}
		printSync(res)
		return nil
	},
}

func init() {
	reviewSyncCmd.Flags().BoolVar(&syncLoop, "loop", false, "Keep syncing on the configured interval")

	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewDecideCmd)
	reviewCmd.AddCommand(reviewSyncCmd)
}

func openCache() (*review.Cache, error) {
	cache, err := review.LoadCache(cfg.ReviewCachePath(), logger.Named("cache"))
	if err != nil {
		return nil, err
	}
	if cache.Discarded {
		fmt.Fprintf(os.Stderr, "warning: review cache %s was corrupt and has been reset\n", cache.Path())
	}
	return cache, nil
}

func newSyncer() (*review.Syncer, error) {
	cache, err := openCache()
	if err != nil {
		return nil, err
	}
	client := review.NewClient(cfg.Review.ServerURL, nil)
	return review.NewSyncer(cache, client, cfg.RetryPolicy(), cfg.Review.MaxSyncAttempts, logger.Named("sync")), nil
}

// noRetry keeps an interactive decide snappy; the next sync retries.
func noRetry() retry.Policy {
	p := cfg.RetryPolicy()
	p.Retries = 0
	return p
}

func printSync(res *review.SyncResult) {
	fmt.Printf("%d synced, %d pending, %d local-only\n", res.Synced, res.Pending, res.LocalOnly)
	if res.LocalOnly > 0 {
		logger.Warn("some decisions were rejected by the server", zap.Int("count", res.LocalOnly))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
