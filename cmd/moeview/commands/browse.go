package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/moeview/moeview/internal/api"
	"github.com/moeview/moeview/internal/logger"
	"github.com/moeview/moeview/pkg/booru"
	"github.com/moeview/moeview/pkg/cache"
	"github.com/moeview/moeview/pkg/config"
	"github.com/moeview/moeview/pkg/events"
	"github.com/moeview/moeview/pkg/fetch"
	"github.com/moeview/moeview/pkg/metrics"
	"github.com/moeview/moeview/pkg/preload"
	"github.com/moeview/moeview/pkg/session"
	"github.com/moeview/moeview/pkg/viewer"
)

var (
	browseTags  string
	browsePages int
	browseLimit int
	browseStart int
	browseCount int
	browseDelay time.Duration
)

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Browse posts from the configured board",
	Long: `Browse posts from the configured Moebooru board.

Posts matching the given tags are walked in order. Each post is served
from the tiered cache when resident, fetched at interactive priority
otherwise, and the preload scheduler keeps a window of upcoming posts
warm in the background.

The session database records every viewed post; a later browse of the
same tags resumes from the last position unless --start is given.

Examples:
  # Browse the newest posts
  moeview browse

  # Browse a tag search, two pages deep
  moeview browse --tags "landscape" --pages 2

  # Slideshow with a fixed delay per post
  moeview browse --delay 2s`,
	RunE: runBrowse,
}

func init() {
	browseCmd.Flags().StringVar(&browseTags, "tags", "", "Tag query to search for (empty: newest posts)")
	browseCmd.Flags().IntVar(&browsePages, "pages", 1, "Number of result pages to load")
	browseCmd.Flags().IntVar(&browseLimit, "limit", 100, "Posts per page")
	browseCmd.Flags().IntVar(&browseStart, "start", -1, "Start position (default: resume last session)")
	browseCmd.Flags().IntVar(&browseCount, "count", 0, "Number of posts to view (0: all)")
	browseCmd.Flags().DurationVar(&browseDelay, "delay", 0, "Delay between posts")
}

// loadConfig loads the configuration and applies the logging settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func runBrowse(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics are only reachable through the stats server, so the
	// registry exists only when the server does. A nil registry
	// disables every recorder.
	var promReg *prometheus.Registry
	if cfg.API.IsEnabled() {
		promReg = metrics.NewRegistry()
	}

	client := booru.NewClient(cfg.Source.BaseURL,
		booru.WithUserAgent(cfg.Source.UserAgent),
		booru.WithHTTPClient(&http.Client{Timeout: cfg.Source.Timeout}),
	)

	tc, err := cache.New(cache.Config{
		MemoryBudget:   cfg.Cache.MemoryBudget.Uint64(),
		DiskBudget:     cfg.Cache.DiskBudget.Uint64(),
		DiskPath:       cfg.Cache.DiskPath,
		FreeSpaceFloor: cfg.Cache.FreeSpaceFloor.Uint64(),
		Compression:    cfg.Cache.CompressionEnabled(),
	}, metrics.NewCacheMetrics(promReg))
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer func() { _ = tc.Close() }()

	bus := events.NewBus()
	if promReg != nil {
		unobserve := metrics.ObserveBus(promReg, bus)
		defer unobserve()
	}

	coord := fetch.NewCoordinator(client, tc, fetch.Config{
		Workers:           cfg.Download.Workers,
		QueueSize:         cfg.Download.QueueSize,
		MaxRetries:        cfg.Download.MaxRetries,
		InitialBackoff:    cfg.Download.InitialBackoff,
		BackoffMultiplier: cfg.Download.BackoffMultiplier,
		MaxBackoff:        cfg.Download.MaxBackoff,
		TransferTimeout:   cfg.Download.TransferTimeout,
	}, metrics.NewFetchMetrics(promReg), viewer.ProgressPublisher(bus))
	coord.Start()
	defer coord.Stop(10 * time.Second)

	sched := preload.NewScheduler(coord, tc, bus, preload.Config{
		ForwardWindow:   cfg.Preload.ForwardWindow,
		BackwardWindow:  cfg.Preload.BackwardWindow,
		MinWindow:       cfg.Preload.MinWindow,
		MaxWindow:       cfg.Preload.MaxWindow,
		RefetchBackward: cfg.Preload.RefetchBackwardEnabled(),
		Workers:         cfg.Download.Workers,
	})

	v := viewer.New(coord, tc, sched, bus)

	sess, err := session.Open(cfg.Session)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer func() { _ = sess.Close() }()

	// Mark in-flight transfers so the next run re-requests anything a
	// crash or shutdown interrupted.
	defer sess.TrackProgress(bus)()

	if n, err := sess.ResumeIncomplete(ctx, coord); err != nil {
		logger.Warn("Failed to resume incomplete fetches", logger.KeyError, err)
	} else if n > 0 {
		logger.Info("Resumed incomplete fetches", logger.KeyCount, n)
	}

	if cfg.API.IsEnabled() {
		srv := api.NewServer(cfg.API, api.Deps{
			Cache: tc,
			Coord: coord,
			Sched: sched,
			Bus:   bus,
		}, promReg)
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("Stats server failed", logger.KeyError, err)
			}
		}()
	}

	metas, err := searchPosts(ctx, client)
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		fmt.Println("No posts found.")
		return nil
	}

	ids := make([]booru.ItemID, len(metas))
	byID := make(map[booru.ItemID]*booru.Metadata, len(metas))
	for i, m := range metas {
		ids[i] = m.ID
		byID[m.ID] = m
	}
	v.SetCandidates(preload.NewStaticCandidates(ids))

	stream := session.DefaultStream
	if browseTags != "" {
		stream = browseTags
	}

	start := browseStart
	if start < 0 {
		start = 0
		if pos, ok, err := sess.LastPosition(ctx, stream); err == nil && ok && pos+1 < len(ids) {
			start = pos + 1
			logger.Info("Resuming session", logger.KeyPosition, start)
		}
	}
	if start >= len(ids) {
		start = 0
	}

	fmt.Printf("Browsing %d posts (position %d)\n", len(ids), start)

	viewed := 0
	for pos := start; pos < len(ids); pos++ {
		if browseCount > 0 && viewed >= browseCount {
			break
		}

		view, err := v.OnNavigate(pos)
		if err != nil {
			return err
		}

		rec, err := view.Wait(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			fmt.Printf("  [%d/%d] post %d: failed: %v\n", pos+1, len(ids), view.Item, err)
			viewed++
			continue
		}

		printServed(pos, len(ids), rec, byID[rec.ID])
		viewed++

		if err := sess.RecordView(ctx, stream, rec.ID, pos); err != nil {
			logger.Warn("Failed to record view", logger.KeyError, err)
		}

		if browseDelay > 0 {
			select {
			case <-time.After(browseDelay):
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	if ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, "\nInterrupted.")
	}

	stats := tc.Stats()
	fmt.Printf("\nViewed %d posts. Cache: %d hits, %d misses.\n",
		viewed, stats.Hits, stats.Misses)
	return nil
}

// searchPosts loads up to --pages pages of results for the tag query.
func searchPosts(ctx context.Context, client *booru.Client) ([]*booru.Metadata, error) {
	var metas []*booru.Metadata
	for page := 1; page <= browsePages; page++ {
		batch, err := client.Search(ctx, browseTags, page, browseLimit)
		if err != nil {
			return nil, fmt.Errorf("search failed: %w", err)
		}
		metas = append(metas, batch...)
		if len(batch) < browseLimit {
			break
		}
	}
	return metas, nil
}

func printServed(pos, total int, rec *cache.Record, meta *booru.Metadata) {
	ext := ""
	if meta != nil {
		ext = meta.Ext
	}
	fmt.Printf("  [%d/%d] post %d: %s %s, %d bytes (%s)\n",
		pos+1, total, rec.ID, rec.Kind, ext, len(rec.Data), rec.Tier)
}
