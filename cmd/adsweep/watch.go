package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/adsweep/internal/config"
	"github.com/nao1215/adsweep/internal/dom"
	"github.com/nao1215/adsweep/internal/model"
	"github.com/nao1215/adsweep/internal/report"
	"github.com/nao1215/adsweep/internal/session"
	"github.com/nao1215/adsweep/internal/source"
	"github.com/nao1215/adsweep/internal/store"
)

// NewWatchCmd creates the watch command.
func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <page.html|url>",
		Short: "Keep a page scanned while it changes",
		Long: `Watch keeps a page under continuous reconciliation: every change to the
page is debounced, throttled and rescanned, so new ad cards get controls as
they appear and cards the page removes are forgotten.

A local snapshot is re-read whenever the file is written. A URL is opened in
a browser; the page is polled for changes and injected controls are pushed
back into it.

With --interactive, commands read from stdin select, filter, download and
save cards.

Examples:
  # Re-scan a snapshot every time it is saved
  adsweep watch library.html

  # Watch a live ad library search with a visible browser
  adsweep watch --headless=false -i "https://www.facebook.com/ads/library/?q=whatsapp"

  # Attach to a browser started with --remote-debugging-port
  adsweep watch --browser ws://127.0.0.1:9222/devtools/browser/<id> <url>`,
		Args: cobra.ExactArgs(1),
		RunE: runWatchCmd,
	}

	addFilterFlags(cmd)
	cmd.Flags().BoolP("interactive", "i", false, "Read commands from stdin")
	cmd.Flags().String("output-html", "", "Rewrite this file with the annotated page after each scan")
	cmd.Flags().Bool("no-history", false, "Do not record scans in the history database")
	cmd.Flags().Duration("debounce", config.NewConfig().Debounce, "Window in which change bursts collapse into one scan")
	cmd.Flags().Duration("throttle", config.NewConfig().Throttle, "Minimum interval between scan starts")
	cmd.Flags().Duration("reconcile", config.NewConfig().ReconcileInterval, "Interval of the missed-card check")
	cmd.Flags().Int("mutation-limit", config.NewConfig().MutationLimit, "Change events accepted per second before they are ignored")
	cmd.Flags().Bool("headless", true, "Run the launched browser headless")
	cmd.Flags().String("browser", "", "Control URL of a running browser instead of launching one")
	cmd.Flags().Duration("poll", config.NewConfig().PollInterval, "How often a live page is re-captured")

	return cmd
}

// watchOptions are the watch command's flags that do not belong in Config.
type watchOptions struct {
	interactive bool
	outputHTML  string
	filters     filterOverrides
}

func runWatchCmd(cmd *cobra.Command, args []string) error {
	cfg, opts, err := buildWatchConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cfg.Verbose)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runWatch(ctx, cmd, cfg, opts, logger)
}

func buildWatchConfig(cmd *cobra.Command, args []string) (*config.Config, watchOptions, error) {
	var opts watchOptions
	cfg, err := baseConfig(cmd, args)
	if err != nil {
		return nil, opts, err
	}
	if opts.filters, err = applyFilterFlags(cmd, cfg); err != nil {
		return nil, opts, err
	}

	flags := cmd.Flags()
	if opts.interactive, err = flags.GetBool("interactive"); err != nil {
		return nil, opts, err
	}
	if opts.outputHTML, err = flags.GetString("output-html"); err != nil {
		return nil, opts, err
	}
	noHistory, err := flags.GetBool("no-history")
	if err != nil {
		return nil, opts, err
	}
	cfg.SaveToDB = !noHistory
	if cfg.Debounce, err = flags.GetDuration("debounce"); err != nil {
		return nil, opts, err
	}
	if cfg.Throttle, err = flags.GetDuration("throttle"); err != nil {
		return nil, opts, err
	}
	if cfg.ReconcileInterval, err = flags.GetDuration("reconcile"); err != nil {
		return nil, opts, err
	}
	if cfg.MutationLimit, err = flags.GetInt("mutation-limit"); err != nil {
		return nil, opts, err
	}
	if cfg.Headless, err = flags.GetBool("headless"); err != nil {
		return nil, opts, err
	}
	if cfg.ControlURL, err = flags.GetString("browser"); err != nil {
		return nil, opts, err
	}
	if cfg.PollInterval, err = flags.GetDuration("poll"); err != nil {
		return nil, opts, err
	}
	return cfg, opts, nil
}

// isURL reports whether target names a web page rather than a file.
func isURL(target string) bool {
	lower := strings.ToLower(target)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// pageSource is what watch needs from a page: its document, a way to keep
// it current, and optional hooks back into the page.
type pageSource struct {
	doc    *dom.Document
	start  func(ctx context.Context) error
	stop   func()
	sync   func(ctx context.Context) error
	scroll func(ctx context.Context) error
}

func openPageSource(ctx context.Context, cfg *config.Config, target string, logger *slog.Logger) (*pageSource, error) {
	if isURL(target) {
		live, err := source.OpenLive(ctx, target, cfg.LiveOptions(), logger)
		if err != nil {
			return nil, err
		}
		return &pageSource{
			doc: live.Document(),
			start: func(ctx context.Context) error {
				live.Start(ctx)
				return nil
			},
			stop: func() {
				live.Stop()
				live.Close()
			},
			sync:   live.Sync,
			scroll: live.Scroll,
		}, nil
	}

	doc, err := source.LoadFile(target)
	if err != nil {
		return nil, err
	}
	w, err := source.NewWatcher(target, doc, logger)
	if err != nil {
		return nil, err
	}
	return &pageSource{
		doc:   doc,
		start: w.Start,
		stop:  w.Stop,
		scroll: func(context.Context) error {
			doc.Scroll()
			return nil
		},
	}, nil
}

func runWatch(ctx context.Context, cmd *cobra.Command, cfg *config.Config, opts watchOptions, logger *slog.Logger) error {
	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	page, err := openPageSource(ctx, cfg, cfg.Targets[0], logger)
	if err != nil {
		return err
	}
	defer page.stop()

	lock, err := acquirePageLock(page.doc.Address())
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release page lock", "error", err)
		}
	}()

	h := newHost(cfg, st, logger)
	defer h.router.Close()

	con := &console{port: h.router, out: cmd.OutOrStdout(), scroll: page.scroll}
	var extra []session.Option
	if opts.interactive {
		extra = append(extra, session.WithNotifier(consoleNotifier{c: con}))
	}
	s, err := newSession(ctx, cfg, page.doc, st, h, logger, extra...)
	if err != nil {
		return err
	}
	con.session = s
	if err := opts.filters.apply(ctx, s); err != nil {
		return err
	}

	s.OnScan(watchHook(ctx, cmd.OutOrStdout(), st, page, opts, logger))

	if err := page.start(ctx); err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer s.Stop()

	fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s (Ctrl+C to stop)\n", page.doc.Address())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	if opts.interactive {
		g.Go(func() error {
			defer cancel()
			return con.run(gctx, cmd.InOrStdin())
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	return g.Wait()
}

// watchHook reports, records and propagates every scan.
func watchHook(ctx context.Context, out io.Writer, st *store.Store, page *pageSource, opts watchOptions, logger *slog.Logger) func(*model.ScanResult) {
	summary := report.NewSimpleWriter(out)
	return func(result *model.ScanResult) {
		if _, err := summary.WriteSummary([]*model.ScanResult{result}); err != nil {
			logger.Warn("failed to print scan summary", "error", err)
		}
		// Rescans of an unchanged page are not history.
		if result.Admitted > 0 || result.Vanished > 0 {
			saveScanResult(ctx, st, result, logger)
		}
		if page.sync != nil {
			if err := page.sync(ctx); err != nil {
				logger.Warn("failed to sync page", "error", err)
			}
		}
		if opts.outputHTML != "" {
			if err := source.SaveFile(page.doc, filepath.Clean(opts.outputHTML)); err != nil {
				logger.Warn("failed to write annotated page", "error", err)
			}
		}
	}
}
