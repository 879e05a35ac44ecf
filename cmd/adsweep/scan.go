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
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/adsweep/internal/config"
	"github.com/nao1215/adsweep/internal/model"
	"github.com/nao1215/adsweep/internal/pipeline"
	"github.com/nao1215/adsweep/internal/report"
	"github.com/nao1215/adsweep/internal/session"
	"github.com/nao1215/adsweep/internal/source"
	"github.com/nao1215/adsweep/internal/store"
)

// NewScanCmd creates the scan command.
func NewScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <page.html>...",
		Short: "Scan saved ad library pages once",
		Long: `Scan runs one detection pass over each saved ad library page and reports
the ad cards it found, which of them drive traffic to WhatsApp, and how the
current filter projects them.

Examples:
  # Scan one snapshot
  adsweep scan library.html

  # Scan several snapshots in parallel, WhatsApp ads only, as Markdown
  adsweep scan -w --markdown -o report.md pages/*.html

  # Keep the annotated pages
  adsweep scan --output-dir annotated/ library.html

  # Download media of every visible WhatsApp ad
  adsweep scan -w --download library.html`,
		Args: cobra.MinimumNArgs(1),
		RunE: runScanCmd,
	}

	addFilterFlags(cmd)
	cmd.Flags().IntP("concurrency", "n", config.DefaultConcurrency,
		"Number of pages scanned in parallel")
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")
	cmd.Flags().String("output-dir", "",
		"Write each page with injected controls to this directory")
	cmd.Flags().Bool("no-history", false,
		"Do not record scans in the history database")
	cmd.Flags().Bool("download", false,
		"Select every visible card and download its media")

	return cmd
}

// scanOptions are the scan command's flags that do not belong in Config.
type scanOptions struct {
	download bool
	filters  filterOverrides
}

func runScanCmd(cmd *cobra.Command, args []string) error {
	cfg, opts, err := buildScanConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cfg.Verbose)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return runScan(ctx, cmd, cfg, opts, logger)
}

// buildScanConfig creates a Config from the scan command's flags.
func buildScanConfig(cmd *cobra.Command, args []string) (*config.Config, scanOptions, error) {
	var opts scanOptions
	cfg, err := baseConfig(cmd, args)
	if err != nil {
		return nil, opts, err
	}
	if opts.filters, err = applyFilterFlags(cmd, cfg); err != nil {
		return nil, opts, err
	}

	if cfg.Concurrency, err = cmd.Flags().GetInt("concurrency"); err != nil {
		return nil, opts, err
	}
	if cfg.JSONReport, err = cmd.Flags().GetBool("json"); err != nil {
		return nil, opts, err
	}
	if cfg.MarkdownReport, err = cmd.Flags().GetBool("markdown"); err != nil {
		return nil, opts, err
	}
	if cfg.ReportFile, err = cmd.Flags().GetString("output"); err != nil {
		return nil, opts, err
	}
	if cfg.OutputDir, err = cmd.Flags().GetString("output-dir"); err != nil {
		return nil, opts, err
	}
	noHistory, err := cmd.Flags().GetBool("no-history")
	if err != nil {
		return nil, opts, err
	}
	cfg.SaveToDB = !noHistory
	if opts.download, err = cmd.Flags().GetBool("download"); err != nil {
		return nil, opts, err
	}
	return cfg, opts, nil
}

// runScan scans every target and writes the reports.
func runScan(ctx context.Context, cmd *cobra.Command, cfg *config.Config, opts scanOptions, logger *slog.Logger) error {
	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	out, closeOut, err := openOutput(cmd, cfg.ReportFile)
	if err != nil {
		return err
	}
	defer closeOut() //nolint:errcheck // Best effort close on the error path

	if cfg.OutputDir != "" {
		if err := os.MkdirAll(cfg.OutputDir, 0o750); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	var h *host
	if opts.download {
		h = newHost(cfg, st, logger)
		defer h.router.Close()
	}

	scanner := &fileScanner{cfg: cfg, opts: opts, store: st, host: h, logger: logger, progress: cmd.ErrOrStderr()}
	bp := pipeline.NewBatchProcessor(scanner.scan,
		pipeline.WithConcurrency(cfg.Concurrency),
		pipeline.WithBatchLogger(logger),
	)

	var writer report.Writer = newReportWriter(cfg, out)
	if cfg.ReportFile != "" {
		// Keep a plain summary on the terminal when the report goes to a file.
		writer = report.NewMultiWriter(writer, report.NewSimpleWriter(cmd.OutOrStdout()))
	}
	results := make([]*model.ScanResult, len(cfg.Targets))
	var mu sync.Mutex
	started := time.Now()

	// JSON is written once at the end so the output stays one document.
	streaming := !cfg.JSONReport
	err = bp.ProcessBatchWithCallback(ctx, cfg.Targets, func(result *model.ScanResult, index int) {
		mu.Lock()
		defer mu.Unlock()
		results[index] = result
		if streaming {
			if _, err := writer.Write(result); err != nil {
				logger.Error("report failed", "target", result.Address, "error", err)
			}
		}
		saveScanResult(ctx, st, result, logger)
	})

	switch {
	case cfg.JSONReport && len(results) == 1 && results[0] != nil:
		if _, werr := writer.Write(results[0]); werr != nil {
			return werr
		}
	case cfg.JSONReport:
		if _, werr := writer.WriteSummary(results); werr != nil {
			return werr
		}
	case len(results) > 1:
		if _, werr := writer.WriteSummary(results); werr != nil {
			return werr
		}
	}

	logger.Info("scan finished", "targets", len(cfg.Targets), "elapsed", time.Since(started).Round(time.Millisecond))
	if err != nil {
		return err
	}
	if err := closeOut(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// fileScanner scans one snapshot per call in its own session.
type fileScanner struct {
	cfg      *config.Config
	opts     scanOptions
	store    *store.Store
	host     *host
	logger   *slog.Logger
	progress io.Writer

	mu sync.Mutex
}

func (f *fileScanner) scan(ctx context.Context, path string) (*model.ScanResult, error) {
	doc, err := source.LoadFile(path)
	if err != nil {
		return nil, err
	}
	logger := f.logger.With("file", filepath.Base(path))
	s, err := newSession(ctx, f.cfg, doc, f.store, f.host, logger)
	if err != nil {
		return nil, err
	}
	if err := f.opts.filters.apply(ctx, s); err != nil {
		return nil, err
	}

	result, _ := s.ScanNow()
	if result == nil {
		return nil, fmt.Errorf("scan of %s did not run", path)
	}

	if f.opts.download {
		if n := s.SelectAll(ctx); n > 0 {
			bulk := s.BulkDownload(ctx, func(p session.Progress) {
				f.reportProgress(path, p)
			})
			logger.Info("media downloaded", "succeeded", bulk.Succeeded, "failed", len(bulk.Failed))
		}
		result = s.LastResult()
	}

	if f.cfg.OutputDir != "" {
		target := filepath.Join(f.cfg.OutputDir, annotatedName(path))
		if err := source.SaveFile(doc, target); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (f *fileScanner) reportProgress(path string, p session.Progress) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := "ok"
	if p.Err != nil {
		status = p.Err.Error()
	}
	fmt.Fprintf(f.progress, "[%s %d/%d] %s: %s\n", filepath.Base(path), p.Index, p.Total, model.ShortID(p.ID), status)
}

// annotatedName is the output file name of an annotated snapshot.
func annotatedName(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + ".adsweep" + ext
}

// saveScanResult records result in history. A nil store is a no-op.
func saveScanResult(ctx context.Context, st *store.Store, result *model.ScanResult, logger *slog.Logger) {
	if st == nil || result == nil {
		return
	}
	if err := st.SaveScanResult(ctx, result); err != nil {
		logger.Error("failed to save scan result", "target", result.Address, "error", err)
		return
	}
	logger.Debug("scan result saved", "target", result.Address)
}
