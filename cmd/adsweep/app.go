package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nao1215/adsweep/internal/channel"
	"github.com/nao1215/adsweep/internal/config"
	"github.com/nao1215/adsweep/internal/dom"
	adslog "github.com/nao1215/adsweep/internal/log"
	"github.com/nao1215/adsweep/internal/report"
	"github.com/nao1215/adsweep/internal/session"
	"github.com/nao1215/adsweep/internal/store"
)

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// setupLogger creates the secure structured logger used by every command.
func setupLogger(verbose bool) *slog.Logger {
	return adslog.NewSecureLogger(os.Stderr, verbose)
}

// baseConfig builds a Config from the persistent flags and the config file.
// Command-specific flags are applied by the caller.
func baseConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()
	cfg.Targets = args
	cfg.Verbose = getVerboseFlag(cmd)

	var err error
	cfg.ConfigFilePath, err = cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	explicit := cfg.ConfigFilePath != ""
	path := config.FindConfigFile(cfg.ConfigFilePath)
	switch {
	case path != "":
		f, err := config.LoadConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		cfg.Apply(f)
	case explicit:
		return nil, fmt.Errorf("configuration file not found: %s", cfg.ConfigFilePath)
	}

	dbDir, err := cmd.Flags().GetString("db-dir")
	if err != nil {
		return nil, err
	}
	if dbDir != "" {
		cfg.DBDir = dbDir
	}
	return cfg, nil
}

// filterOverrides are filter flags the user set explicitly. They win over
// persisted settings, so they are applied after the session loads them.
type filterOverrides struct {
	topicOnly *bool
	minActive *int
}

func (o filterOverrides) apply(ctx context.Context, s *session.Session) error {
	if o.topicOnly != nil && s.Filter().TopicOnly != *o.topicOnly {
		if err := s.SetTopicOnly(ctx, *o.topicOnly); err != nil {
			return err
		}
	}
	if o.minActive != nil && s.Filter().MinActiveCount != *o.minActive {
		if err := s.SetMinActiveCount(ctx, *o.minActive); err != nil {
			return err
		}
	}
	return nil
}

// applyFilterFlags copies explicitly set filter flags into cfg.
func applyFilterFlags(cmd *cobra.Command, cfg *config.Config) (filterOverrides, error) {
	var o filterOverrides
	if cmd.Flags().Changed("whatsapp-only") {
		on, err := cmd.Flags().GetBool("whatsapp-only")
		if err != nil {
			return o, err
		}
		cfg.Filter.TopicOnly = on
		o.topicOnly = &on
	}
	if cmd.Flags().Changed("min-active") {
		n, err := cmd.Flags().GetInt("min-active")
		if err != nil {
			return o, err
		}
		cfg.Filter.MinActiveCount = n
		o.minActive = &n
	}
	if cmd.Flags().Changed("library-base") {
		base, err := cmd.Flags().GetString("library-base")
		if err != nil {
			return o, err
		}
		cfg.LibraryBase = base
	}
	if cmd.Flags().Changed("download-dir") {
		dir, err := cmd.Flags().GetString("download-dir")
		if err != nil {
			return o, err
		}
		cfg.DownloadDir = dir
	}
	return o, nil
}

// addFilterFlags registers the flags read by applyFilterFlags.
func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP("whatsapp-only", "w", false, "Show only ads that drive traffic to WhatsApp")
	cmd.Flags().Int("min-active", 0, "Hide ads with fewer active ads sharing the creative")
	cmd.Flags().String("library-base", "", "Ad library address used for canonical references")
	cmd.Flags().String("download-dir", "", "Directory for downloaded ad media")
}

// openStore opens the database, or returns nil when persistence is off.
func openStore(cfg *config.Config, logger *slog.Logger) (*store.Store, error) {
	if !cfg.SaveToDB || cfg.DBDir == "" {
		return nil, nil
	}
	st, err := store.Open(cfg.DBDir, store.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	logger.Debug("database opened", "path", st.Path())
	return st, nil
}

// host is the background side of a session: the router the session talks
// to and the handlers behind it.
type host struct {
	router     *channel.Router
	background *channel.Background
}

func newHost(cfg *config.Config, st *store.Store, logger *slog.Logger) *host {
	downloader := channel.NewDownloader(cfg.DownloadDir, cfg.DownloaderOptions()...)
	var offers channel.OfferStore
	if st != nil {
		offers = st
	}
	h := &host{
		router:     channel.NewRouter(channel.WithRouterLogger(logger)),
		background: channel.NewBackground(downloader, offers, logger),
	}
	h.background.Register(h.router)
	return h
}

// newSession creates and initializes a session for doc. A nil host leaves
// the session without a background, which only matters for downloads and
// saved offers.
func newSession(ctx context.Context, cfg *config.Config, doc *dom.Document, st *store.Store, h *host, logger *slog.Logger, extra ...session.Option) (*session.Session, error) {
	site := cfg.Site(doc.Address())
	opts := []session.Option{
		session.WithLogger(logger),
		session.WithVocabulary(cfg.File.Vocabulary()),
		session.WithLibraryBase(site.LibraryBase),
		session.WithDetectLimit(site.DetectLimit),
		session.WithFilterDefaults(site.ApplyFilter(cfg.Filter)),
		session.WithSchedulerOptions(cfg.SchedulerOptions()...),
	}
	if st != nil {
		opts = append(opts, session.WithSettings(st))
	}
	if h != nil {
		opts = append(opts, session.WithPort(h.router))
	}
	opts = append(opts, extra...)

	s := session.New(doc, opts...)
	if h != nil {
		s.Register(h.router)
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// openOutput returns the report destination: a file when path is set,
// stdout otherwise. The returned close function is always non-nil.
func openOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	// Reports can name saved pages and references; keep them owner-only.
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f.Close, nil
}

// newReportWriter selects the report format.
func newReportWriter(cfg *config.Config, out io.Writer) report.Writer {
	switch {
	case cfg.JSONReport:
		return report.NewJSONWriter(out, report.WithPrettyPrint(), report.WithVersion(getVersion()))
	case cfg.MarkdownReport:
		return report.NewMarkdownWriter(out)
	default:
		return report.NewSimpleWriter(out, report.WithVerbose(cfg.Verbose))
	}
}

// closeStore closes st if it is open.
func closeStore(st *store.Store, logger *slog.Logger) {
	if st == nil {
		return
	}
	if err := st.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		logger.Warn("failed to close database", "error", err)
	}
}
