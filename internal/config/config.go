package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"

	"github.com/nao1215/adsweep/internal/channel"
	"github.com/nao1215/adsweep/internal/detect"
	"github.com/nao1215/adsweep/internal/extract"
	"github.com/nao1215/adsweep/internal/model"
	"github.com/nao1215/adsweep/internal/scan"
	"github.com/nao1215/adsweep/internal/source"
)

// Default configuration values not owned by another package.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "adsweep"

	// DefaultConcurrency is the number of files scanned in parallel by `scan`.
	DefaultConcurrency = 4

	// DefaultUserAgent identifies adsweep in media downloads.
	DefaultUserAgent = "adsweep/1.0 (+https://github.com/nao1215/adsweep)"

	// DefaultMaxBodySize limits one media download.
	DefaultMaxBodySize = 50 * 1024 * 1024

	// DefaultDownloadTimeout bounds one media download.
	DefaultDownloadTimeout = 2 * time.Minute

	// DefaultNavigationTimeout bounds the initial page load in live mode.
	DefaultNavigationTimeout = time.Minute
)

// Config holds all configuration options for adsweep.
// It is populated from CLI flags, then from the config file, and passed
// down explicitly.
type Config struct {
	// Targets are HTML files, or a single URL for live watching.
	Targets []string

	// Verbose enables debug logging.
	Verbose bool

	// ConfigFilePath is an explicit config file. Empty means search for
	// .adsweep in the working and home directories.
	ConfigFilePath string

	// File is the parsed config file, nil when none was found.
	File *File

	// Scheduler timing. Zero selects the scheduler default.
	Debounce          time.Duration
	Throttle          time.Duration
	ScrollSettle      time.Duration
	ReconcileInterval time.Duration
	MutationLimit     int
	MutationWindow    time.Duration

	// DetectLimit caps candidates per scan.
	DetectLimit int

	// Filter holds the filter defaults applied before persisted settings load.
	Filter model.FilterState

	// Concurrency is the number of files `scan` processes in parallel.
	Concurrency int

	// JSONReport and MarkdownReport select the report format.
	// Neither set means plain text.
	JSONReport     bool
	MarkdownReport bool

	// ReportFile writes the report to a file instead of stdout.
	ReportFile string

	// OutputDir, when set, receives the annotated HTML of each scanned file.
	OutputDir string

	// DBDir holds the SQLite database. Empty disables persistence.
	DBDir string

	// SaveToDB records scan results in history.
	SaveToDB bool

	// DownloadDir receives downloaded ad media.
	DownloadDir string

	// LibraryBase is the ad library address ids are appended to.
	LibraryBase string

	// UserAgent and MaxBodySize configure media downloads.
	UserAgent       string
	MaxBodySize     int64
	DownloadTimeout time.Duration

	// Live mode: browser control and page polling.
	ControlURL        string
	Headless          bool
	PollInterval      time.Duration
	NavigationTimeout time.Duration
	BrowserProfile    string
}

// NewConfig returns a Config with default values.
func NewConfig() *Config {
	return &Config{
		Debounce:          scan.DefaultDebounce,
		Throttle:          scan.DefaultThrottle,
		ScrollSettle:      scan.DefaultScrollSettle,
		ReconcileInterval: scan.DefaultReconcileInterval,
		MutationLimit:     scan.DefaultMutationLimit,
		MutationWindow:    scan.DefaultMutationWindow,
		DetectLimit:       detect.MaxResults,
		Filter:            model.NewFilterState(),
		Concurrency:       DefaultConcurrency,
		DBDir:             XDGDataDir(),
		SaveToDB:          true,
		DownloadDir:       filepath.Join(xdg.UserDirs.Download, AppName),
		LibraryBase:       extract.DefaultLibraryBase,
		UserAgent:         DefaultUserAgent,
		MaxBodySize:       DefaultMaxBodySize,
		DownloadTimeout:   DefaultDownloadTimeout,
		Headless:          true,
		PollInterval:      source.DefaultPollInterval,
		NavigationTimeout: DefaultNavigationTimeout,
		BrowserProfile:    filepath.Join(XDGCacheDir(), "browser"),
	}
}

// XDGDataDir returns the XDG data directory for adsweep.
// On Linux: ~/.local/share/adsweep
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for adsweep.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGCacheDir returns the XDG cache directory for adsweep.
// Live mode keeps its browser profile here.
func XDGCacheDir() string {
	return filepath.Join(xdg.CacheHome, AppName)
}

// Validate returns the first invalid setting found.
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return ErrNoTarget
	}
	if c.Debounce < 0 {
		return ErrInvalidDebounce
	}
	if c.Throttle < 0 {
		return ErrInvalidThrottle
	}
	if c.ScrollSettle < 0 {
		return ErrInvalidScrollSettle
	}
	if c.ReconcileInterval < 0 {
		return ErrInvalidReconcile
	}
	if c.MutationLimit <= 0 {
		return ErrInvalidMutationLimit
	}
	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}
	if c.Filter.MinActiveCount < 0 {
		return ErrInvalidMinActive
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}
	if c.PollInterval < 0 {
		return ErrInvalidPollInterval
	}
	return nil
}

// SchedulerOptions converts the timing settings into scheduler options.
func (c *Config) SchedulerOptions() []scan.Option {
	return []scan.Option{
		scan.WithTiming(c.Debounce, c.Throttle, c.ScrollSettle, c.ReconcileInterval),
		scan.WithMutationBudget(c.MutationLimit, c.MutationWindow),
	}
}

// DownloaderOptions converts the download settings into downloader options.
func (c *Config) DownloaderOptions() []channel.DownloaderOption {
	opts := []channel.DownloaderOption{channel.WithUserAgent(c.UserAgent)}
	if c.MaxBodySize > 0 {
		opts = append(opts, channel.WithMaxBodySize(c.MaxBodySize))
	}
	if c.DownloadTimeout > 0 {
		opts = append(opts, channel.WithDownloadTimeout(c.DownloadTimeout))
	}
	return opts
}

// LiveOptions converts the browser settings into live source options.
func (c *Config) LiveOptions() source.LiveOptions {
	return source.LiveOptions{
		ControlURL:        c.ControlURL,
		Headless:          c.Headless,
		PollInterval:      c.PollInterval,
		NavigationTimeout: c.NavigationTimeout,
		UserDataDir:       c.BrowserProfile,
	}
}
