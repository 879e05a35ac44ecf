package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	exif "github.com/dsoprea/go-exif/v3"

	"github.com/nao1215/adsweep/internal/model"
)

var (
	// ErrTooLarge is returned when a media file exceeds the size limit.
	ErrTooLarge = errors.New("media exceeds size limit")

	// ErrBadStatus is returned for non-2xx download responses.
	ErrBadStatus = errors.New("unexpected HTTP status")
)

// exifTags are the EXIF tags recorded with image downloads.
var exifTags = map[string]bool{
	"Make":             true,
	"Model":            true,
	"Software":         true,
	"DateTimeOriginal": true,
	"Artist":           true,
	"Copyright":        true,
	"ImageWidth":       true,
	"ImageLength":      true,
}

// Downloader fetches ad media into a directory. One client, timeout and size
// limit apply to every file of a bulk download.
type Downloader struct {
	client      *http.Client
	dir         string
	userAgent   string
	maxBodySize int64
	timeout     time.Duration
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*Downloader)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) DownloaderOption {
	return func(d *Downloader) {
		d.client = c
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) DownloaderOption {
	return func(d *Downloader) {
		d.userAgent = ua
	}
}

// WithMaxBodySize sets the maximum media size in bytes.
func WithMaxBodySize(size int64) DownloaderOption {
	return func(d *Downloader) {
		if size > 0 {
			d.maxBodySize = size
		}
	}
}

// WithDownloadTimeout sets the per-request timeout.
func WithDownloadTimeout(timeout time.Duration) DownloaderOption {
	return func(d *Downloader) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDownloader creates a Downloader writing into dir.
func NewDownloader(dir string, opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		client:      http.DefaultClient,
		dir:         dir,
		userAgent:   "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0",
		maxBodySize: 50 * 1024 * 1024, // 50MB
		timeout:     60 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dir returns the download directory.
func (d *Downloader) Dir() string {
	return d.dir
}

// Fetch downloads rawURL and stores it under filename, or under a name
// derived from the URL when filename is empty.
func (d *Downloader) Fetch(ctx context.Context, rawURL, filename string) (*model.Download, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: unsupported media URL %q", ErrInvalidPayload, rawURL)
	}
	name := sanitizeFilename(filename)
	if name == "" {
		name = sanitizeFilename(path.Base(u.Path))
	}
	if name == "" {
		return nil, fmt.Errorf("%w: cannot derive a filename from %q", ErrInvalidPayload, rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}
	if resp.ContentLength > d.maxBodySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	// Read one byte past the limit to detect oversize bodies without a length header.
	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rawURL, err)
	}
	if int64(len(data)) > d.maxBodySize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, d.maxBodySize)
	}

	if err := os.MkdirAll(d.dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}
	dest := filepath.Join(d.dir, name)
	if err := os.WriteFile(dest, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", dest, err)
	}

	return &model.Download{
		URL:         rawURL,
		Filename:    name,
		Path:        dest,
		Size:        int64(len(data)),
		ContentType: resp.Header.Get("Content-Type"),
		FetchedAt:   time.Now(),
		Metadata:    inspectEXIF(data),
	}, nil
}

// inspectEXIF returns selected EXIF tags, or nil when the data carries none.
func inspectEXIF(data []byte) map[string]string {
	raw, err := exif.SearchAndExtractExif(data)
	if err != nil || raw == nil {
		return nil
	}
	entries, _, err := exif.GetFlatExifData(raw, nil)
	if err != nil {
		return nil
	}
	tags := make(map[string]string)
	for _, entry := range entries {
		if exifTags[entry.TagName] && entry.Formatted != "" {
			tags[entry.TagName] = entry.Formatted
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

// sanitizeFilename keeps only the base name and rejects dot names.
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
	if name == "." || name == ".." || name == "/" {
		return ""
	}
	return name
}
