package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/adsweep/internal/model"
)

// SaveOffer inserts an offer and returns its id.
func (s *Store) SaveOffer(ctx context.Context, offer *model.Offer) (int64, error) {
	query := `
	INSERT INTO offers (offer_name, external_reference, saved_by)
	VALUES (?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, offer.Name, offer.ExternalReference, offer.SavedBy)
	if err != nil {
		return 0, fmt.Errorf("failed to save offer: %w", err)
	}
	return result.LastInsertId()
}

// ListOffers returns saved offers, newest first.
func (s *Store) ListOffers(ctx context.Context) ([]model.Offer, error) {
	query := `
	SELECT id, offer_name, external_reference, COALESCE(saved_by, ''), timestamp
	FROM offers
	ORDER BY id DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list offers: %w", err)
	}
	defer rows.Close()

	offers := make([]model.Offer, 0)
	for rows.Next() {
		var o model.Offer
		var timestamp string
		if err := rows.Scan(&o.ID, &o.Name, &o.ExternalReference, &o.SavedBy, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		o.SavedAt = parseTimestamp(timestamp)
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

// RecordDownload inserts a download record and returns its id.
func (s *Store) RecordDownload(ctx context.Context, d *model.Download) (int64, error) {
	var metadata []byte
	if len(d.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(d.Metadata)
		if err != nil {
			return 0, fmt.Errorf("failed to serialize metadata: %w", err)
		}
	}

	query := `
	INSERT INTO downloads (url, filename, path, size, content_type, metadata)
	VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		d.URL,
		d.Filename,
		d.Path,
		d.Size,
		d.ContentType,
		string(metadata),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record download: %w", err)
	}
	return result.LastInsertId()
}

// ListDownloads returns download records, newest first.
func (s *Store) ListDownloads(ctx context.Context) ([]model.Download, error) {
	query := `
	SELECT id, url, filename, path, size, COALESCE(content_type, ''), COALESCE(metadata, ''), timestamp
	FROM downloads
	ORDER BY id DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list downloads: %w", err)
	}
	defer rows.Close()

	downloads := make([]model.Download, 0)
	for rows.Next() {
		var d model.Download
		var metadata, timestamp string
		if err := rows.Scan(&d.ID, &d.URL, &d.Filename, &d.Path, &d.Size, &d.ContentType, &metadata, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan download: %w", err)
		}
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &d.Metadata); err != nil {
				return nil, fmt.Errorf("failed to parse download metadata: %w", err)
			}
		}
		d.FetchedAt = parseTimestamp(timestamp)
		downloads = append(downloads, d)
	}
	return downloads, rows.Err()
}

// SaveScanResult appends a scan result to the history.
func (s *Store) SaveScanResult(ctx context.Context, result *model.ScanResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to serialize scan result: %w", err)
	}

	query := `
	INSERT INTO scan_history (address, found, admitted, topic_matches, result_json)
	VALUES (?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		result.Address,
		result.Found,
		result.Admitted,
		result.Projection.Stats.TopicMatches,
		string(resultJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save scan result: %w", err)
	}
	return nil
}

// HistoryEntry is the summary row of one stored scan.
type HistoryEntry struct {
	ID           int64
	Address      string
	Found        int
	Admitted     int
	TopicMatches int
	Timestamp    time.Time
}

// History returns stored scans, newest first. An empty address lists every
// page; a non-positive limit returns everything.
func (s *Store) History(ctx context.Context, address string, limit int) ([]HistoryEntry, error) {
	query := `
	SELECT id, address, found, admitted, topic_matches, timestamp
	FROM scan_history
	WHERE (? = '' OR address = ?)
	ORDER BY id DESC
	`
	args := []any{address, address}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0)
	for rows.Next() {
		var e HistoryEntry
		var timestamp string
		if err := rows.Scan(&e.ID, &e.Address, &e.Found, &e.Admitted, &e.TopicMatches, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.Timestamp = parseTimestamp(timestamp)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ScanResultByID returns one stored scan, or nil if it does not exist.
func (s *Store) ScanResultByID(ctx context.Context, id int64) (*model.ScanResult, error) {
	var resultJSON string
	err := s.db.QueryRowContext(ctx, `SELECT result_json FROM scan_history WHERE id = ?`, id).Scan(&resultJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan result: %w", err)
	}

	var result model.ScanResult
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return nil, fmt.Errorf("failed to parse scan result: %w", err)
	}
	return &result, nil
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999",
}

// parseTimestamp tries every known format and returns zero time on failure.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
