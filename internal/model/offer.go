package model

import "time"

// Offer is a card saved by a logged-in user.
type Offer struct {
	ID                int64     `json:"id,omitempty"`
	Name              string    `json:"offer_name"`
	ExternalReference string    `json:"external_reference"`
	SavedBy           string    `json:"saved_by,omitempty"`
	SavedAt           time.Time `json:"saved_at"`
}

// Download records one fetched media file.
type Download struct {
	ID          int64     `json:"id,omitempty"`
	URL         string    `json:"url"`
	Filename    string    `json:"filename"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`

	// Metadata holds selected EXIF tags of image downloads, keyed by tag name.
	Metadata map[string]string `json:"metadata,omitempty"`
}
