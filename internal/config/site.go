package config

import (
	"net/url"
	"path"
	"strings"

	"github.com/nao1215/adsweep/internal/model"
	"github.com/nao1215/adsweep/internal/vocab"
)

// SiteConfig holds settings that can differ per page source.
// Pointer fields distinguish "unset" from an explicit false or zero.
type SiteConfig struct {
	// TopicOnly overrides the topic-only filter default.
	TopicOnly *bool `yaml:"topicOnly,omitempty"`

	// MinActiveCount overrides the minimum active count filter default.
	MinActiveCount *int `yaml:"minActiveCount,omitempty"`

	// DetectLimit overrides the per-scan candidate cap.
	DetectLimit int `yaml:"detectLimit,omitempty"`

	// LibraryBase overrides the ad library address.
	LibraryBase string `yaml:"libraryBase,omitempty"`
}

// File represents the structure of the .adsweep configuration file.
type File struct {
	// VocabularyEntries adds labels per locale. Entries are merged into the
	// built-in table, so a new locale or an extra label needs no code change.
	VocabularyEntries map[string]vocab.Labels `yaml:"vocabulary,omitempty"`

	// DownloadDir overrides where media downloads go.
	DownloadDir string `yaml:"downloadDir,omitempty"`

	// Defaults apply to every site unless overridden in Sites.
	Defaults SiteConfig `yaml:"defaults,omitempty"`

	// Sites maps a site key (see SiteKey) to its overrides.
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`
}

// GetSiteConfig returns the configuration for key, merged over Defaults.
func (cf *File) GetSiteConfig(key string) SiteConfig {
	result := cf.Defaults
	site, ok := cf.Sites[key]
	if !ok {
		return result
	}
	if site.TopicOnly != nil {
		result.TopicOnly = site.TopicOnly
	}
	if site.MinActiveCount != nil {
		result.MinActiveCount = site.MinActiveCount
	}
	if site.DetectLimit != 0 {
		result.DetectLimit = site.DetectLimit
	}
	if site.LibraryBase != "" {
		result.LibraryBase = site.LibraryBase
	}
	return result
}

// Vocabulary returns the built-in table extended with the file's entries.
func (cf *File) Vocabulary() *vocab.Table {
	t := vocab.Default()
	if cf == nil {
		return t
	}
	for locale, labels := range cf.VocabularyEntries {
		t.Merge(locale, labels)
	}
	return t
}

// ApplyFilter applies the site's filter overrides to base.
func (sc SiteConfig) ApplyFilter(base model.FilterState) model.FilterState {
	if sc.TopicOnly != nil {
		base.TopicOnly = *sc.TopicOnly
	}
	if sc.MinActiveCount != nil && *sc.MinActiveCount >= 0 {
		base.MinActiveCount = *sc.MinActiveCount
	}
	return base
}

// SiteKey derives the key used in File.Sites from a page address: the
// host for web pages and the base file name for local files.
func SiteKey(address string) string {
	u, err := url.Parse(address)
	if err != nil {
		return address
	}
	switch {
	case u.Scheme == "file":
		return path.Base(u.Path)
	case u.Host != "":
		return strings.ToLower(u.Hostname())
	case u.Scheme == "":
		return path.Base(strings.ReplaceAll(address, "\\", "/"))
	default:
		return address
	}
}

// Site resolves the settings for address: config defaults, then the
// file's defaults, then the file's entry for the site.
func (c *Config) Site(address string) SiteConfig {
	resolved := SiteConfig{
		DetectLimit: c.DetectLimit,
		LibraryBase: c.LibraryBase,
	}
	if c.File == nil {
		return resolved
	}
	site := c.File.GetSiteConfig(SiteKey(address))
	resolved.TopicOnly = site.TopicOnly
	resolved.MinActiveCount = site.MinActiveCount
	if site.DetectLimit > 0 {
		resolved.DetectLimit = site.DetectLimit
	}
	if site.LibraryBase != "" {
		resolved.LibraryBase = site.LibraryBase
	}
	return resolved
}
