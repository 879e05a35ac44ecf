// Package config holds adsweep's runtime configuration: scheduler timing,
// filter defaults, report format, storage paths, and the optional .adsweep
// YAML file that extends the vocabulary and overrides settings per site.
package config
