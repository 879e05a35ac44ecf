// Package store persists adsweep settings, saved offers, downloads and scan
// history in a SQLite database under the XDG data directory.
//
// The database is opened with a single connection because SQLite allows one
// writer at a time, and WAL mode so that the history command can read while a
// watch session writes.
package store
