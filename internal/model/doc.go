// Package model defines the core data structures shared by the adsweep packages.
//
// This package contains the following main types:
//   - Card: One detected advertisement container and its derived metadata
//   - FilterState: The user's filter settings and the visible-card limit
//   - Stats and Projection: The derived output of every filter projection
//   - ScanPass and ScanResult: The working state and summary of one scan
//
// Cards hold a pointer to their container; nothing else in this package
// touches the document tree.
package model
