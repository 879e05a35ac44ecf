// Package main provides the entry point for the adsweep CLI.
//
// adsweep finds ad cards on ad library pages, flags the ones driving
// traffic to WhatsApp, and offers per-card selection, media download and
// offer bookmarking.
//
// Usage:
//
//	adsweep scan <page.html>...
//	adsweep watch <page.html|url>
//
// See --help for all available options.
package main

func main() {
	Execute()
}
