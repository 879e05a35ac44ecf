// Package dom provides the tree helpers and the change-notification model
// adsweep uses to work on a host page it does not control.
//
// The host page is a golang.org/x/net/html tree. Host-side changes flow
// through Document.Mutate and Document.Replace and are reported to
// subscribers as events; adsweep's own stamping and injection go through
// Document.Do and are not reported, so a scan never triggers itself.
package dom
