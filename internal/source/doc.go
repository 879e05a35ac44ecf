// Package source produces host documents: saved snapshot files, snapshot
// files watched for changes, and live pages driven through a headless
// browser.
package source
