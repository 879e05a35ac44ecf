// Package session owns one page's reconciliation loop: the scheduler, the
// card registry and the user's filter, selection and login state.
//
// A Session is the single context object every scan phase works against.
// Scans run inside Document.Do, so the tree and the registry are only ever
// touched by one goroutine at a time. Lock order is always the document
// first, then the session's own state.
package session
