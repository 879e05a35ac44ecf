// Package pipeline runs the phases of one scan in a fixed order and scans
// independent snapshot files concurrently.
//
// A scan is cleanup, detect, admit, prune and project, each implemented as a
// Step that reads and extends a *model.ScanPass. The order is fixed;
// StepNames reports it.
package pipeline
