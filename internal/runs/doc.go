// Package runs persists the history of supervised austin runs.
//
// Each run is created when austin is launched, marked ready once its header
// has been read, and finished with the merged metadata, sample count and
// exit outcome. The schema lives in the migrations package.
package runs
