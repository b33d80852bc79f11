// Package progress carries run and item events from the harvester passes to
// pluggable sinks. Passes emit through a non-blocking Hub that batches events
// on a background goroutine, so a slow sink never stalls the item loop.
package progress
