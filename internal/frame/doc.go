// Package frame adapts github.com/gobwas/ws into the incremental codec the relay reader loop needs.
//
// Parse consumes at most one wire frame from an accumulating buffer and reports ErrNeedMoreData
// until the whole frame is present. Fragmented messages are reassembled in a caller-owned Fragments value.
package frame
