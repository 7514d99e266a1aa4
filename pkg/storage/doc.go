// Package storage defines the durable storage contract (Backend) shared
// by the two on-disk layouts cairnq ships: pkg/storage/slotfile (fixed
// slots, BLAKE3-checked) and pkg/storage/boltkv (bbolt-backed keyed
// metadata). Callers in pkg/queue depend only on this package, never on
// a concrete backend.
package storage
