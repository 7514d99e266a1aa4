// Package queue implements cairnq's operation layer (C7) over the
// storage.Backend contract: the visibility index (C5), the vacant set
// (C6), the batched syncer (C3), the id generator (C4), and the
// suspension/metrics counters (C8) that push/poll/update/delete
// (this package's four public entry points) are built from.
package queue
