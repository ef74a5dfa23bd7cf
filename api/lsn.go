// Package api defines the types, sentinel errors and collaborator
// interfaces shared across the concurrency-control core: the LSN
// type, the index/log-service contracts the core consumes from
// outside, and the taxonomy of errors the core raises.
package api

import "fmt"

// LSN is a monotonically increasing log sequence number. It totally
// orders every commit and every region-allocator checkpoint.
type LSN uint64

// InvalidLSN sentinel, ordered below every real LSN. Zero value of
// LSN, so a zero-valued Version/XC field means "not yet assigned".
const InvalidLSN LSN = 0

// Less report whether this LSN happened strictly before other.
func (lsn LSN) Less(other LSN) bool {
	return lsn < other
}

// LessEqual report whether this LSN happened before-or-at other.
func (lsn LSN) LessEqual(other LSN) bool {
	return lsn <= other
}

// Valid report whether lsn is not the InvalidLSN sentinel.
func (lsn LSN) Valid() bool {
	return lsn != InvalidLSN
}

// String implement fmt.Stringer.
func (lsn LSN) String() string {
	return fmt.Sprintf("%d", uint64(lsn))
}
