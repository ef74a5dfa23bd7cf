package txn

import "fmt"

// Reason classifies why Precommit (or, for ReasonWriteWrite, Write,
// and for ReasonReaderLockout, Read) refused a transaction.
type Reason int

const (
	// ReasonWriteWrite another still-live transaction already holds
	// an uncommitted version at the head of this chain (Invariant
	// V2: at most one uncommitted version per chain).
	ReasonWriteWrite Reason = iota

	// ReasonSerialization the finalize check pstamp < sstamp failed:
	// some transaction this one depends on (forward or backward)
	// would have to be both before and after it.
	ReasonSerialization

	// ReasonBackEdge a persistent reader of one of this
	// transaction's overwritten versions had already left ACTIVE by
	// the time this transaction tried to flag it for abort, under
	// the ForbidWithAbort back-edge policy; rather than risk
	// un-committing that reader, this transaction aborts itself.
	ReasonBackEdge

	// ReasonShouldAbort another transaction's write-set resolution
	// flagged this transaction for abort before it reached its own
	// finalize check.
	ReasonShouldAbort

	// ReasonReaderLockout this transaction tried to classify a read
	// as old (a persistent read) against a version another
	// transaction had already locked out for persistent-reader
	// resolution; proceeding would race that resolution pass, so the
	// read aborts instead.
	ReasonReaderLockout
)

func (r Reason) String() string {
	switch r {
	case ReasonWriteWrite:
		return "write-write"
	case ReasonSerialization:
		return "serialization"
	case ReasonBackEdge:
		return "back-edge"
	case ReasonShouldAbort:
		return "should-abort"
	case ReasonReaderLockout:
		return "reader-lockout"
	default:
		return "unknown"
	}
}

// AbortError is returned by Read/Write/Precommit whenever the
// certifier refuses a transaction. All aborts are silent
// application-level failures at this layer: there is no retry here,
// the caller decides whether to retry the transaction from scratch.
type AbortError struct {
	Reason Reason
	XID    uint64
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("txn %d aborted: %s", e.XID, e.Reason)
}
