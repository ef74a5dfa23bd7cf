package api

// Index is the key lookup collaborator that the log/recovery and
// B-tree subsystems provide. The concurrency-control core itself
// never sorts or compares keys; it only resolves a key to the object
// id (oid) whose version chain it must read or write.
type Index interface {
	// Lookup resolves key to the oid that owns its version chain.
	// ok is false if key is not present in the index.
	Lookup(key []byte) (oid uint64, ok bool)
}

// TupleVectorSource exposes every live object id to a caller that
// must walk the whole keyspace, e.g. the epoch reclaim daemon
// compacting version chains region-by-region. version.Bridge
// implements this.
type TupleVectorSource interface {
	// ForEachOID invoke fn once per object id currently tracked.
	// fn must not block; ForEachOID may be called from a background
	// daemon goroutine.
	ForEachOID(fn func(oid uint64))
}

// WriterHandle is the sliver of a transaction context that a
// version's chain needs to expose back to the validator: just enough
// to let a reader or a would-be overwriter decide whether the
// transaction that created this version is still live, and if so,
// what commit stamp it will eventually carry. version.Version holds
// one of these rather than a concrete *txn.XC to avoid an import
// cycle (txn already imports version).
type WriterHandle interface {
	// State returns the writer's current transaction state (one of
	// txn's StateActive/StateCommitting/StateCommitted/StateAborted).
	State() int32

	// Cstamp returns the writer's commit stamp. Only meaningful once
	// State is StateCommitting or later; zero beforehand.
	Cstamp() uint64
}

// LogService is the durability collaborator: it is the single
// authority for "what LSN is the present moment" and "what LSN would
// a commit landing right now receive". lsn.Service satisfies this in
// production; tests substitute a fake that advances LSNs under test
// control.
type LogService interface {
	// CurrentLSN returns the most recently issued LSN.
	CurrentLSN() LSN

	// NextCommitLSN atomically issues and returns the next LSN to be
	// used as a transaction's commit stamp.
	NextCommitLSN() LSN
}
