package txn

import "testing"

import "github.com/bnclabs/ssncore/api"
import "github.com/bnclabs/ssncore/lsn"
import "github.com/bnclabs/ssncore/readers"
import "github.com/bnclabs/ssncore/version"

func allocate(size int64) []byte {
	return make([]byte, size)
}

func newtestvalidator() *Validator {
	bridge := version.NewBridge()
	registry := readers.NewRegistry()
	log := lsn.NewService(api.InvalidLSN)
	return NewValidator(bridge, registry, log, DefaultConfig())
}

func TestBeginClaimsDistinctSlots(t *testing.T) {
	val := newtestvalidator()
	xc1, err := val.Begin()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	xc2, err := val.Begin()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if xc1.slot == xc2.slot {
		t.Fatalf("expected distinct slots, got %v and %v", xc1.slot, xc2.slot)
	}
	if xc1.XID() == xc2.XID() {
		t.Fatalf("expected distinct xids")
	}
}

func TestWriteReadCommitRoundtrip(t *testing.T) {
	val := newtestvalidator()
	const oid = uint64(1)

	xc, _ := val.Begin()
	nv, err := val.Write(xc, oid, []byte("hello"), allocate)
	if err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	if string(nv.Payload) != "hello" {
		t.Fatalf("expected payload preserved, got %q", nv.Payload)
	}

	cstamp, err := val.Precommit(xc)
	if err != nil {
		t.Fatalf("unexpected precommit error: %v", err)
	}
	if !cstamp.Valid() {
		t.Fatalf("expected a valid commit stamp")
	}
	val.Postcommit(xc)

	reader, _ := val.Begin()
	v, err := val.Read(reader, oid)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if v == nil || string(v.Payload) != "hello" {
		t.Fatalf("expected to read the committed version, got %v", v)
	}
	val.Postcommit(reader)
}

func TestWriteWriteConflictAborts(t *testing.T) {
	val := newtestvalidator()
	const oid = uint64(2)

	xc1, _ := val.Begin()
	if _, err := val.Write(xc1, oid, []byte("a"), allocate); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	xc2, _ := val.Begin()
	_, err := val.Write(xc2, oid, []byte("b"), allocate)
	ae, ok := err.(*AbortError)
	if !ok || ae.Reason != ReasonWriteWrite {
		t.Fatalf("expected ReasonWriteWrite abort, got %v", err)
	}
}

func TestRepeatWriteSameTxnReplacesInPlace(t *testing.T) {
	val := newtestvalidator()
	const oid = uint64(3)

	xc, _ := val.Begin()
	if _, err := val.Write(xc, oid, []byte("first"), allocate); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := val.Write(xc, oid, []byte("second"), allocate); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(xc.writes) != 1 {
		t.Fatalf("expected a single write-set entry, got %v", len(xc.writes))
	}

	head := val.bridge.Head(oid)
	if string(head.Payload) != "second" {
		t.Fatalf("expected the second write to win, got %q", head.Payload)
	}
	if xc.writes[0].old != nil {
		t.Fatalf("expected the original (nil) predecessor preserved across the repeat write")
	}
}

func TestAbortRollsBackInstalledVersion(t *testing.T) {
	val := newtestvalidator()
	const oid = uint64(4)

	// seed a committed version so the abort path has a real
	// predecessor to roll back to.
	seed, _ := val.Begin()
	val.Write(seed, oid, []byte("seed"), allocate)
	val.Precommit(seed)
	val.Postcommit(seed)
	original := val.bridge.Head(oid)

	xc, _ := val.Begin()
	val.Write(xc, oid, []byte("doomed"), allocate)
	xc.SetShouldAbort()

	if _, err := val.Precommit(xc); err == nil {
		t.Fatalf("expected precommit to abort")
	}

	if val.bridge.Head(oid) != original {
		t.Fatalf("expected rollback to restore the original head")
	}
}

func TestPrecommitFinalizeAbortsOnSerializationFailure(t *testing.T) {
	val := newtestvalidator()
	xc, _ := val.Begin()
	xc.state.Store(StateActive)
	xc.pstamp.Store(100)
	xc.sstamp.Store(50)

	_, err := val.Precommit(xc)
	ae, ok := err.(*AbortError)
	if !ok || ae.Reason != ReasonSerialization {
		t.Fatalf("expected ReasonSerialization abort, got %v", err)
	}
	if xc.State() != StateAborted {
		t.Fatalf("expected StateAborted, got %v", xc.State())
	}
}

func TestReadLockedOutVersionAborts(t *testing.T) {
	val := newtestvalidator()
	const oid = uint64(5)

	writer, _ := val.Begin()
	val.Write(writer, oid, []byte("v1"), allocate)
	val.Precommit(writer)
	val.Postcommit(writer)

	v := val.bridge.Head(oid)
	v.SetLockout()

	reader, _ := val.Begin()
	reader.bstamp = api.LSN(uint64(reader.bstamp) + val.cfg.OldThreshold + 1)

	_, err := val.Read(reader, oid)
	ae, ok := err.(*AbortError)
	if !ok || ae.Reason != ReasonReaderLockout {
		t.Fatalf("expected ReasonReaderLockout abort, got %v", err)
	}
}

// newtestvalidatorWithPolicy is newtestvalidator with cfg.BackEdgePolicy
// overridden, for the forming-back-edge scenarios below.
func newtestvalidatorWithPolicy(policy BackEdgePolicy) *Validator {
	cfg := DefaultConfig()
	cfg.BackEdgePolicy = policy
	bridge := version.NewBridge()
	registry := readers.NewRegistry()
	log := lsn.NewService(api.InvalidLSN)
	return NewValidator(bridge, registry, log, cfg)
}

// TestBackEdgeAllowViaSstampCASPropagatesToReaderAbort drives a genuine
// forming writer-to-reader anti-dependency under AllowViaSstampCAS: a
// tracked reader of v0 is still ACTIVE when a writer overwrites v0, so
// resolveReaders (txn/validator.go:279-281) collects the reader into
// pending rather than spinning on it. The writer's own sstamp is
// forced low beforehand, standing in for an independent anti-
// dependency it would carry in a fuller schedule, so the CAS-merge
// this Precommit pushes into the reader (txn/validator.go:236-238) has
// an observable effect: the reader's own later Precommit must then
// fail the pstamp<sstamp finalize check.
func TestBackEdgeAllowViaSstampCASPropagatesToReaderAbort(t *testing.T) {
	val := newtestvalidatorWithPolicy(AllowViaSstampCAS)
	const oid = uint64(100)

	// seed's XC is deliberately never returned to the pool here: a
	// later pool.get() reusing its memory as "reader" or "writer"
	// while v0.Writer() still points at it would alias a fresh,
	// still-ACTIVE transaction onto what Write's write-write check
	// expects to read as seed's terminal Committed state.
	seed, _ := val.Begin()
	val.Write(seed, oid, []byte("v0"), allocate)
	val.Precommit(seed)

	reader, _ := val.Begin()
	v0, err := val.Read(reader, oid)
	if err != nil || v0 == nil {
		t.Fatalf("unexpected read error: %v", err)
	}

	writer, _ := val.Begin()
	if _, err := val.Write(writer, oid, []byte("v1"), allocate); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	writer.sstamp.Store(1)

	if _, err := val.Precommit(writer); err != nil {
		t.Fatalf("unexpected writer precommit error: %v", err)
	}
	val.Postcommit(writer)

	if got := reader.Sstamp(); got != 1 {
		t.Fatalf("expected the writer's commit to CAS its sstamp into the reader, got %v", got)
	}

	_, err = val.Precommit(reader)
	ae, ok := err.(*AbortError)
	if !ok || ae.Reason != ReasonSerialization {
		t.Fatalf("expected the reader to abort with ReasonSerialization once its sstamp was pushed below its pstamp, got %v", err)
	}
	val.Postcommit(reader)
}

// TestBackEdgeForbidWithAbortFlagsActiveReaderForSelfAbort drives the
// same forming anti-dependency under ForbidWithAbort, where the reader
// is still ACTIVE: resolveReaders flags it (SetShouldAbort) and lets
// it discover the flag at its own finalize (txn/validator.go:283-286),
// rather than aborting the writer.
func TestBackEdgeForbidWithAbortFlagsActiveReaderForSelfAbort(t *testing.T) {
	val := newtestvalidatorWithPolicy(ForbidWithAbort)
	const oid = uint64(101)

	// seed's XC is deliberately never returned to the pool; see the
	// comment in TestBackEdgeAllowViaSstampCASPropagatesToReaderAbort.
	seed, _ := val.Begin()
	val.Write(seed, oid, []byte("v0"), allocate)
	val.Precommit(seed)

	reader, _ := val.Begin()
	if _, err := val.Read(reader, oid); err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}

	writer, _ := val.Begin()
	val.Write(writer, oid, []byte("v1"), allocate)
	if _, err := val.Precommit(writer); err != nil {
		t.Fatalf("unexpected writer precommit error: %v", err)
	}
	val.Postcommit(writer)

	if !reader.ShouldAbort() {
		t.Fatalf("expected ForbidWithAbort to flag the still-active reader for self-abort")
	}

	_, err := val.Precommit(reader)
	ae, ok := err.(*AbortError)
	if !ok || ae.Reason != ReasonShouldAbort {
		t.Fatalf("expected the reader's own precommit to abort with ReasonShouldAbort, got %v", err)
	}
	val.Postcommit(reader)
}

// TestBackEdgeForbidWithAbortAbortsWriterWhenReaderAlreadyLeftActive
// covers resolveReaders' other ForbidWithAbort outcome
// (txn/validator.go:284-289): once SetShouldAbort is raised, if the
// reader is no longer ACTIVE (it has already decided, but
// its slot is still held — Postcommit has not yet run), flagging it
// cannot have any effect, so the writer aborts itself instead.
func TestBackEdgeForbidWithAbortAbortsWriterWhenReaderAlreadyLeftActive(t *testing.T) {
	val := newtestvalidatorWithPolicy(ForbidWithAbort)
	const oid = uint64(102)

	// seed's XC is deliberately never returned to the pool; see the
	// comment in TestBackEdgeAllowViaSstampCASPropagatesToReaderAbort.
	seed, _ := val.Begin()
	val.Write(seed, oid, []byte("v0"), allocate)
	val.Precommit(seed)

	reader, _ := val.Begin()
	if _, err := val.Read(reader, oid); err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}

	// Simulate the reader having already decided (e.g. aborted for an
	// unrelated reason) with a cstamp high enough that resolveReaders
	// treats it as a still-forming back-edge rather than an
	// already-decided predecessor (txn/validator.go:265-275), while its
	// slot remains held (Postcommit not yet called).
	reader.state.Store(StateAborted)
	reader.cstamp.Store(^uint64(0))

	writer, _ := val.Begin()
	val.Write(writer, oid, []byte("v1"), allocate)

	_, err := val.Precommit(writer)
	ae, ok := err.(*AbortError)
	if !ok || ae.Reason != ReasonBackEdge {
		t.Fatalf("expected the writer to abort with ReasonBackEdge, got %v", err)
	}
	val.Postcommit(writer)
	val.Postcommit(reader)
}

// TestResolveReadersDepartedReaderFallsBackToLastCommitted covers the
// persistent-reader case where the reader's old read survives
// Postcommit uncleared (txn/validator.go:322-325's documented
// invariant) but its registry slot has since been deregistered: a
// later writer's resolveReaders must recognize the stale bit
// (txn/validator.go:260-262) and fold in the last committed cstamp the
// reader left behind, rather than dereferencing its gone XC.
func TestResolveReadersDepartedReaderFallsBackToLastCommitted(t *testing.T) {
	val := newtestvalidator()
	const oid = uint64(103)

	seed, _ := val.Begin()
	val.Write(seed, oid, []byte("v0"), allocate)
	val.Precommit(seed)
	val.Postcommit(seed)

	reader, _ := val.Begin()
	reader.bstamp = api.LSN(uint64(reader.bstamp) + val.cfg.OldThreshold + 1)
	v0, err := val.Read(reader, oid)
	if err != nil || v0 == nil {
		t.Fatalf("unexpected old read error: %v", err)
	}

	if _, err := val.Precommit(reader); err != nil {
		t.Fatalf("unexpected reader precommit error: %v", err)
	}

	// Claim the writer's slot before releasing the reader's, so the
	// registry cannot hand the reader's just-freed slot straight back
	// out to the writer (which would make ReadersOf's self-exclusion
	// skip the very bit this test means to exercise).
	writer, _ := val.Begin()

	val.Postcommit(reader)

	if val.registry.XID(reader.slot) != 0 {
		t.Fatalf("expected the reader's slot to be deregistered")
	}
	if v0.ReadersBitmap()&(uint64(1)<<uint(reader.slot)) == 0 {
		t.Fatalf("expected the departed reader's bit to still be set on v0")
	}

	val.Write(writer, oid, []byte("v1"), allocate)
	if _, err := val.Precommit(writer); err != nil {
		t.Fatalf("unexpected writer precommit error: %v", err)
	}

	if want := val.registry.GetLastCommitted(reader.slot); writer.Pstamp() != uint64(want) {
		t.Fatalf("expected the writer's pstamp to fold in the departed reader's last committed cstamp %v, got %v", want, writer.Pstamp())
	}
	val.Postcommit(writer)
}

func TestOldReadDoesNotClearReaderBitOnPostcommit(t *testing.T) {
	val := newtestvalidator()
	const oid = uint64(6)

	writer, _ := val.Begin()
	val.Write(writer, oid, []byte("v1"), allocate)
	val.Precommit(writer)
	val.Postcommit(writer)

	reader, _ := val.Begin()
	reader.bstamp = api.LSN(uint64(reader.bstamp) + val.cfg.OldThreshold + 1)

	v, err := val.Read(reader, oid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.ReadersBitmap()&(uint64(1)<<uint(reader.slot)) == 0 {
		t.Fatalf("expected the old read to register its reader bit")
	}

	val.Postcommit(reader)
	if v.ReadersBitmap()&(uint64(1)<<uint(reader.slot)) == 0 {
		t.Fatalf("expected an old read's reader bit to survive postcommit")
	}
}
