package txn

import "time"

import s "github.com/bnclabs/gosettings"

// BackEdgePolicy selects how Precommit resolves a forming
// writer-to-persistent-reader anti-dependency (the case where a
// persistent reader of a version this transaction is overwriting has
// not yet reached, or started, its own pre-commit).
type BackEdgePolicy int

const (
	// ForbidWithAbort flags the reader for abort (XC.SetShouldAbort)
	// and lets it self-abort at its own Precommit; if the reader has
	// already left ACTIVE by the time the flag is set, this
	// transaction aborts itself instead, rather than risk
	// un-committing a peer. Mirrors serial.cpp's "we let the updater
	// abort" fallback.
	ForbidWithAbort BackEdgePolicy = iota

	// AllowViaSstampCAS instead pushes this transaction's own sstamp
	// into the reader's sstamp (CAS min-merge) once this
	// transaction's commit decision is final, letting the reader's
	// own finalize check (pstamp < sstamp) catch the conflict rather
	// than aborting either side up front.
	AllowViaSstampCAS
)

// Config holds one Validator's tunables.
type Config struct {
	// OldThreshold is the LSN-distance beyond which Read classifies
	// a version as old and tries the persistent-reader marker
	// instead of tracking it in the read set.
	OldThreshold uint64

	// BackEdgePolicy selects how Precommit resolves persistent
	// readers of an overwritten version.
	BackEdgePolicy BackEdgePolicy

	// PoolSize bounds the number of XC values kept on the free list
	// between transactions.
	PoolSize int

	// SpinTries/SpinSleep parameterize the lib.Backoff used while
	// spinning on a peer transaction's COMMITTING -> terminal
	// transition.
	SpinTries int
	SpinSleep time.Duration
}

// Defaultsettings for a txn.Validator.
//
// "txn.oldthreshold" (uint64, default: 4096),
//		LSN distance beyond which a read classifies its version as
//		old and uses the persistent-reader marker rather than the
//		tracked read set.
//
// "txn.backedgepolicy" (string, default: "forbid"),
//		"forbid" selects ForbidWithAbort, "sstamp" selects
//		AllowViaSstampCAS.
//
// "txn.poolsize" (int, default: 1024),
//		Number of XC values kept on the free list between
//		transactions, sized the way bogn.Defaultsettings() sizes its
//		maxtxns cache.
//
// "txn.spintries" (int, default: 64),
//		Tight-spin iterations before a Precommit wait escalates to
//		runtime.Gosched()/sleep while waiting on a peer's COMMITTING
//		transition.
//
// "txn.spinsleepmicros" (int64, default: 1000),
//		Cap, in microseconds, on the sleep a Precommit wait escalates
//		to.
func Defaultsettings() s.Settings {
	return s.Settings{
		"txn.oldthreshold":    uint64(4096),
		"txn.backedgepolicy":  "forbid",
		"txn.poolsize":        1024,
		"txn.spintries":       64,
		"txn.spinsleepmicros": int64(1000),
	}
}

// DefaultConfig returns the Config equivalent of Defaultsettings.
func DefaultConfig() Config {
	return Config{
		OldThreshold:   4096,
		BackEdgePolicy: ForbidWithAbort,
		PoolSize:       1024,
		SpinTries:      64,
		SpinSleep:      time.Millisecond,
	}
}

// NewConfig builds a Config from a settings map produced by
// Defaultsettings (optionally mixed in with overrides via
// s.Settings{}.Mixin), reading it the way bogn.readsettings/
// llrb's init.go do: typed accessors (String/Bool/Int64), not raw map
// indexing.
func NewConfig(settings s.Settings) Config {
	cfg := DefaultConfig()
	cfg.OldThreshold = uint64(settings.Int64("txn.oldthreshold"))
	cfg.PoolSize = int(settings.Int64("txn.poolsize"))
	cfg.SpinTries = int(settings.Int64("txn.spintries"))
	cfg.SpinSleep = time.Duration(settings.Int64("txn.spinsleepmicros")) * time.Microsecond
	if settings.String("txn.backedgepolicy") == "sstamp" {
		cfg.BackEdgePolicy = AllowViaSstampCAS
	}
	return cfg
}
