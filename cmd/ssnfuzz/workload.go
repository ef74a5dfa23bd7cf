package main

import "errors"
import "fmt"
import "io"
import "math/rand"
import "sync"
import "sync/atomic"
import "time"

import "github.com/bnclabs/ssncore/api"
import "github.com/bnclabs/ssncore/engine"
import "github.com/bnclabs/ssncore/txn"

// shadowEntry is the last value a committed transaction wrote to an
// oid, tagged with the LSN it committed at so a later-scheduled
// goroutine's earlier commit can never clobber a true later one —
// the fuzzer's analogue of tools/llrb's Dict reference model.
type shadowEntry struct {
	lsn     api.LSN
	payload []byte
}

// workload is the fuzzer's whole mutable state: the engine under
// test, the reference shadow map, and the counters that become the
// final report. Grounded on cmd_check.go's checkopts/genstats split,
// collapsed into one struct since ssnfuzz has no grammar generator to
// keep separate from its bookkeeping.
type workload struct {
	engine  *engine.Engine
	workers int
	oids    int
	seed    int64
	verbose bool

	mu     sync.Mutex
	shadow map[uint64]shadowEntry

	commits    atomic.Int64
	aborts     atomic.Int64
	reads      atomic.Int64
	validated  atomic.Int64
	violations atomic.Int64
}

func newWorkload(e *engine.Engine, workers, oids int, seed int64, verbose bool) *workload {
	return &workload{
		engine:  e,
		workers: workers,
		oids:    oids,
		seed:    seed,
		verbose: verbose,
		shadow:  make(map[uint64]shadowEntry),
	}
}

// run launch the configured number of worker goroutines plus one
// validator goroutine and block until stop fires or duration elapses.
func (w *workload) run(stop <-chan struct{}, duration, validate time.Duration) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-stop:
		case <-time.After(duration):
		}
	}()

	var wg sync.WaitGroup
	wg.Add(w.workers + 1)
	for i := 0; i < w.workers; i++ {
		go func(id int) {
			defer wg.Done()
			w.worker(id, done, rand.New(rand.NewSource(w.seed+int64(id)+1)))
		}(i)
	}
	go func() {
		defer wg.Done()
		w.validator(done, validate)
	}()

	wg.Wait()
}

// worker repeatedly begins a transaction, writes a random payload to
// a random oid, and precommits, recording the result in the shadow
// map on success and tallying aborts otherwise. A fraction of
// iterations also read a random oid first, exercising the tracked/
// old read paths together with the write path.
func (w *workload) worker(id int, done <-chan struct{}, rng *rand.Rand) {
	for {
		select {
		case <-done:
			return
		default:
		}

		xc := w.engine.Begin()
		oid := uint64(rng.Intn(w.oids))

		if rng.Intn(2) == 0 {
			if _, err := w.engine.Read(xc, oid); err != nil {
				w.engine.Postcommit(xc)
				w.tallyAbort(err)
				continue
			}
			w.reads.Add(1)
		}

		payload := []byte(fmt.Sprintf("w%d-%d-%d", id, oid, rng.Int63()))
		if err := w.engine.Write(xc, oid, payload); err != nil {
			w.engine.Postcommit(xc)
			w.tallyAbort(err)
			continue
		}

		lsn, err := w.engine.Precommit(xc)
		w.engine.Postcommit(xc)
		if err != nil {
			w.tallyAbort(err)
			continue
		}

		w.commits.Add(1)
		w.mu.Lock()
		if cur, ok := w.shadow[oid]; !ok || cur.lsn.Less(lsn) {
			w.shadow[oid] = shadowEntry{lsn: lsn, payload: payload}
		}
		w.mu.Unlock()
	}
}

// validator periodically takes a snapshot of the shadow map and reads
// every recorded oid back through a fresh transaction, flagging any
// mismatch as invariant I3's integration-level counterpart. The check
// is exact equality with the snapshot's payload: a newer commit that
// lands between the snapshot and the read is also counted as a
// violation.
func (w *workload) validator(done <-chan struct{}, tick time.Duration) {
	tm := time.NewTicker(tick)
	defer tm.Stop()

	for {
		select {
		case <-done:
			return
		case <-tm.C:
			w.validateOnce()
		}
	}
}

func (w *workload) validateOnce() {
	w.mu.Lock()
	snapshot := make(map[uint64]shadowEntry, len(w.shadow))
	for oid, e := range w.shadow {
		snapshot[oid] = e
	}
	w.mu.Unlock()

	xc := w.engine.Begin()
	defer w.engine.Postcommit(xc)

	for oid, want := range snapshot {
		got, err := w.engine.Read(xc, oid)
		if err != nil {
			continue
		}
		w.validated.Add(1)
		if string(got) != string(want.payload) {
			w.violations.Add(1)
			if w.verbose || w.violations.Load() == 1 {
				fmt.Printf("ssnfuzz: VIOLATION oid=%v want=%q got=%q\n", oid, want.payload, got)
			}
		}
	}
}

func (w *workload) tallyAbort(err error) {
	w.aborts.Add(1)
	var ae *txn.AbortError
	if !errors.As(err, &ae) && w.verbose {
		fmt.Printf("ssnfuzz: unexpected non-abort error: %v\n", err)
	}
}

func (w *workload) report(out io.Writer) {
	fmt.Fprintf(out, "ssnfuzz: commits=%v aborts=%v reads=%v validated=%v violations=%v\n",
		w.commits.Load(), w.aborts.Load(), w.reads.Load(), w.validated.Load(), w.violations.Load())
}
