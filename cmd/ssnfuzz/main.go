// Command ssnfuzz drives an engine.Engine through randomized
// concurrent transaction schedules and periodically checks that
// every value it has seen commit reads back unchanged through a
// fresh transaction (see workload.validateOnce), the integration-level analogue of the teacher's
// tools/llrb check CLI (cmd_check.go's generate/validate-tick
// pipeline), re-expressed with github.com/spf13/pflag per
// seh-mvcc-key-value-database/cmd/server/main.go rather than the
// teacher's own flag/monster grammar fuzzer (see DESIGN.md).
package main

import "context"
import "fmt"
import "os"
import "os/signal"
import "syscall"
import "time"

import flag "github.com/spf13/pflag"

import "github.com/bnclabs/ssncore/engine"

var opts struct {
	workers  int
	oids     int
	duration time.Duration
	validate time.Duration
	seed     int64
	verbose  bool
}

func init() {
	flag.IntVar(&opts.workers, "workers", 8,
		"number of concurrent transaction-generating goroutines")
	flag.IntVar(&opts.oids, "oids", 64,
		"number of distinct object ids the workers contend over")
	flag.DurationVar(&opts.duration, "duration", 5*time.Second,
		"how long to run before reporting and exiting")
	flag.DurationVar(&opts.validate, "validate", 200*time.Millisecond,
		"how often a validator transaction checks committed values against the shadow map")
	flag.Int64Var(&opts.seed, "seed", time.Now().UnixNano(),
		"seed for the workload's random number generator")
	flag.BoolVar(&opts.verbose, "verbose", false,
		"log every invariant violation instead of just the first")
}

func main() {
	flag.Parse()
	fmt.Printf("ssnfuzz: seed=%v workers=%v oids=%v duration=%v\n",
		opts.seed, opts.workers, opts.oids, opts.duration)

	e := engine.New("ssnfuzz", engine.Defaultsettings())
	defer e.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	w := newWorkload(e, opts.workers, opts.oids, opts.seed, opts.verbose)
	w.run(ctx.Done(), opts.duration, opts.validate)

	w.report(os.Stdout)
	e.LogStats()
	if w.violations.Load() > 0 {
		os.Exit(1)
	}
}
