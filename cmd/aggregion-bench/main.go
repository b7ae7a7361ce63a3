// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Command aggregion-bench drives the aggregation engine over generated
// or file-loaded tuples and reports timing, miss rate, and optionally
// the resulting group-by table. Its flags are the named equivalent of
// the original CLI's positional contract (num_tuples_exponent,
// num_groups, n_threads, distribution, resample_rate).
package main

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cenkalti/backoff/v4"

	"github.com/aristanetworks/glog"

	"github.com/aristanetworks/aggregion/aggregion"
	"github.com/aristanetworks/aggregion/internal/monitorsrv"
	"github.com/aristanetworks/aggregion/internal/tuplegen"
)

func usageAndExit(s string) {
	flag.Usage()
	if s != "" {
		fmt.Fprintln(os.Stderr, s)
	}
	os.Exit(1)
}

func main() {
	tuplesExp := flag.Int("tuples-exp", 20, "log2 of the number of generated tuples (ignored if -input is set)")
	nGroups := flag.Int("groups", 1<<16, "number of distinct group keys")
	nThreads := flag.Int("threads", 4, "number of worker goroutines")
	resampleRate := flag.Int("resample-rate", 1, "partitions per thread (work-stealing granularity)")
	dist := flag.Int("dist", 0, "input distribution code: "+
		"0=uniform 1=sorted 2=heavy-hitter 3=repeated-runs 4=zipf 5=self-similar")
	flavorFlag := flag.String("flavor", "sum", "aggregate flavor: sum | minmax | distinct")
	seed := flag.Uint64("seed", 1, "fixture generator seed")
	input := flag.String("input", "", "path to a whitespace-separated key/value tuple file; "+
		"overrides -tuples-exp and -dist")
	merge := flag.Bool("merge", true, "drain private caches into the global table after Run")
	printTable := flag.Bool("print", false, "print the resulting group-by table to stdout")
	monitorAddr := flag.String("monitor-addr", "", "if set, serve Prometheus metrics and pprof on this address")

	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage of aggregion-bench:")
		flag.PrintDefaults()
	}
	flag.Parse()
	defer glog.Flush()

	flavor, err := parseFlavor(*flavorFlag)
	if err != nil {
		usageAndExit(err.Error())
	}

	var metrics *monitorsrv.Metrics
	if *monitorAddr != "" {
		srv, m := monitorsrv.NewMonitorServer(*monitorAddr)
		metrics = m
		go srv.Run()
	}

	tuples, err := loadTuples(*input, *dist, *tuplesExp, *nGroups, *seed)
	if err != nil {
		glog.Fatalf("aggregion-bench: loading tuples: %s", err)
	}
	glog.V(1).Infof("aggregion-bench: loaded %d tuples over %d groups, flavor=%s",
		len(tuples), *nGroups, *flavorFlag)

	cfg := aggregion.Config{
		NThreads:     *nThreads,
		NGroups:      *nGroups,
		ResampleRate: *resampleRate,
		Flavor:       flavor,
		Metrics:      metrics,
	}
	agg, err := aggregion.Create(cfg, tuples)
	if err != nil {
		glog.Fatalf("aggregion-bench: %s", err)
	}
	defer agg.Destroy()

	ctx := context.Background()
	runElapsed, err := agg.Run(ctx)
	if err != nil {
		glog.Fatalf("aggregion-bench: run: %s", err)
	}
	if metrics != nil {
		metrics.RunDuration.Observe(runElapsed.Seconds())
		metrics.PartitionsTotal.Add(float64(*nThreads * *resampleRate))
	}
	glog.Infof("aggregion-bench: run took %s, miss rate %.4f", runElapsed, agg.MissRate())
	if metrics != nil {
		metrics.MissRate.Set(agg.MissRate())
	}

	if *merge {
		mergeElapsed, err := agg.Merge(ctx)
		if err != nil {
			glog.Fatalf("aggregion-bench: merge: %s", err)
		}
		if metrics != nil {
			metrics.MergeDuration.Observe(mergeElapsed.Seconds())
		}
		glog.Infof("aggregion-bench: merge took %s", mergeElapsed)
	}

	if *printTable {
		if err := agg.Print(os.Stdout); err != nil {
			glog.Fatalf("aggregion-bench: print: %s", err)
		}
	}
}

func parseFlavor(s string) (aggregion.Flavor, error) {
	switch s {
	case "sum":
		return aggregion.Sum, nil
	case "minmax":
		return aggregion.MinMax, nil
	case "distinct":
		return aggregion.Distinct, nil
	default:
		return 0, fmt.Errorf("unknown -flavor %q: want sum, minmax, or distinct", s)
	}
}

// loadTuples reads tuples from path when set, retrying transient I/O
// errors with an exponential backoff the way a network dial gets
// retried, or else generates them in-memory via tuplegen.
func loadTuples(path string, dist, tuplesExp, nGroups int, seed uint64) ([]aggregion.Tuple, error) {
	if path == "" {
		n := 1 << uint(tuplesExp)
		return tuplegen.Generate(tuplegen.Distribution(dist), n, nGroups, seed), nil
	}

	var data []byte
	op := func() error {
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		data = b
		return nil
	}
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return parseTupleFile(data)
}

// parseTupleFile reads one tuple per line: "key v0 v1 v2 v3", trailing
// columns optional and defaulting to 0. Blank lines are skipped.
func parseTupleFile(data []byte) ([]aggregion.Tuple, error) {
	var tuples []aggregion.Tuple
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for lineNo := 1; scanner.Scan(); lineNo++ {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		var t aggregion.Tuple
		key, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: key %q: %w", lineNo, fields[0], err)
		}
		t.Key = key
		for i := 1; i < len(fields) && i-1 < len(t.Values); i++ {
			v, err := strconv.ParseUint(fields[i], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: value %q: %w", lineNo, fields[i], err)
			}
			t.Values[i-1] = v
		}
		tuples = append(tuples, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(tuples) == 0 {
		return nil, fmt.Errorf("no tuples parsed")
	}
	return tuples, nil
}
