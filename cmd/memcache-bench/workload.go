package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	memcache "github.com/pior/memcache-binary"
)

var errValueMismatch = errors.New("value mismatch")

type workload struct {
	name  string
	setup func(ctx context.Context, client *memcache.Client) error
	op    func(ctx context.Context, client *memcache.Client, worker, n int) error
}

var cacheHitValue = []byte("cache-hit-value")

var workloads = []workload{
	{
		name: "cache-hit",
		setup: func(ctx context.Context, client *memcache.Client) error {
			return client.Set(ctx, memcache.Item{Key: "cache-hit-key", Value: cacheHitValue, Expiration: 3600})
		},
		op: func(ctx context.Context, client *memcache.Client, worker, n int) error {
			item, err := client.Get(ctx, "cache-hit-key")
			if err != nil {
				return err
			}
			if !bytes.Equal(item.Value, cacheHitValue) {
				return errValueMismatch
			}
			return nil
		},
	},
	{
		name: "cache-miss",
		op: func(ctx context.Context, client *memcache.Client, worker, n int) error {
			_, err := client.Get(ctx, fmt.Sprintf("missing-%d-%d", worker, n))
			if errors.Is(err, memcache.ErrKeyNotFound) {
				return nil
			}
			return err
		},
	},
	{
		name: "set-get",
		op: func(ctx context.Context, client *memcache.Client, worker, n int) error {
			key := fmt.Sprintf("dynamic-key-%d-%d", worker, n)
			value := []byte(strconv.Itoa(n))
			if err := client.Set(ctx, memcache.Item{Key: key, Value: value, Expiration: 60}); err != nil {
				return err
			}
			item, err := client.Get(ctx, key)
			if err != nil {
				return err
			}
			if !bytes.Equal(item.Value, value) {
				return errValueMismatch
			}
			return nil
		},
	},
	{
		name: "set-noreply",
		op: func(ctx context.Context, client *memcache.Client, worker, n int) error {
			return client.SetNoReply(ctx, memcache.Item{Key: fmt.Sprintf("noreply-%d-%d", worker, n%1000), Value: cacheHitValue, Expiration: 60})
		},
	},
	{
		name: "increment",
		op: func(ctx context.Context, client *memcache.Client, worker, n int) error {
			_, err := client.Increment(ctx, fmt.Sprintf("counter-%d", worker), 1, 0, 60)
			return err
		},
	},
	{
		name: "get-multi",
		op: func(ctx context.Context, client *memcache.Client, worker, n int) error {
			keys := make([]string, 20)
			for i := range keys {
				keys[i] = fmt.Sprintf("noreply-%d-%d", worker, (n+i)%1000)
			}
			_, err := client.GetMulti(ctx, keys)
			return err
		},
	},
	{
		name: "delete",
		op: func(ctx context.Context, client *memcache.Client, worker, n int) error {
			key := fmt.Sprintf("delete-key-%d-%d", worker, n)
			if err := client.Set(ctx, memcache.Item{Key: key, Value: cacheHitValue}); err != nil {
				return err
			}
			return client.Delete(ctx, key)
		},
	},
}

func workloadNames() []string {
	names := make([]string, len(workloads))
	for i, w := range workloads {
		names[i] = w.name
	}
	return names
}

func selectWorkloads(names []string) ([]workload, error) {
	var selected []workload
	for _, name := range names {
		if name == "all" {
			return workloads, nil
		}
		found := false
		for _, w := range workloads {
			if w.name == name {
				selected = append(selected, w)
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown workload %q", name)
		}
	}
	return selected, nil
}

type result struct {
	Workload     string
	Duration     time.Duration
	TotalOps     int64
	Failures     int64
	AvgLatency   time.Duration
	OpsPerSecond float64
	Mismatches   int64
	FirstError   error
}

// runWorkload calls op from concurrency workers until duration elapsed.
func runWorkload(ctx context.Context, duration time.Duration, concurrency int, op func(ctx context.Context, worker, n int) error) result {
	var totalOps, failures, mismatches, totalLatency atomic.Int64
	var firstErr atomic.Pointer[error]

	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for worker := range max(concurrency, 1) {
		g.Go(func() error {
			for n := 0; ctx.Err() == nil; n++ {
				opStart := time.Now()
				err := op(ctx, worker, n)
				if err != nil && ctx.Err() != nil {
					// interrupted by the end of the run
					return nil
				}

				totalOps.Add(1)
				totalLatency.Add(int64(time.Since(opStart)))

				if err != nil {
					failures.Add(1)
					if errors.Is(err, errValueMismatch) {
						mismatches.Add(1)
					}
					firstErr.CompareAndSwap(nil, &err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	r := result{
		Duration:   time.Since(start),
		TotalOps:   totalOps.Load(),
		Failures:   failures.Load(),
		Mismatches: mismatches.Load(),
	}
	if errp := firstErr.Load(); errp != nil {
		r.FirstError = *errp
	}
	if r.TotalOps > 0 {
		r.AvgLatency = time.Duration(totalLatency.Load() / r.TotalOps)
		r.OpsPerSecond = float64(r.TotalOps) / r.Duration.Seconds()
	}
	return r
}

func (r result) print(w io.Writer) {
	fmt.Fprintf(w, "--- %s ---\n", r.Workload)
	fmt.Fprintf(w, "Duration: %v\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Total Operations: %d\n", r.TotalOps)
	fmt.Fprintf(w, "Failures: %d\n", r.Failures)
	if r.TotalOps > 0 {
		fmt.Fprintf(w, "Success Rate: %.2f%%\n", float64(r.TotalOps-r.Failures)/float64(r.TotalOps)*100)
		fmt.Fprintf(w, "Ops/sec: %.2f\n", r.OpsPerSecond)
		fmt.Fprintf(w, "Avg Latency: %v\n", r.AvgLatency)
	}
	if r.Mismatches > 0 {
		fmt.Fprintf(w, "Value mismatches: %d\n", r.Mismatches)
	}
	if r.FirstError != nil {
		fmt.Fprintf(w, "First error: %v\n", r.FirstError)
	}
	fmt.Fprintln(w)
}
