package memcache_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker/v2"

	memcache "github.com/pior/memcache-binary"
)

func ExampleConnect() {
	ctx := context.Background()

	client, err := memcache.Connect(ctx, []memcache.Server{
		{Addr: "localhost:11211", Weight: 2},
		{Addr: "localhost:11212", Weight: 1},
	}, memcache.Config{
		Credentials: &memcache.Credentials{Username: "app", Password: "secret"},
		Timeout:     500 * time.Millisecond,
	})
	if err != nil {
		var connectErr *memcache.ConnectError
		if errors.As(err, &connectErr) {
			for _, failure := range connectErr.Failures {
				log.Printf("%s: %v", failure.Addr, failure.Err)
			}
		}
		return
	}
	defer client.Close()

	if err := client.Set(ctx, memcache.Item{Key: "user:123", Value: []byte("John"), Expiration: 3600}); err != nil {
		log.Printf("Set failed: %v", err)
		return
	}

	item, err := client.Get(ctx, "user:123")
	switch {
	case errors.Is(err, memcache.ErrKeyNotFound):
		fmt.Println("miss")
	case err != nil:
		log.Printf("Get failed: %v", err)
	default:
		fmt.Printf("%s\n", item.Value)
	}
}

func ExampleClient_IncrementCAS() {
	client, err := memcache.NewClient(memcache.ServersFromAddr("localhost:11211"), memcache.Config{})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	ctx := context.Background()

	// starts at 1 when the counter does not exist
	value, cas, err := client.IncrementCAS(ctx, "visits", 1, 1, 0, 0)
	if err != nil {
		log.Printf("IncrementCAS failed: %v", err)
		return
	}
	fmt.Println("visits:", value)

	// fails with ErrCASMismatch if another client changed the counter meanwhile
	_, _, err = client.IncrementCAS(ctx, "visits", 1, 1, 0, cas)
	if errors.Is(err, memcache.ErrCASMismatch) {
		fmt.Println("lost the race")
	}
}

func ExampleClient_GetMulti() {
	client, err := memcache.NewClient(memcache.ServersFromAddr("localhost:11211", "localhost:11212"), memcache.Config{})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	ctx := context.Background()

	results := client.SetMulti(ctx, []memcache.Item{
		{Key: "key1", Value: []byte("value1")},
		{Key: "key2", Value: []byte("value2")},
		{Key: "key3", Value: []byte("value3")},
	})
	for key, err := range results {
		if err != nil {
			log.Printf("%s: %v", key, err)
		}
	}

	// missing keys are absent from the map
	items, err := client.GetMulti(ctx, []string{"key1", "key2", "key3", "key4"})
	if err != nil {
		log.Printf("some servers failed: %v", err)
	}
	for key, item := range items {
		fmt.Printf("%s=%s\n", key, item.Value)
	}
}

func ExampleClient_SetNoReply() {
	client, err := memcache.NewClient(memcache.ServersFromAddr("localhost:11211"), memcache.Config{})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	ctx := context.Background()

	// server-side failures of quiet requests are not reported
	for i := range 100 {
		_ = client.SetNoReply(ctx, memcache.Item{Key: fmt.Sprintf("session:%d", i), Value: []byte("active")})
	}
}

func ExampleNewCircuitBreakerConfig() {
	servers := memcache.ServersFromAddr("localhost:11211", "localhost:11212")

	client, err := memcache.NewClient(servers, memcache.Config{
		MaxSize: 10,
		NewCircuitBreaker: memcache.NewCircuitBreakerConfig(
			3,              // maxRequests in half-open state
			time.Minute,    // interval to reset failure counts
			10*time.Second, // timeout before transitioning to half-open
		),
	})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	_ = client.Set(context.Background(), memcache.Item{Key: "user:123", Value: []byte("John")})

	for _, serverStats := range client.AllPoolStats() {
		fmt.Printf("Server: %s, Circuit: %s\n", serverStats.Addr, serverStats.CircuitBreakerState)
	}
}

func ExampleConfig_NewCircuitBreaker() {
	client, err := memcache.NewClient(memcache.ServersFromAddr("localhost:11211"), memcache.Config{
		NewCircuitBreaker: func(serverAddr string) *memcache.CircuitBreaker {
			return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
				Name:        serverAddr,
				MaxRequests: 5,
				Interval:    30 * time.Second,
				Timeout:     5 * time.Second,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= 5
				},
				IsSuccessful: func(err error) bool {
					return err == nil || !memcache.ShouldCloseConnection(err)
				},
				OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
					log.Printf("Circuit breaker %s: %s -> %s", name, from, to)
				},
			})
		},
	})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()
}

func ExampleClient_Stats() {
	client, err := memcache.NewClient(memcache.ServersFromAddr("localhost:11211"), memcache.Config{})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	ctx := context.Background()

	_ = client.Set(ctx, memcache.Item{Key: "user:123", Value: []byte("John")})
	_, _ = client.Get(ctx, "user:123")
	_, _ = client.Get(ctx, "user:456")

	stats := client.Stats()
	fmt.Printf("Gets: %d, hits: %d\n", stats.Gets, stats.GetHits)
	if stats.Gets > 0 {
		fmt.Printf("Hit rate: %.2f%%\n", float64(stats.GetHits)/float64(stats.Gets)*100)
	}
	fmt.Printf("Errors: %d\n", stats.Errors)
}

func ExampleClient_AllPoolStats() {
	client, err := memcache.NewClient(memcache.ServersFromAddr("localhost:11211"), memcache.Config{MaxSize: 10})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	_ = client.Set(context.Background(), memcache.Item{Key: "key1", Value: []byte("value1")})

	for _, serverStats := range client.AllPoolStats() {
		pool := serverStats.PoolStats
		fmt.Printf("Server: %s\n", serverStats.Addr)
		fmt.Printf("  Connections: %d total, %d idle, %d active\n", pool.TotalConns, pool.IdleConns, pool.ActiveConns)
		fmt.Printf("  Created: %d, destroyed: %d\n", pool.CreatedConns, pool.DestroyedConns)
		if pool.AcquireWaitCount > 0 {
			fmt.Printf("  Average wait: %v\n", time.Duration(pool.AcquireWaitTimeNs/pool.AcquireWaitCount))
		}
	}
}
