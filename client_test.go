package memcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pior/memcache-binary/binprot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, Config{})
	require.ErrorIs(t, err, ErrNoServers)

	_, err = NewClient(ServersFromAddr("127.0.0.1:11211"), Config{Protocol: ProtocolType(7)})
	require.ErrorIs(t, err, ErrUnsupportedProtocol)

	_, err = Connect(context.Background(), nil, Config{})
	require.ErrorIs(t, err, ErrNoServers)
}

func TestClient_SetGet(t *testing.T) {
	server := newFakeServer(t)
	client := newTestClient(t, Config{}, server.addr)
	ctx := context.Background()

	err := client.Set(ctx, Item{Key: "Foo", Value: []byte("Bar"), Flags: 0xdeadbeef, Expiration: 2})
	require.NoError(t, err)

	item, err := client.Get(ctx, "Foo")
	require.NoError(t, err)
	assert.Equal(t, "Foo", item.Key)
	assert.Equal(t, []byte("Bar"), item.Value)
	assert.Equal(t, uint32(0xdeadbeef), item.Flags)
	assert.NotZero(t, item.CAS)

	stored, ok := server.Item("Foo")
	require.True(t, ok)
	assert.Equal(t, uint32(2), stored.expiration)
}

func TestClient_GetMiss(t *testing.T) {
	server := newFakeServer(t)
	client := newTestClient(t, Config{}, server.addr)

	_, err := client.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrKeyNotFound)
	assert.False(t, ShouldCloseConnection(err))

	stats := client.Stats()
	assert.Equal(t, uint64(1), stats.Gets)
	assert.Equal(t, uint64(0), stats.GetHits)
	assert.Equal(t, uint64(0), stats.Errors)
}

func TestClient_AddReplace(t *testing.T) {
	server := newFakeServer(t)
	client := newTestClient(t, Config{}, server.addr)
	ctx := context.Background()

	err := client.Replace(ctx, Item{Key: "k", Value: []byte("v0")})
	require.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, client.Add(ctx, Item{Key: "k", Value: []byte("v1")}))

	err = client.Add(ctx, Item{Key: "k", Value: []byte("v2")})
	require.ErrorIs(t, err, ErrKeyExists)

	require.NoError(t, client.Replace(ctx, Item{Key: "k", Value: []byte("v3")}))

	item, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v3", string(item.Value))

	// an add conflict is not a CAS failure
	assert.Equal(t, uint64(0), client.Stats().CASFailures)
}

func TestClient_Delete(t *testing.T) {
	server := newFakeServer(t)
	client := newTestClient(t, Config{}, server.addr)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, Item{Key: "k", Value: []byte("v")}))
	require.NoError(t, client.Delete(ctx, "k"))

	err := client.Delete(ctx, "k")
	require.ErrorIs(t, err, ErrKeyNotFound)

	_, err = client.Get(ctx, "k")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestClient_IncrementDecrement(t *testing.T) {
	server := newFakeServer(t)
	client := newTestClient(t, Config{}, server.addr)
	ctx := context.Background()

	value, err := client.Increment(ctx, "counter", 5, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), value, "missing counter is created at initial")

	value, err = client.Increment(ctx, "counter", 5, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(15), value)

	value, err = client.Decrement(ctx, "counter", 20, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), value, "decrement stops at zero")

	_, err = client.Increment(ctx, "other", 1, 0, NoCreate)
	require.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, client.Set(ctx, Item{Key: "text", Value: []byte("abc")}))
	_, err = client.Increment(ctx, "text", 1, 0, 0)
	require.ErrorIs(t, err, ErrNonNumericValue)

	stats := client.Stats()
	assert.Equal(t, uint64(4), stats.Increments)
	assert.Equal(t, uint64(1), stats.Decrements)
}

func TestClient_AppendPrependTouch(t *testing.T) {
	server := newFakeServer(t)
	client := newTestClient(t, Config{}, server.addr)
	ctx := context.Background()

	err := client.Append(ctx, "k", []byte("x"))
	require.ErrorIs(t, err, ErrNotStored)

	require.NoError(t, client.Set(ctx, Item{Key: "k", Value: []byte("middle"), Flags: 7}))
	require.NoError(t, client.Append(ctx, "k", []byte("-end")))
	require.NoError(t, client.Prepend(ctx, "k", []byte("start-")))

	item, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "start-middle-end", string(item.Value))
	assert.Equal(t, uint32(7), item.Flags)

	require.NoError(t, client.Touch(ctx, "k", 300))
	stored, _ := server.Item("k")
	assert.Equal(t, uint32(300), stored.expiration)

	err = client.Touch(ctx, "missing", 300)
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestClient_InvalidKey(t *testing.T) {
	server := newFakeServer(t)
	client := newTestClient(t, Config{}, server.addr)
	ctx := context.Background()

	var keyErr *binprot.InvalidKeyError

	_, err := client.Get(ctx, "")
	require.ErrorAs(t, err, &keyErr)

	err = client.Set(ctx, Item{Key: string(make([]byte, 251)), Value: []byte("v")})
	require.ErrorAs(t, err, &keyErr)

	assert.Empty(t, server.Received())
}

func TestClient_ValueTooLarge(t *testing.T) {
	server := newFakeServer(t)
	client := newTestClient(t, Config{MaxValueSize: 16}, server.addr)

	err := client.Set(context.Background(), Item{Key: "k", Value: make([]byte, 17)})
	require.ErrorIs(t, err, ErrValueTooLarge)
	assert.Empty(t, server.Received(), "rejected before sending")

	require.NoError(t, client.Set(context.Background(), Item{Key: "k", Value: make([]byte, 16)}))
}

func TestClient_Flush(t *testing.T) {
	server1 := newFakeServer(t)
	server2 := newFakeServer(t)
	client := newTestClient(t, Config{}, server1.addr, server2.addr)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c", "d", "e", "f"} {
		require.NoError(t, client.Set(ctx, Item{Key: key, Value: []byte(key)}))
	}
	require.Equal(t, 6, server1.Len()+server2.Len())

	require.NoError(t, client.Flush(ctx, 0))
	assert.Equal(t, 0, server1.Len()+server2.Len())
}

func TestClient_Flush_ServerDown(t *testing.T) {
	server := newFakeServer(t)
	down := newFakeServer(t)
	down.Stop()

	client := newTestClient(t, Config{}, server.addr, down.addr)

	err := client.Flush(context.Background(), 0)
	require.Error(t, err)

	var serr *ServerError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, down.addr, serr.Addr)
	assert.Contains(t, server.Received(), binprot.OpFlush)
}

func TestClient_KeysAreRoutedToOneServer(t *testing.T) {
	server1 := newFakeServer(t)
	server2 := newFakeServer(t)
	client := newTestClient(t, Config{}, server1.addr, server2.addr)
	ctx := context.Background()

	key1 := keyForServer(t, client, server1.addr, "key")
	key2 := keyForServer(t, client, server2.addr, "key")

	require.NoError(t, client.Set(ctx, Item{Key: key1, Value: []byte("1")}))
	require.NoError(t, client.Set(ctx, Item{Key: key2, Value: []byte("2")}))

	_, ok := server1.Item(key1)
	assert.True(t, ok)
	_, ok = server2.Item(key1)
	assert.False(t, ok)
	_, ok = server2.Item(key2)
	assert.True(t, ok)
}

func TestClient_Closed(t *testing.T) {
	server := newFakeServer(t)
	client := newTestClient(t, Config{}, server.addr)

	client.Close()
	client.Close()

	_, err := client.Get(context.Background(), "k")
	require.ErrorIs(t, err, ErrClientClosed)

	results := client.SetMulti(context.Background(), []Item{{Key: "k"}})
	require.ErrorIs(t, results["k"], ErrClientClosed)

	require.ErrorIs(t, client.Ping(context.Background()), ErrClientClosed)
}

func TestClient_BrokenConnectionIsReplaced(t *testing.T) {
	server := newFakeServer(t)
	client := newTestClient(t, Config{}, server.addr)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, Item{Key: "k", Value: []byte("v")}))

	// kill the server side of the pooled connection
	server.mu.Lock()
	for conn := range server.conns {
		_ = conn.Close()
	}
	server.mu.Unlock()

	_, err := client.Get(ctx, "k")
	require.Error(t, err)
	assert.True(t, ShouldCloseConnection(err))

	// no retry, but the next operation gets a fresh connection
	item, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(item.Value))

	stats := client.AllPoolStats()
	require.Len(t, stats, 1)
	assert.Equal(t, uint64(2), stats[0].PoolStats.CreatedConns)
	assert.Equal(t, uint64(1), stats[0].PoolStats.DestroyedConns)
}

func TestClient_Timeout(t *testing.T) {
	addr := createListener(t, silentResponder)
	client := newTestClient(t, Config{Timeout: 50 * time.Millisecond}, addr)

	start := time.Now()
	_, err := client.Get(context.Background(), "k")
	require.Error(t, err)

	var timeoutErr *binprot.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.True(t, timeoutErr.Timeout())
	assert.Less(t, time.Since(start), time.Second)
}

func TestClient_ContextCanceled(t *testing.T) {
	addr := createListener(t, silentResponder)
	client := newTestClient(t, Config{Timeout: 5 * time.Second}, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Get(ctx, "k")
	require.Error(t, err)
	assert.True(t, ShouldCloseConnection(err))
}

func TestConnect(t *testing.T) {
	server1 := newFakeServer(t)
	server2 := newFakeServer(t)

	client, err := Connect(context.Background(), []Server{
		{Addr: server1.addr, Weight: 1},
		{Addr: server2.addr, Weight: 2},
	}, Config{Logger: testLogger()})
	require.NoError(t, err)
	defer client.Close()

	for _, stats := range client.AllPoolStats() {
		assert.Equal(t, int32(1), stats.PoolStats.TotalConns, stats.Addr)
	}
	assert.Equal(t, 3, client.Servers().TotalWeight())
}

func TestConnect_PartialFailure(t *testing.T) {
	server := newFakeServer(t)
	down1 := newFakeServer(t)
	down1.Stop()
	down2 := newFakeServer(t)
	down2.Stop()

	_, err := Connect(context.Background(), []Server{
		{Addr: server.addr, Weight: 1},
		{Addr: down1.addr, Weight: 1},
		{Addr: down2.addr, Weight: 1},
	}, Config{Logger: testLogger()})
	require.Error(t, err)

	var connectErr *ConnectError
	require.ErrorAs(t, err, &connectErr)
	require.Len(t, connectErr.Failures, 2)

	addrs := []string{connectErr.Failures[0].Addr, connectErr.Failures[1].Addr}
	assert.ElementsMatch(t, []string{down1.addr, down2.addr}, addrs)
}

func TestConnect_Authentication(t *testing.T) {
	server := newFakeServer(t, withFakeCredentials("user", "secret"))

	client, err := Connect(context.Background(), []Server{{Addr: server.addr, Weight: 1}}, Config{
		Credentials: &Credentials{Username: "user", Password: "secret"},
		Logger:      testLogger(),
	})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), Item{Key: "k", Value: []byte("v")}))
}

func TestConnect_AuthenticationFailure(t *testing.T) {
	server := newFakeServer(t, withFakeCredentials("user", "secret"))

	_, err := Connect(context.Background(), []Server{{Addr: server.addr, Weight: 1}}, Config{
		Credentials: &Credentials{Username: "user", Password: "wrong"},
		Logger:      testLogger(),
	})
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Empty(t, server.Received(), "no data request before authentication")
}

func TestClient_WithoutCredentialsOnAuthServer(t *testing.T) {
	server := newFakeServer(t, withFakeCredentials("user", "secret"))
	client := newTestClient(t, Config{}, server.addr)

	err := client.Set(context.Background(), Item{Key: "k", Value: []byte("v")})
	require.Error(t, err)
	assert.Equal(t, 0, server.Len())
}

func TestClient_PuddlePool(t *testing.T) {
	server := newFakeServer(t)
	client := newTestClient(t, Config{Pool: NewPuddlePool}, server.addr)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, Item{Key: "k", Value: []byte("v")}))
	item, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(item.Value))
}

func TestClient_HealthCheck(t *testing.T) {
	server := newFakeServer(t)
	client := newTestClient(t, Config{
		HealthCheckInterval: 20 * time.Millisecond,
		MaxConnIdleTime:     time.Hour,
	}, server.addr)

	require.NoError(t, client.Set(context.Background(), Item{Key: "k", Value: []byte("v")}))

	require.Eventually(t, func() bool {
		for _, op := range server.Received() {
			if op == binprot.OpNoop {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestClient_ConcurrentUse(t *testing.T) {
	server := newFakeServer(t)
	client := newTestClient(t, Config{MaxSize: 2}, server.addr)
	ctx := context.Background()

	done := make(chan error, 20)
	for i := range 20 {
		go func() {
			key := "key-" + string(rune('a'+i))
			if err := client.Set(ctx, Item{Key: key, Value: []byte(key)}); err != nil {
				done <- err
				return
			}
			item, err := client.Get(ctx, key)
			if err == nil && string(item.Value) != key {
				err = errors.New("wrong value for " + key)
			}
			done <- err
		}()
	}

	for range 20 {
		require.NoError(t, <-done)
	}

	stats := client.AllPoolStats()[0].PoolStats
	assert.LessOrEqual(t, stats.TotalConns, int32(2))
}
