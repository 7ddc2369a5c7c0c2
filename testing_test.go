package memcache

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestClient(t testing.TB, config Config, addrs ...string) *Client {
	t.Helper()

	if config.Logger == nil {
		config.Logger = testLogger()
	}
	if config.Timeout == 0 {
		config.Timeout = 2 * time.Second
	}

	client, err := NewClient(ServersFromAddr(addrs...), config)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

// keyForServer returns a key owned by addr.
func keyForServer(t testing.TB, client *Client, addr, prefix string) string {
	t.Helper()
	for i := range 10000 {
		key := prefix + "-" + strconv.Itoa(i)
		if client.Servers().Select(key).Addr == addr {
			return key
		}
	}
	t.Fatalf("no key found for server %s", addr)
	return ""
}

func createListener(t testing.TB, handler func(conn net.Conn)) string {
	// Start a simple test server
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start test server: %v", err)
	}

	t.Cleanup(func() {
		listener.Close()
	})

	// Accept connections in background
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}

			go func(c net.Conn) {
				defer c.Close()

				if handler != nil {
					handler(c)
				}
			}(conn)
		}
	}()

	return listener.Addr().String()
}

// silentResponder reads requests and never answers.
func silentResponder(conn net.Conn) {
	_, _ = io.Copy(io.Discard, conn)
}

func dialTestConnection(t testing.TB, addr string, opts ConnectionOptions) *Connection {
	t.Helper()

	netConn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	if opts.Logger == nil {
		opts.Logger = testLogger()
	}
	conn := NewConnection(netConn, opts)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func authenticatedTestConnection(t testing.TB, addr string, opts ConnectionOptions) *Connection {
	t.Helper()
	conn := dialTestConnection(t, addr, opts)
	require.NoError(t, conn.Authenticate(context.Background(), nil))
	return conn
}
