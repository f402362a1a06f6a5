// Package session tracks per-connection dispatcher state: the active
// envelope key and the session tokens issued on the connection. The
// registry exists so shutdown can close every live connection and the
// health endpoint can report a count.
package session

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/fernet/fernet-go"
	"github.com/prometheus/client_golang/prometheus"
)

// Conn is the dispatcher-owned state of one accepted connection.
//
// The active key starts as the base key and is swapped exactly once, on
// the reply to a successful login. Tokens accumulates every session
// opened for this connection so teardown can close them all.
type Conn struct {
	ID      uint64
	NetConn net.Conn

	mu     sync.Mutex
	key    *fernet.Key
	tokens []string
}

// Key returns the connection's active envelope key.
func (c *Conn) Key() *fernet.Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

// SetKey swaps in the per-session key after the login reply is written.
func (c *Conn) SetKey(k *fernet.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = k
}

// TrackToken records a session token issued on this connection.
func (c *Conn) TrackToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = append(c.tokens, token)
}

// Tokens returns every session token issued on this connection.
func (c *Conn) Tokens() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.tokens...)
}

// Registry tracks all live connections.
type Registry struct {
	conns sync.Map // map[uint64]*Conn
	next  uint64
	count int32
	gauge prometheus.Gauge
}

// NewRegistry creates a registry. The gauge may be nil.
func NewRegistry(gauge prometheus.Gauge) *Registry {
	return &Registry{gauge: gauge}
}

// Register tracks a newly accepted connection starting on the base key.
func (r *Registry) Register(conn net.Conn, baseKey *fernet.Key) *Conn {
	id := atomic.AddUint64(&r.next, 1)
	c := &Conn{ID: id, NetConn: conn, key: baseKey}
	r.conns.Store(id, c)
	atomic.AddInt32(&r.count, 1)
	if r.gauge != nil {
		r.gauge.Inc()
	}
	return c
}

// Unregister drops a connection from tracking.
func (r *Registry) Unregister(c *Conn) {
	if c == nil {
		return
	}
	if _, ok := r.conns.LoadAndDelete(c.ID); ok {
		atomic.AddInt32(&r.count, -1)
		if r.gauge != nil {
			r.gauge.Dec()
		}
	}
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	return int(atomic.LoadInt32(&r.count))
}

// CloseAll force-closes every tracked connection, unblocking their
// reader goroutines during shutdown.
func (r *Registry) CloseAll() {
	r.conns.Range(func(_, value any) bool {
		c := value.(*Conn)
		if c.NetConn != nil {
			_ = c.NetConn.Close()
		}
		return true
	})
}
