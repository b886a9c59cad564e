package pool

import (
	"net"
	"sync"
	"time"
)

// trackedConn wraps a net.Conn handed out by Pool.GetOrCreate. Callers that
// are done with the connection for good call Close; callers that want to
// return it to the pool for reuse call Pool.ReturnConnection(addr, conn)
// with the trackedConn itself instead of calling Close.
type trackedConn struct {
	net.Conn
	pool      *Pool
	addr      string
	dp        *destPool
	createdAt time.Time

	once sync.Once
}

// Close releases this connection's admission permits and closes the
// underlying socket. It does not return the connection to the pool; use
// Pool.ReturnConnection for that.
func (c *trackedConn) Close() error {
	var err error
	c.once.Do(func() {
		err = c.Conn.Close()
		c.pool.global.Release(1)
		c.pool.openConns.Add(-1)
		c.dp.perHost.Release(1)
		c.dp.outstanding.Add(-1)
	})
	return err
}
