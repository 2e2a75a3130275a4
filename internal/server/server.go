// Package server implements the Supervisor/Factory of spec.md section 2:
// it owns the wired collaborators (session.Deps plus a running Fan-out
// Dispatcher) and turns accepted connections into running Sessions.
//
// Grounded on server/shutdown.go's listenAndServe (tinode/chat) for the
// accept-loop shape, split out of the teacher's single main package so
// it can be exercised directly by tests without a real TCP listener —
// the same role net.Pipe() plays in internal/session's tests.
package server

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chathub/relay/internal/dispatcher"
	"github.com/chathub/relay/internal/session"
)

// Supervisor wires a session.Deps bundle to a running Dispatcher and
// accepts connections on its behalf.
type Supervisor struct {
	Deps       session.Deps
	Dispatcher *dispatcher.Dispatcher
	Log        *zap.Logger
}

// New builds a Supervisor. The Dispatcher is not started; call Run.
func New(deps session.Deps, disp *dispatcher.Dispatcher, log *zap.Logger) *Supervisor {
	return &Supervisor{Deps: deps, Dispatcher: disp, Log: log}
}

// Run starts the Dispatcher and blocks until ctx is canceled.
func (sv *Supervisor) Run(ctx context.Context) {
	sv.Dispatcher.Run(ctx)
}

// Serve accepts connections on ln until Accept fails, handing each to a
// new Session on its own goroutine. Canceling ctx does not by itself stop
// the loop; an Accept failure after ctx is canceled (the caller closing
// ln) returns nil instead of the error. idleTimeout, if
// positive, closes a connection that goes silent for that long, per
// spec.md section 5's "implementations should impose an idle read
// timeout configurable per deployment and close the connection on
// violation."
func (sv *Supervisor) Serve(ctx context.Context, ln net.Listener, idleTimeout time.Duration) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var rwc io.ReadWriteCloser = conn
		if idleTimeout > 0 {
			rwc = &idleTimeoutConn{Conn: conn, timeout: idleTimeout}
		}
		sv.HandleConn(ctx, uuid.NewString(), rwc)
	}
}

// idleTimeoutConn resets a read deadline on every Read.
type idleTimeoutConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleTimeoutConn) Read(p []byte) (int, error) {
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.timeout))
	return c.Conn.Read(p)
}

// HandleConn starts a Session over conn and returns it immediately;
// the Session runs on its own goroutine until conn closes. Exposed
// directly so tests can drive Sessions over net.Pipe() without a real
// TCP listener.
func (sv *Supervisor) HandleConn(ctx context.Context, id string, conn io.ReadWriteCloser) *session.Session {
	sess := session.New(id, conn, sv.Deps)
	go sess.Run(ctx)
	return sess
}
