package wrp

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrOutboxClosed is returned by send after the session stopped writing.
var ErrOutboxClosed = errors.New("wrp: outbox closed")

type writeRequest struct {
	payload []byte
	result  chan error
}

// outbox is the only writer of a session's socket. Senders hand over a
// complete message and block until it is written, so they may reuse their
// buffer afterwards and messages reach the socket in submission order.
// After the first write failure the socket is closed and every later send
// fails with that error.
type outbox struct {
	conn    net.Conn
	timeout time.Duration

	requests chan writeRequest
	quit     chan struct{}
	done     chan struct{}
	err      error
}

func newOutbox(conn net.Conn, timeout time.Duration) *outbox {
	o := &outbox{
		conn:     conn,
		timeout:  timeout,
		requests: make(chan writeRequest),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	go o.run()
	return o
}

func (o *outbox) run() {
	defer close(o.done)

	for {
		select {
		case <-o.quit:
			return
		case req := <-o.requests:
			req.result <- o.write(req.payload)
		}
	}
}

func (o *outbox) write(p []byte) error {
	if o.err != nil {
		return o.err
	}

	if o.timeout > 0 {
		_ = o.conn.SetWriteDeadline(time.Now().Add(o.timeout))
	}

	if _, err := o.conn.Write(p); err != nil {
		o.err = fmt.Errorf("wrp: write failed: %w", err)
		_ = o.conn.Close()
		return o.err
	}

	return nil
}

// send writes one message and returns the write outcome.
func (o *outbox) send(p []byte) error {
	req := writeRequest{payload: p, result: make(chan error, 1)}

	select {
	case o.requests <- req:
	case <-o.quit:
		return ErrOutboxClosed
	}

	return <-req.result
}

// close stops the writer after the write in progress, if any. Safe to call
// once; the session guards it.
func (o *outbox) close() {
	close(o.quit)
	<-o.done
}
