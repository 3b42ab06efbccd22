package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quizcast/quizcast/internal/wire"
)

// TCP is the connection-oriented transport. A handle wraps one accepted
// stream; messages are newline-delimited within it.
type TCP struct {
	ln     net.Listener
	nextID atomic.Uint64

	mu    sync.Mutex
	conns map[Handle]*tcpConn
}

type tcpConn struct {
	net.Conn
	wmu sync.Mutex
}

func NewTCP(port int) (*TCP, error) {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return nil, fmt.Errorf("transport: tcp listen: %w", err)
	}

	return &TCP{
		ln:    ln,
		conns: make(map[Handle]*tcpConn),
	}, nil
}

func (t *TCP) Name() string { return "tcp" }

func (t *TCP) Lossy() bool { return false }

func (t *TCP) Addr() net.Addr { return t.ln.Addr() }

func (t *TCP) Run(ctx context.Context, h Handler) error {
	go func() {
		<-ctx.Done()
		_ = t.ln.Close()
	}()

	for {
		conn, err := t.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			return fmt.Errorf("transport: tcp accept: %w", err)
		}

		handle := Handle("tcp:" + strconv.FormatUint(t.nextID.Add(1), 10))

		t.mu.Lock()
		t.conns[handle] = &tcpConn{Conn: conn}
		t.mu.Unlock()

		go t.serve(handle, conn, h)
	}
}

func (t *TCP) serve(handle Handle, conn net.Conn, h Handler) {
	defer func() {
		t.mu.Lock()
		_, known := t.conns[handle]
		delete(t.conns, handle)
		t.mu.Unlock()

		_ = conn.Close()
		if known {
			h.HandleDisconnect(handle)
		}
	}()

	h.HandleConnect(handle)

	sc := wire.NewFrameScanner(conn)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		frame := make([]byte, len(line))
		copy(frame, line)
		h.HandleMessage(handle, frame)
	}
}

func (t *TCP) Send(h Handle, frame []byte) error {
	t.mu.Lock()
	conn, ok := t.conns[h]
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("transport: tcp send: unknown conn %s", h)
	}

	conn.wmu.Lock()
	defer conn.wmu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("transport: tcp send to %s: %w", h, err)
	}

	if err := wire.WriteFrame(conn, frame); err != nil {
		return fmt.Errorf("transport: tcp send to %s: %w", h, err)
	}

	return nil
}

// Drop closes the client's connection. The serve goroutine then reports the
// disconnect through the handler as usual.
func (t *TCP) Drop(h Handle) {
	t.mu.Lock()
	conn, ok := t.conns[h]
	t.mu.Unlock()

	if ok {
		_ = conn.Close()
	}
}

func (t *TCP) Close() error {
	err := t.ln.Close()

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, conn := range t.conns {
		_ = conn.Close()
	}

	return err
}
