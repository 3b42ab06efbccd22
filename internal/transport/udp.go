package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quizcast/quizcast/internal/wire"
)

// UDP is the connectionless transport. A peer is registered implicitly on
// its first inbound datagram and addressed by its remote address pair.
type UDP struct {
	conn *net.UDPConn

	mu    sync.Mutex
	peers map[Handle]*net.UDPAddr
}

func NewUDP(port int) (*UDP, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("transport: udp listen: %w", err)
	}

	return &UDP{
		conn:  conn,
		peers: make(map[Handle]*net.UDPAddr),
	}, nil
}

func (t *UDP) Name() string { return "udp" }

func (t *UDP) Lossy() bool { return true }

func (t *UDP) Addr() net.Addr { return t.conn.LocalAddr() }

func (t *UDP) Run(ctx context.Context, h Handler) error {
	buf := make([]byte, wire.MaxFrameSize)

	for {
		if err := t.conn.SetReadDeadline(time.Now().Add(readPollInterval)); err != nil {
			return fmt.Errorf("transport: udp set deadline: %w", err)
		}

		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}

			return fmt.Errorf("transport: udp read: %w", err)
		}

		handle := Handle("udp:" + addr.String())
		if t.addPeer(handle, addr) {
			h.HandleConnect(handle)
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])
		h.HandleMessage(handle, frame)
	}
}

func (t *UDP) addPeer(h Handle, addr *net.UDPAddr) (isNew bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.peers[h]; ok {
		return false
	}

	t.peers[h] = addr
	return true
}

func (t *UDP) Send(h Handle, frame []byte) error {
	t.mu.Lock()
	addr, ok := t.peers[h]
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("transport: udp send: unknown peer %s", h)
	}

	if _, err := t.conn.WriteToUDP(frame, addr); err != nil {
		return fmt.Errorf("transport: udp send to %s: %w", h, err)
	}

	return nil
}

func (t *UDP) Drop(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.peers, h)
}

func (t *UDP) Close() error {
	return t.conn.Close()
}
