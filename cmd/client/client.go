package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/quizcast/quizcast/internal/wire"
)

const (
	datagramBufferSize = 4096
	heartbeatEvery     = 5 * time.Second
)

// client talks the quizcast protocol over a single dialed socket. The two
// transports differ only in framing (one message per datagram vs. one per
// newline-delimited frame) and in whether inbound seq numbers are checked.
type client struct {
	conn  net.Conn
	lossy bool
	name  string

	mu           sync.Mutex
	seq          uint64
	lastSeq      uint64
	lastQuestion int
	playerID     string
}

func run(ctx context.Context, o *options) error {
	conn, err := net.Dial(o.transport, o.addr())
	if err != nil {
		return fmt.Errorf("dial %s %s: %w", o.transport, o.addr(), err)
	}
	defer conn.Close()

	c := &client{
		conn:  conn,
		lossy: o.transport == "udp",
		name:  o.name,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.receive(ctx) }()

	if c.lossy {
		go c.heartbeat(ctx)
	}

	if err := c.send(wire.TypeJoin, wire.Join{Name: o.name}); err != nil {
		return err
	}

	fmt.Printf("Joining %s as %q...\n", o.addr(), o.name)
	fmt.Println("Commands: start, status, quit, or A-D to answer.")

	go c.readInput(ctx, cancel)

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return nil
	}
}

func (c *client) readInput(ctx context.Context, cancel context.CancelFunc) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())

		var err error
		switch strings.ToLower(line) {
		case "":
			continue
		case "quit", "exit":
			cancel()
			return
		case "start":
			err = c.send(wire.TypeStart, nil)
		case "status":
			err = c.send(wire.TypeStatus, nil)
		case "a", "b", "c", "d":
			err = c.send(wire.TypeAnswer, wire.Answer{
				Option:           strings.ToUpper(line),
				ClientTimeMillis: time.Now().UnixMilli(),
			})
		default:
			fmt.Printf("Unknown command %q. Use start, status, quit, or A-D.\n", line)
			continue
		}

		if err != nil {
			fmt.Printf("Send failed: %v\n", err)
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (c *client) send(typ string, data any) error {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	if !c.lossy {
		seq = 0
	}

	frame, err := wire.Encode(typ, data, seq, time.Now())
	if err != nil {
		return err
	}

	if c.lossy {
		_, err = c.conn.Write(frame)
		return err
	}

	return wire.WriteFrame(c.conn, frame)
}

func (c *client) heartbeat(ctx context.Context) {
	t := time.NewTicker(heartbeatEvery)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = c.send(wire.TypeHeartbeat, nil)
		}
	}
}

func (c *client) receive(ctx context.Context) error {
	if c.lossy {
		return c.receiveDatagrams(ctx)
	}
	return c.receiveFrames(ctx)
}

func (c *client) receiveDatagrams(ctx context.Context) error {
	buf := make([]byte, datagramBufferSize)
	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			return err
		}

		n, err := c.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				select {
				case <-ctx.Done():
					return nil
				default:
					continue
				}
			}
			return err
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])
		c.handle(frame)
	}
}

func (c *client) receiveFrames(ctx context.Context) error {
	sc := wire.NewFrameScanner(c.conn)
	for sc.Scan() {
		c.handle(append([]byte(nil), sc.Bytes()...))

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}

	if err := sc.Err(); err != nil {
		return fmt.Errorf("server connection lost: %w", err)
	}

	fmt.Println("Server closed the connection.")
	return nil
}

func (c *client) handle(frame []byte) {
	env, err := wire.Decode(frame)
	if err != nil {
		return
	}

	// Datagram seq numbers only ever increase per client, so anything at or
	// below the high-water mark is a stale duplicate.
	if c.lossy && env.Seq != 0 {
		c.mu.Lock()
		stale := env.Seq <= c.lastSeq
		if !stale {
			c.lastSeq = env.Seq
		}
		c.mu.Unlock()
		if stale {
			return
		}
	}

	switch env.Type {
	case wire.TypeJoinAck:
		var ack wire.JoinAck
		if env.DecodeData(&ack) == nil {
			c.mu.Lock()
			c.playerID = ack.PlayerID
			c.mu.Unlock()
			fmt.Printf("Joined. Players connected: %d\n", ack.PlayerCount)
			fmt.Println("Type 'start' when everyone is in.")
		}

	case wire.TypeJoinReject, wire.TypeError:
		var e wire.ErrorInfo
		if env.DecodeData(&e) == nil {
			fmt.Printf("Server: %s (%s)\n", e.Message, e.Code)
		}

	case wire.TypePlayerJoined:
		var pj wire.PlayerJoined
		if env.DecodeData(&pj) == nil {
			fmt.Printf("%s joined. Players connected: %d\n", pj.Name, pj.PlayerCount)
		}

	case wire.TypeRoundBegin:
		var rb wire.RoundBegin
		if env.DecodeData(&rb) == nil {
			c.renderQuestion(rb)
		}

	case wire.TypeAnswerAck:
		var ack wire.AnswerAck
		if env.DecodeData(&ack) == nil {
			if ack.Accepted {
				fmt.Println("Answer received.")
			} else {
				fmt.Printf("Answer rejected: %s\n", ack.Message)
			}
		}

	case wire.TypeRoundResult:
		var rr wire.RoundResult
		if env.DecodeData(&rr) == nil {
			c.renderResult(rr)
		}

	case wire.TypeStandings:
		var st wire.Standings
		if env.DecodeData(&st) == nil {
			fmt.Printf("\nStandings after round %d/%d:\n", st.Round, st.TotalRounds)
			renderEntries(st.Entries)
		}

	case wire.TypeGameOver:
		var g wire.GameOver
		if env.DecodeData(&g) == nil {
			c.mu.Lock()
			c.lastQuestion = 0
			c.mu.Unlock()

			fmt.Println("\n=== FINAL LEADERBOARD ===")
			renderEntries(g.Leaderboard)
			fmt.Println("Game over. Thanks for playing!")
		}

	case wire.TypeStatusInfo:
		var si wire.StatusInfo
		if env.DecodeData(&si) == nil {
			fmt.Printf("Phase: %s, players: %d, question: %d\n", si.Phase, si.PlayerCount, si.Question)
		}

	case wire.TypeHeartbeat:
		// Server liveness pings need no rendering.
	}
}

// renderQuestion prints a question at most once even when the server resends
// it over the lossy transport.
func (c *client) renderQuestion(rb wire.RoundBegin) {
	c.mu.Lock()
	if rb.Question <= c.lastQuestion {
		c.mu.Unlock()
		return
	}
	c.lastQuestion = rb.Question
	c.mu.Unlock()

	fmt.Printf("\nQuestion %d/%d\n", rb.Question, rb.TotalQuestions)
	fmt.Println(rb.Prompt)
	for _, o := range rb.Options {
		fmt.Printf("  %s) %s\n", o.Label, o.Text)
	}
	fmt.Printf("Time limit: %ds. Answer with A-D: ", rb.WindowMillis/1000)
	fmt.Println()
}

func (c *client) renderResult(rr wire.RoundResult) {
	fmt.Printf("\nRound %d over. Correct answer: %s\n", rr.Question, rr.CorrectOption)

	c.mu.Lock()
	me := c.playerID
	c.mu.Unlock()

	for _, o := range rr.Outcomes {
		if o.PlayerID != me {
			continue
		}

		if o.Correct {
			fmt.Printf("Correct! You earned %d points (%.1fs).\n", o.Points, float64(o.ElapsedMillis)/1000)
		} else if o.Option != "" {
			fmt.Printf("Incorrect. You answered %s.\n", o.Option)
		} else {
			fmt.Println("You did not answer in time.")
		}
	}
}

func renderEntries(entries []wire.StandingEntry) {
	for _, e := range entries {
		fmt.Printf("  %d. %-20s %d points\n", e.Rank, e.Name, e.Score)
	}
}
