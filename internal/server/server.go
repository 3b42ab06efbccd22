package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/quizcast/quizcast/internal/clock"
	"github.com/quizcast/quizcast/internal/event"
	"github.com/quizcast/quizcast/internal/leaderboard"
	"github.com/quizcast/quizcast/internal/question"
	"github.com/quizcast/quizcast/internal/registry"
	"github.com/quizcast/quizcast/internal/score"
	"github.com/quizcast/quizcast/internal/session"
	"github.com/quizcast/quizcast/internal/telemetry"
	"github.com/quizcast/quizcast/internal/transport"
	"github.com/quizcast/quizcast/internal/wire"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Transport struct {
		UDP struct {
			Port int

			// LivenessTimeout is the silence window after which a datagram
			// player is presumed gone.
			LivenessTimeout time.Duration

			// RebroadcastEvery is how often the open question is resent to
			// datagram players, in case the original announcement was lost.
			RebroadcastEvery time.Duration

			HeartbeatEvery time.Duration
		}

		TCP struct {
			Port int
		}
	}

	Quiz struct {
		BankPath     string
		AnswerWindow time.Duration
		ResultHold   time.Duration
		MinPoints    int
		MaxPoints    int
	}

	Redis struct {
		// Addrs left empty runs an embedded in-process store instead, for
		// single-node and development deployments.
		Addrs  []string
		Pass   string
		Prefix string
	}
}

func (c *Config) applyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.Transport.UDP.Port == 0 {
		c.Transport.UDP.Port = 8888
	}
	if c.Transport.UDP.LivenessTimeout <= 0 {
		c.Transport.UDP.LivenessTimeout = 30 * time.Second
	}
	if c.Transport.UDP.RebroadcastEvery <= 0 {
		c.Transport.UDP.RebroadcastEvery = 2 * time.Second
	}
	if c.Transport.UDP.HeartbeatEvery <= 0 {
		c.Transport.UDP.HeartbeatEvery = 2 * time.Second
	}
	if c.Transport.TCP.Port == 0 {
		c.Transport.TCP.Port = 8889
	}
	if c.Quiz.BankPath == "" {
		c.Quiz.BankPath = "questions.txt"
	}
}

type Server struct {
	c Config

	eb      *event.Bus
	metrics *telemetry.Metrics

	infra struct {
		redis redis.UniversalClient
		mini  *miniredis.Miniredis
	}

	transports struct {
		udp *transport.UDP
		tcp *transport.TCP
	}

	service struct {
		registry    *registry.Service
		score       *score.Service
		leaderboard *leaderboard.Service
		session     *session.Service
	}

	bank    *question.Bank
	gateway *gateway
	http    *http.Server

	cancel context.CancelFunc
}

func Init(c Config) (*Server, error) {
	c.applyDefaults()
	s := &Server{c: c}

	s.eb = event.NewBus()
	s.metrics = telemetry.NewMetrics(prometheus.DefaultRegisterer)
	s.metrics.Observe(s.eb)

	// A partial question bank is never served, so this fails before any
	// socket is bound.
	var err error
	s.bank, err = question.Load(c.Quiz.BankPath)
	if err != nil {
		return nil, fmt.Errorf("server: load question bank: %w", err)
	}

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initHTTP()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	var err error
	s.transports.udp, err = transport.NewUDP(s.c.Transport.UDP.Port)
	if err != nil {
		return fmt.Errorf("udp: %w", err)
	}

	s.transports.tcp, err = transport.NewTCP(s.c.Transport.TCP.Port)
	if err != nil {
		return fmt.Errorf("tcp: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	addrs := s.c.Redis.Addrs
	if len(addrs) == 0 {
		m, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("embedded store: %w", err)
		}

		slog.Info("server: no redis configured, using embedded store", "addr", m.Addr())
		s.infra.mini = m
		addrs = []string{m.Addr()}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    addrs,
		Password: s.c.Redis.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initService() {
	s.service.registry = registry.NewService(registry.Config{
		LivenessTimeout: s.c.Transport.UDP.LivenessTimeout,
	})

	s.gateway = newGateway(s.service.registry, clock.System(), s.transports.udp, s.transports.tcp)

	s.service.score = score.NewService(score.Config{
		EventBus:  s.eb,
		MinPoints: s.c.Quiz.MinPoints,
		MaxPoints: s.c.Quiz.MaxPoints,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		Redis:  s.infra.redis,
		Prefix: s.c.Redis.Prefix,
	})

	s.service.session = session.NewService(session.Config{
		Bank:         s.bank,
		Registry:     s.service.registry,
		Score:        s.service.score,
		Leaderboard:  s.service.leaderboard,
		EventBus:     s.eb,
		Sender:       s.gateway,
		AnswerWindow: s.c.Quiz.AnswerWindow,
		ResultHold:   s.c.Quiz.ResultHold,
	})
}

func (s *Server) initHTTP() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	e.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	e.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.service.session.Snapshot())
	})
	e.POST("/admin/reset", func(c *gin.Context) {
		s.service.session.Reset(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	var eg errgroup.Group

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: datagram transport listening on %s", s.transports.udp.Addr()))
		return s.transports.udp.Run(ctx, &handler{
			transport: s.transports.udp.Name(),
			lossy:     true,
			session:   s.service.session,
			registry:  s.service.registry,
			gateway:   s.gateway,
			metrics:   s.metrics,
		})
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: stream transport listening on %s", s.transports.tcp.Addr()))
		return s.transports.tcp.Run(ctx, &handler{
			transport: s.transports.tcp.Name(),
			lossy:     false,
			session:   s.service.session,
			registry:  s.service.registry,
			gateway:   s.gateway,
			metrics:   s.metrics,
		})
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error { return s.sweepLoop(ctx) })
	eg.Go(func() error { return s.rebroadcastLoop(ctx) })
	eg.Go(func() error { return s.heartbeatLoop(ctx) })

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

// sweepLoop demotes silent datagram players and keeps the active-player
// gauge current.
func (s *Server) sweepLoop(ctx context.Context) error {
	t := time.NewTicker(time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.service.session.SweepIdle(ctx)
			s.metrics.SetActivePlayers(s.service.registry.ActiveCount())
		}
	}
}

// rebroadcastLoop resends the open question to datagram players, so a lost
// round announcement does not freeze a client out of the round.
func (s *Server) rebroadcastLoop(ctx context.Context) error {
	t := time.NewTicker(s.c.Transport.UDP.RebroadcastEvery)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if rb, ok := s.service.session.CurrentRoundBegin(); ok {
				s.gateway.broadcastLossy(ctx, wire.TypeRoundBegin, rb)
			}
		}
	}
}

func (s *Server) heartbeatLoop(ctx context.Context) error {
	t := time.NewTicker(s.c.Transport.UDP.HeartbeatEvery)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.gateway.broadcastLossy(ctx, wire.TypeHeartbeat, nil)
		}
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.cancel != nil {
		s.cancel()
	}

	if err := s.transports.udp.Close(); err != nil && !stderrors.Is(err, net.ErrClosed) {
		slog.ErrorContext(ctx, "server: close datagram transport failed", "error", err)
	}
	if err := s.transports.tcp.Close(); err != nil && !stderrors.Is(err, net.ErrClosed) {
		slog.ErrorContext(ctx, "server: close stream transport failed", "error", err)
	}

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	if err := s.infra.redis.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close redis failed", "error", err)
	}
	if s.infra.mini != nil {
		s.infra.mini.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
