// Package server accepts instrumentation agents over TCP, learns contracts
// from their call records and flushes new learnings to storage when a
// session ends.
package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/rcliao/callsig/internal/model"
	"github.com/rcliao/callsig/internal/packet"
	"github.com/rcliao/callsig/internal/registry"
	"github.com/rcliao/callsig/internal/store"
	"github.com/rcliao/callsig/internal/wire"
)

const maxLineSize = 1 << 20

// Options configures a Server.
type Options struct {
	// Addr is the TCP listen address for ListenAndServe.
	Addr string
	// MetricsAddr serves /metrics when non-empty.
	MetricsAddr string
	// ShutdownGrace is how long open sessions may keep sending after the
	// context is cancelled. Default 5s.
	ShutdownGrace time.Duration
	// MalformedLogEvery limits malformed-line warnings. Default one per second.
	MalformedLogEvery time.Duration
}

// Server is the ingestion server. known holds everything already stored;
// learned holds what this process learned since the last flush.
type Server struct {
	opts    Options
	store   store.Store
	logger  *slog.Logger
	known   *registry.Registry
	learned *registry.Registry

	// flushMu keeps store writes and the absorb into known in the same order.
	flushMu sync.Mutex
	limiter *rate.Limiter

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// New creates a server and loads every stored signature into known.
func New(ctx context.Context, opts Options, st store.Store, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 5 * time.Second
	}
	if opts.MalformedLogEvery <= 0 {
		opts.MalformedLogEvery = time.Second
	}
	s := &Server{
		opts:    opts,
		store:   st,
		logger:  logger,
		known:   registry.New(logger),
		learned: registry.New(logger),
		limiter: rate.NewLimiter(rate.Every(opts.MalformedLogEvery), 5),
		conns:   make(map[net.Conn]struct{}),
	}
	if err := s.loadBaseline(ctx); err != nil {
		return nil, fmt.Errorf("load baseline: %w", err)
	}
	return s, nil
}

// Known returns the registry of stored contracts.
func (s *Server) Known() *registry.Registry { return s.known }

// Learned returns the registry of unflushed learnings.
func (s *Server) Learned() *registry.Registry { return s.learned }

func (s *Server) loadBaseline(ctx context.Context) error {
	gems, err := s.store.RegisteredGems(ctx)
	if err != nil {
		return err
	}
	var entries []packet.Entry
	for _, g := range gems {
		classes, err := s.store.RegisteredClasses(ctx, g)
		if err != nil {
			return err
		}
		for _, c := range classes {
			methods, err := s.store.RegisteredMethods(ctx, c)
			if err != nil {
				return err
			}
			for _, m := range methods {
				sig, err := s.store.Signature(ctx, m)
				if err != nil {
					return err
				}
				if sig != nil {
					entries = append(entries, packet.Entry{Method: m, Contract: sig})
				}
			}
		}
	}
	s.known.Absorb(entries)
	s.logger.Info("baseline loaded", "methods", len(entries), "gems", len(gems))
	return nil
}

// ListenAndServe listens on Options.Addr, optionally serves metrics, and
// calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	s.logger.Info("listening", "addr", ln.Addr().String())

	g, ctx := errgroup.WithContext(ctx)
	if s.opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: s.opts.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			s.logger.Info("metrics listening", "addr", s.opts.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error { return s.Serve(ctx, ln) })
	return g.Wait()
}

// Serve accepts connections on ln until ctx is cancelled or ln is closed.
// Open sessions get Options.ShutdownGrace to finish; every session flushes
// on exit. Serve returns once all sessions are done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stopAccept := context.AfterFunc(ctx, func() {
		ln.Close()
		time.AfterFunc(s.opts.ShutdownGrace, s.expireConns)
	})
	defer stopAccept()

	var sessions errgroup.Group
	var err error
	for {
		conn, aerr := ln.Accept()
		if aerr != nil {
			if !errors.Is(aerr, net.ErrClosed) && ctx.Err() == nil {
				err = fmt.Errorf("accept: %w", aerr)
			}
			break
		}
		s.track(conn, true)
		sessions.Go(func() error {
			defer s.track(conn, false)
			s.handleConn(context.WithoutCancel(ctx), conn)
			return nil
		})
	}
	sessions.Wait()
	return err
}

func (s *Server) track(conn net.Conn, add bool) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// expireConns makes pending reads of every open session fail.
func (s *Server) expireConns() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for c := range s.conns {
		c.SetReadDeadline(time.Now())
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	log := s.logger.With("session", ulid.Make().String(), "remote", conn.RemoteAddr().String())
	log.Debug("session opened")
	activeConnections.Inc()
	defer activeConnections.Dec()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lines := 0
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if string(line) == wire.BreakLine {
			break
		}
		lines++
		s.handleLine(log, line)
	}
	if err := sc.Err(); err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			log.Warn("session cut at shutdown", "lines", lines)
		} else {
			log.Warn("read failed", "error", err)
		}
	}
	conn.Close()

	s.known.Reduce()
	if err := s.Flush(ctx); err != nil {
		log.Error("flush failed, learnings dropped", "error", err)
	}
	log.Debug("session closed", "lines", lines)
}

func (s *Server) handleLine(log *slog.Logger, line []byte) {
	rec, err := wire.Decode(line)
	if errors.Is(err, wire.ErrSkipped) {
		rejectedTotal.WithLabelValues("skipped").Inc()
		return
	}
	if err != nil {
		rejectedTotal.WithLabelValues("malformed").Inc()
		if s.limiter.Allow() {
			log.Warn("malformed record", "error", err)
		}
		return
	}
	s.Learn(rec)
}

// Learn feeds one record through the known/learned split.
func (s *Server) Learn(rec model.Record) {
	switch {
	case s.known.Accept(rec):
		recordsTotal.WithLabelValues("known").Inc()
	case s.learned.AddRecord(rec):
		recordsTotal.WithLabelValues("learned").Inc()
	default:
		recordsTotal.WithLabelValues("dropped").Inc()
	}
}

// write stores learnings as this node's own when the store separates them
// from imported data.
func (s *Server) write(ctx context.Context, p packet.Packet) error {
	if lm, ok := s.store.(store.LocalMerger); ok {
		return lm.MergeLocal(ctx, p)
	}
	return s.store.ReadPacket(ctx, p)
}

// Flush writes everything learned since the last flush to storage and moves
// it into known. On a storage error the batch is dropped and the error is
// returned.
func (s *Server) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	entries := s.learned.Drain()
	if len(entries) == 0 {
		return nil
	}
	start := time.Now()
	p, err := packet.Encode(entries)
	if err == nil {
		err = s.write(ctx, p)
	}
	flushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		flushErrorsTotal.Inc()
		return fmt.Errorf("flush %d methods: %w", len(entries), err)
	}
	s.known.Absorb(entries)
	flushesTotal.Inc()
	s.logger.Info("flushed", "methods", len(entries), "duration", time.Since(start))
	return nil
}
