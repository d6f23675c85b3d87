package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/skypro1111/udp-quote-service/internal/config"
	"github.com/skypro1111/udp-quote-service/internal/metrics"
	"github.com/skypro1111/udp-quote-service/internal/protocol"
	"github.com/skypro1111/udp-quote-service/internal/session"
	"github.com/skypro1111/udp-quote-service/internal/worker"
)

// SessionHandler streams one session. *session.Handler satisfies it.
type SessionHandler interface {
	Handle(ctx context.Context, conn session.PacketWriter, peer net.Addr, sel protocol.Selection) error
}

// UDPServer receives selections and dispatches one session per valid selection
type UDPServer struct {
	conn    *net.UDPConn
	config  *config.ServerConfig
	logger  *slog.Logger
	handler SessionHandler
	pool    *worker.Pool
	metrics *metrics.Metrics
	active  func() int64

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Basic counters
	datagramsReceived  uint64
	selectionsAccepted uint64
	parseErrors        uint64
	mu                 sync.RWMutex
}

// NewUDPServer creates a new UDP server instance. active reports the live session count
// for statistics and may be nil.
func NewUDPServer(cfg *config.ServerConfig, logger *slog.Logger, handler SessionHandler,
	pool *worker.Pool, m *metrics.Metrics, active func() int64) *UDPServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &UDPServer{
		config:  cfg,
		logger:  logger,
		handler: handler,
		pool:    pool,
		metrics: m,
		active:  active,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start binds the socket on the wildcard address and begins receiving
func (s *UDPServer) Start(ctx context.Context) error {
	network := s.config.Network()
	address := net.JoinHostPort("", strconv.Itoa(s.config.Port))

	lc := net.ListenConfig{Control: socketControl(s.config)}
	pc, err := lc.ListenPacket(ctx, network, address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s %s: %w", network, address, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return fmt.Errorf("unexpected packet connection type %T", pc)
	}
	s.conn = conn

	if s.config.SocketBufferSize > 0 {
		if err := s.conn.SetReadBuffer(s.config.SocketBufferSize); err != nil {
			s.logger.Warn("Failed to set UDP read buffer size",
				slog.Int("buffer_size", s.config.SocketBufferSize),
				slog.String("error", err.Error()),
			)
		}
	}

	s.pool.Start()

	s.logger.Info("UDP server started",
		slog.String("network", network),
		slog.String("address", s.conn.LocalAddr().String()),
		slog.Int("max_concurrent_sessions", s.config.MaxConcurrentSessions),
	)

	s.wg.Add(1)
	go s.receiveLoop()

	return nil
}

// Addr returns the bound local address, or nil before Start
func (s *UDPServer) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stop cancels running sessions, closes the socket and waits for the receive loop
func (s *UDPServer) Stop() error {
	s.logger.Info("Stopping UDP server...")

	s.cancel()

	// Cancel sessions before closing the socket they write to
	dropped := s.pool.Stop()

	var closeErr error
	if s.conn != nil {
		closeErr = s.conn.Close()
	}

	s.wg.Wait()

	stats := s.GetStatistics()
	s.logger.Info("UDP server stopped",
		slog.Uint64("datagrams_received", stats.DatagramsReceived),
		slog.Uint64("selections_accepted", stats.SelectionsAccepted),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Int("dropped_sessions", dropped),
	)

	if closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
		return fmt.Errorf("failed to close UDP socket: %w", closeErr)
	}
	return nil
}

// receiveLoop is the dispatcher: it reads each datagram in full and hands the decoded
// selection to the pool, then resumes reading without waiting for the session
func (s *UDPServer) receiveLoop() {
	defer s.wg.Done()

	buffer := make([]byte, s.config.ReadBufferSize)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("Receive loop stopping due to context cancellation")
			return
		default:
		}

		// Set read deadline to check for context cancellation periodically
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP datagram", slog.String("error", err.Error()))
				continue
			}
		}

		s.mu.Lock()
		s.datagramsReceived++
		s.mu.Unlock()
		s.metrics.RecordDatagramReceived()

		s.dispatch(buffer[:n], remoteAddr)
	}
}

// dispatch decodes a datagram and submits its session
func (s *UDPServer) dispatch(data []byte, peer *net.UDPAddr) {
	sel, err := protocol.ParseSelection(data)
	if err != nil {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()
		s.metrics.RecordParseError()

		s.logger.Warn("Dropping malformed selection",
			slog.String("remote_addr", peer.String()),
			slog.Int("datagram_size", len(data)),
			slog.String("error", err.Error()),
		)
		return
	}

	s.mu.Lock()
	s.selectionsAccepted++
	s.mu.Unlock()

	s.logger.Debug("Selection received",
		slog.String("remote_addr", peer.String()),
		slog.Uint64("item_id", uint64(sel.ItemID)),
	)

	conn := s.conn
	err = s.pool.Submit(func(ctx context.Context) {
		if err := s.handler.Handle(ctx, conn, peer, sel); err != nil {
			s.logger.Debug("Session finished with error",
				slog.String("remote_addr", peer.String()),
				slog.String("error", err.Error()),
			)
		}
	})
	if err != nil {
		s.logger.Warn("Session not scheduled",
			slog.String("remote_addr", peer.String()),
			slog.String("error", err.Error()),
		)
	}
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	stats := ServerStatistics{
		DatagramsReceived:  s.datagramsReceived,
		SelectionsAccepted: s.selectionsAccepted,
		ParseErrors:        s.parseErrors,
	}
	s.mu.RUnlock()

	if s.active != nil {
		stats.ActiveSessions = s.active()
	}

	poolStats := s.pool.Stats()
	stats.QueuedSessions = poolStats.Pending
	stats.BusyWorkers = poolStats.Busy
	stats.WorkerCapacity = poolStats.Workers

	return stats
}

// ServerStatistics represents server performance counters
type ServerStatistics struct {
	DatagramsReceived  uint64 `json:"datagrams_received"`
	SelectionsAccepted uint64 `json:"selections_accepted"`
	ParseErrors        uint64 `json:"parse_errors"`
	ActiveSessions     int64  `json:"active_sessions"`
	QueuedSessions     int    `json:"queued_sessions"`
	BusyWorkers        int    `json:"busy_workers"`
	WorkerCapacity     int    `json:"worker_capacity"`
}
