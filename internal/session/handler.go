package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/skypro1111/udp-quote-service/internal/catalog"
	"github.com/skypro1111/udp-quote-service/internal/metrics"
	"github.com/skypro1111/udp-quote-service/internal/protocol"
)

// TracerName is the OpenTelemetry instrumentation name used for session spans
const TracerName = "github.com/skypro1111/udp-quote-service/internal/session"

// Catalog is the read-only lookup a Handler streams from
type Catalog interface {
	Fragments(itemID uint32) ([]string, error)
}

// PacketWriter sends a datagram to an address. *net.UDPConn satisfies it.
type PacketWriter interface {
	WriteTo(p []byte, addr net.Addr) (int, error)
}

// HandlerConfig holds the streaming parameters
type HandlerConfig struct {
	PacingInterval time.Duration

	// TracerProvider supplies the session tracer. Nil uses the global provider.
	TracerProvider trace.TracerProvider
}

// Handler streams a catalog item's fragments to one peer per call
type Handler struct {
	catalog Catalog
	manager *Manager
	config  HandlerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// NewHandler creates a session handler
func NewHandler(cat Catalog, manager *Manager, cfg HandlerConfig, logger *slog.Logger, m *metrics.Metrics) *Handler {
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Handler{
		catalog: cat,
		manager: manager,
		config:  cfg,
		logger:  logger,
		metrics: m,
		tracer:  tp.Tracer(TracerName),
	}
}

// Handle runs one session: it validates the selection, then sends every fragment of the
// selected item to peer in order, waiting the pacing interval between consecutive sends.
// An unknown item is rejected before the session starts; nothing is sent and the counter
// is untouched. Once started, the session is always ended, including on send errors and
// context cancellation.
//
// No wait follows the last fragment, so a session stops being counted as soon as its final
// send returns. Pausing after the final send as well would keep a finished client counted for
// one more interval; skipping that pause is deliberate.
func (h *Handler) Handle(ctx context.Context, conn PacketWriter, peer net.Addr, sel protocol.Selection) (err error) {
	ctx, span := h.tracer.Start(ctx, "quote.session",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("net.peer.addr", peer.String()),
			attribute.Int64("quote.item_id", int64(sel.ItemID)),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	if sel.Cursor != 0 {
		h.logger.Debug("Ignoring reserved cursor field",
			slog.String("peer", peer.String()),
			slog.Uint64("cursor", uint64(sel.Cursor)),
		)
	}

	fragments, err := h.catalog.Fragments(sel.ItemID)
	if err != nil {
		h.metrics.RecordRejected(metrics.ReasonUnknownItem)
		h.logger.Warn("Rejected selection",
			slog.String("peer", peer.String()),
			slog.Uint64("item_id", uint64(sel.ItemID)),
			slog.String("error", err.Error()),
		)
		return err
	}

	session := h.manager.Begin(peer.String(), sel.ItemID)
	span.SetAttributes(attribute.Int64("quote.session_id", int64(session.ID)))

	completed := false
	defer func() {
		span.SetAttributes(attribute.Int("quote.fragments_sent", session.NextFragment()))
		h.manager.End(session, completed)
	}()

	for i, fragment := range fragments {
		if i > 0 {
			if err := h.pace(ctx); err != nil {
				h.logger.Info("Session cancelled",
					slog.Uint64("session_id", session.ID),
					slog.Int("next_fragment", i),
				)
				return err
			}
		}

		if err := h.send(conn, peer, fragment); err != nil {
			h.metrics.RecordSendError()
			h.logger.Error("Failed to send fragment",
				slog.Uint64("session_id", session.ID),
				slog.String("peer", peer.String()),
				slog.Int("fragment_index", i),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("send fragment %d: %w", i, err)
		}

		session.advance()
		h.metrics.RecordFragmentSent()

		h.logger.Debug("Fragment sent",
			slog.Uint64("session_id", session.ID),
			slog.Int("fragment_index", i),
			slog.Int("fragment_size", len(fragment)),
		)
	}

	completed = true
	return nil
}

func (h *Handler) send(conn PacketWriter, peer net.Addr, fragment string) error {
	data, err := protocol.EncodeFragment(fragment)
	if err != nil {
		return err
	}

	n, err := conn.WriteTo(data, peer)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(data))
	}
	return nil
}

// pace waits the pacing interval or until ctx is done
func (h *Handler) pace(ctx context.Context) error {
	if h.config.PacingInterval <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(h.config.PacingInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsRejection reports whether err means the selection was refused before a session started
func IsRejection(err error) bool {
	return errors.Is(err, catalog.ErrUnknownItem)
}
