package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/skypro1111/udp-quote-service/internal/catalog"
	"github.com/skypro1111/udp-quote-service/internal/metrics"
	"github.com/skypro1111/udp-quote-service/internal/protocol"
)

const testPacing = 20 * time.Millisecond

// sentPacket is one datagram captured by recordingWriter
type sentPacket struct {
	data []byte
	addr string
	at   time.Time
}

// recordingWriter captures datagrams instead of sending them
type recordingWriter struct {
	mu      sync.Mutex
	packets []sentPacket
	failAt  int // fail the write with this 1-based index, 0 disables
	onWrite func()
}

func (w *recordingWriter) WriteTo(p []byte, addr net.Addr) (int, error) {
	w.mu.Lock()
	if w.failAt > 0 && len(w.packets)+1 == w.failAt {
		w.mu.Unlock()
		return 0, errors.New("network is unreachable")
	}
	w.packets = append(w.packets, sentPacket{
		data: append([]byte(nil), p...),
		addr: addr.String(),
		at:   time.Now(),
	})
	onWrite := w.onWrite
	w.mu.Unlock()

	if onWrite != nil {
		onWrite()
	}
	return len(p), nil
}

func (w *recordingWriter) sent() []sentPacket {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]sentPacket(nil), w.packets...)
}

func (w *recordingWriter) textsFor(addr string) []string {
	var texts []string
	for _, p := range w.sent() {
		if p.addr == addr {
			texts = append(texts, protocol.DecodeFragment(p.data))
		}
	}
	return texts
}

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func createTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()

	items := make([]catalog.Item, 3)
	for i := range items {
		fragments := make([]string, 5)
		for j := range fragments {
			fragments[j] = fmt.Sprintf("item %d fragment %d", i+1, j)
		}
		items[i] = catalog.Item{Title: fmt.Sprintf("Item %d", i+1), Fragments: fragments}
	}

	cat, err := catalog.New(5, items)
	if err != nil {
		t.Fatalf("Failed to build test catalog: %v", err)
	}
	return cat
}

func createTestHandler(t *testing.T) (*Handler, *Manager, *catalog.Catalog) {
	t.Helper()

	logger := createTestLogger()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	cat := createTestCatalog(t)
	mgr := NewManager(logger, m)
	h := NewHandler(cat, mgr, HandlerConfig{PacingInterval: testPacing}, logger, m)
	return h, mgr, cat
}

func peerAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func TestHandleStreamsFragmentsInOrder(t *testing.T) {
	h, mgr, cat := createTestHandler(t)
	w := &recordingWriter{}
	peer := peerAddr(40001)

	err := h.Handle(context.Background(), w, peer, protocol.Selection{ItemID: 2})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	expected, _ := cat.Fragments(2)
	packets := w.sent()
	if len(packets) != len(expected) {
		t.Fatalf("Expected %d fragments, got %d", len(expected), len(packets))
	}

	for i, p := range packets {
		if p.addr != peer.String() {
			t.Errorf("Fragment %d sent to %s, expected %s", i, p.addr, peer)
		}
		if p.data[len(p.data)-1] != 0x00 {
			t.Errorf("Fragment %d is not NUL-terminated", i)
		}
		if got := protocol.DecodeFragment(p.data); got != expected[i] {
			t.Errorf("Fragment %d = %q, expected %q", i, got, expected[i])
		}
		if i > 0 {
			if gap := p.at.Sub(packets[i-1].at); gap < testPacing {
				t.Errorf("Gap before fragment %d was %v, expected at least %v", i, gap, testPacing)
			}
		}
	}

	if mgr.Snapshot() != 0 {
		t.Errorf("Expected 0 active sessions after completion, got %d", mgr.Snapshot())
	}
	if mgr.TotalStarted() != 1 {
		t.Errorf("Expected 1 started session, got %d", mgr.TotalStarted())
	}
}

func TestHandleCounterDuringSession(t *testing.T) {
	h, mgr, _ := createTestHandler(t)

	var observed []int64
	var mu sync.Mutex
	w := &recordingWriter{onWrite: func() {
		mu.Lock()
		observed = append(observed, mgr.Snapshot())
		mu.Unlock()
	}}

	if err := h.Handle(context.Background(), w, peerAddr(40002), protocol.Selection{ItemID: 1}); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	for i, n := range observed {
		if n != 1 {
			t.Errorf("Expected counter 1 while sending fragment %d, got %d", i, n)
		}
	}
	if mgr.Snapshot() != 0 {
		t.Errorf("Expected counter 0 after session, got %d", mgr.Snapshot())
	}
}

func TestHandleRejectsUnknownItem(t *testing.T) {
	tests := []struct {
		name   string
		itemID uint32
	}{
		{name: "zero", itemID: 0},
		{name: "one past the end", itemID: 4},
		{name: "huge", itemID: 0xFFFFFFFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, mgr, _ := createTestHandler(t)
			w := &recordingWriter{}

			err := h.Handle(context.Background(), w, peerAddr(40003), protocol.Selection{ItemID: tt.itemID})
			if !errors.Is(err, catalog.ErrUnknownItem) {
				t.Fatalf("Expected ErrUnknownItem, got %v", err)
			}
			if !IsRejection(err) {
				t.Errorf("Expected IsRejection to be true for %v", err)
			}
			if n := len(w.sent()); n != 0 {
				t.Errorf("Expected no fragments, got %d", n)
			}
			if mgr.Snapshot() != 0 || mgr.TotalStarted() != 0 {
				t.Errorf("Rejected selection must not touch the counter (active=%d started=%d)",
					mgr.Snapshot(), mgr.TotalStarted())
			}
		})
	}
}

func TestHandleSendErrorEndsSession(t *testing.T) {
	h, mgr, _ := createTestHandler(t)
	w := &recordingWriter{failAt: 3}

	err := h.Handle(context.Background(), w, peerAddr(40004), protocol.Selection{ItemID: 3})
	if err == nil {
		t.Fatalf("Expected send error")
	}
	if IsRejection(err) {
		t.Errorf("Send failure should not be reported as a rejection")
	}
	if n := len(w.sent()); n != 2 {
		t.Errorf("Expected 2 fragments before the failure, got %d", n)
	}
	if mgr.Snapshot() != 0 {
		t.Errorf("Expected counter back to 0 after failure, got %d", mgr.Snapshot())
	}
	if len(mgr.GetAllSessions()) != 0 {
		t.Errorf("Expected failed session to be removed")
	}
}

func TestHandleCancellation(t *testing.T) {
	logger := createTestLogger()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	mgr := NewManager(logger, m)
	h := NewHandler(createTestCatalog(t), mgr, HandlerConfig{PacingInterval: time.Hour}, logger, m)

	ctx, cancel := context.WithCancel(context.Background())
	w := &recordingWriter{onWrite: cancel}

	start := time.Now()
	err := h.Handle(ctx, w, peerAddr(40005), protocol.Selection{ItemID: 1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("Cancellation did not interrupt the pacing wait")
	}
	if n := len(w.sent()); n != 1 {
		t.Errorf("Expected exactly 1 fragment before cancellation, got %d", n)
	}
	if mgr.Snapshot() != 0 {
		t.Errorf("Expected counter back to 0 after cancellation, got %d", mgr.Snapshot())
	}
}

func TestHandleConcurrentSessions(t *testing.T) {
	h, mgr, cat := createTestHandler(t)
	w := &recordingWriter{}

	const clients = 6
	var wg sync.WaitGroup
	var maxSeen int64
	var maxMu sync.Mutex

	stop := make(chan struct{})
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			n := mgr.Snapshot()
			maxMu.Lock()
			if n > maxSeen {
				maxSeen = n
			}
			maxMu.Unlock()
			if n < 0 || n > clients {
				t.Errorf("Counter out of range: %d", n)
			}
			time.Sleep(time.Millisecond)
		}
	}()

	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			itemID := uint32(i%3 + 1)
			if err := h.Handle(context.Background(), w, peerAddr(41000+i), protocol.Selection{ItemID: itemID}); err != nil {
				t.Errorf("Session %d failed: %v", i, err)
			}
		}(i)
	}

	wg.Wait()
	close(stop)
	<-monitorDone

	for i := 0; i < clients; i++ {
		expected, _ := cat.Fragments(uint32(i%3 + 1))
		got := w.textsFor(peerAddr(41000 + i).String())
		if len(got) != len(expected) {
			t.Fatalf("Client %d received %d fragments, expected %d", i, len(got), len(expected))
		}
		for j := range expected {
			if got[j] != expected[j] {
				t.Errorf("Client %d fragment %d = %q, expected %q", i, j, got[j], expected[j])
			}
		}
	}

	if mgr.Snapshot() != 0 {
		t.Errorf("Expected 0 active sessions, got %d", mgr.Snapshot())
	}

	maxMu.Lock()
	defer maxMu.Unlock()
	if maxSeen < 2 {
		t.Errorf("Expected sessions to overlap, max observed %d", maxSeen)
	}
}

func createTracedHandler(t *testing.T, pacing time.Duration) (*Handler, *tracetest.SpanRecorder) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	logger := createTestLogger()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	h := NewHandler(createTestCatalog(t), NewManager(logger, m), HandlerConfig{
		PacingInterval: pacing,
		TracerProvider: tp,
	}, logger, m)
	return h, recorder
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestHandleRecordsSessionSpan(t *testing.T) {
	tests := []struct {
		name          string
		pacing        time.Duration
		failAt        int
		cancelOnWrite bool
		expectSent    int64
		expectStatus  codes.Code
	}{
		{name: "completed", pacing: time.Millisecond, expectSent: 5, expectStatus: codes.Ok},
		{name: "send failure", pacing: time.Millisecond, failAt: 3, expectSent: 2, expectStatus: codes.Error},
		{name: "cancelled", pacing: time.Hour, cancelOnWrite: true, expectSent: 1, expectStatus: codes.Error},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, recorder := createTracedHandler(t, tt.pacing)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			w := &recordingWriter{failAt: tt.failAt}
			if tt.cancelOnWrite {
				w.onWrite = cancel
			}

			h.Handle(ctx, w, peerAddr(42000), protocol.Selection{ItemID: 2})

			spans := recorder.Ended()
			if len(spans) != 1 {
				t.Fatalf("Expected 1 ended span, got %d", len(spans))
			}
			span := spans[0]

			if span.Name() != "quote.session" {
				t.Errorf("Expected span quote.session, got %q", span.Name())
			}
			if v, ok := spanAttr(span, "quote.item_id"); !ok || v.AsInt64() != 2 {
				t.Errorf("Expected quote.item_id=2, got %v (present=%v)", v.AsInt64(), ok)
			}
			if v, ok := spanAttr(span, "quote.fragments_sent"); !ok || v.AsInt64() != tt.expectSent {
				t.Errorf("Expected quote.fragments_sent=%d, got %v (present=%v)", tt.expectSent, v.AsInt64(), ok)
			}
			if span.Status().Code != tt.expectStatus {
				t.Errorf("Expected status %v, got %v", tt.expectStatus, span.Status().Code)
			}
		})
	}
}

func TestHandleRejectionSpan(t *testing.T) {
	h, recorder := createTracedHandler(t, time.Millisecond)

	h.Handle(context.Background(), &recordingWriter{}, peerAddr(42001), protocol.Selection{ItemID: 9})

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 ended span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("Expected Error status for a rejected selection, got %v", spans[0].Status().Code)
	}
	if _, ok := spanAttr(spans[0], "quote.fragments_sent"); ok {
		t.Errorf("Rejected selection must not report fragments sent")
	}
}
