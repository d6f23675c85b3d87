package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/skypro1111/udp-quote-service/internal/protocol"
)

var testTitles = []string{"First", "Second", "Third"}

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// startResponder answers each selection with up to send fragments named after the item
func startResponder(t *testing.T, send int) (*net.UDPAddr, <-chan protocol.Selection) {
	t.Helper()

	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	selections := make(chan protocol.Selection, 16)
	go func() {
		buf := make([]byte, 64)
		for {
			n, peer, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			sel, err := protocol.ParseSelection(buf[:n])
			if err != nil {
				continue
			}
			selections <- sel

			for i := 0; i < send; i++ {
				data, _ := protocol.EncodeFragment(fmt.Sprintf("item %d line %d", sel.ItemID, i))
				conn.WriteTo(data, peer)
			}
		}
	}()

	return conn.LocalAddr().(*net.UDPAddr), selections
}

func createTestClient(t *testing.T, addr *net.UDPAddr, timeout time.Duration) *Client {
	t.Helper()

	c, err := New(Config{
		IPVersion:  "ipv4",
		ServerAddr: "127.0.0.1",
		Port:       addr.Port,
		Timeout:    timeout,
	}, testTitles, 5, createTestLogger())
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return c
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		titles      []string
		fragments   int
		expectError bool
	}{
		{
			name:      "valid ipv6",
			cfg:       Config{IPVersion: "ipv6", ServerAddr: "::1", Port: 5000},
			titles:    testTitles,
			fragments: 5,
		},
		{
			name:        "bad ip version",
			cfg:         Config{IPVersion: "ipx", ServerAddr: "127.0.0.1", Port: 5000},
			titles:      testTitles,
			fragments:   5,
			expectError: true,
		},
		{
			name:        "missing server",
			cfg:         Config{IPVersion: "ipv4", Port: 5000},
			titles:      testTitles,
			fragments:   5,
			expectError: true,
		},
		{
			name:        "port out of range",
			cfg:         Config{IPVersion: "ipv4", ServerAddr: "127.0.0.1", Port: 70000},
			titles:      testTitles,
			fragments:   5,
			expectError: true,
		},
		{
			name:        "empty menu",
			cfg:         Config{IPVersion: "ipv4", ServerAddr: "127.0.0.1", Port: 5000},
			fragments:   5,
			expectError: true,
		},
		{
			name:        "no fragments",
			cfg:         Config{IPVersion: "ipv4", ServerAddr: "127.0.0.1", Port: 5000},
			titles:      testTitles,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg, tt.titles, tt.fragments, createTestLogger())
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if c.cfg.Timeout != DefaultTimeout {
				t.Errorf("Expected default timeout %v, got %v", DefaultTimeout, c.cfg.Timeout)
			}
		})
	}
}

func TestFetchReceivesAllFragments(t *testing.T) {
	addr, selections := startResponder(t, 5)
	c := createTestClient(t, addr, time.Second)

	fragments, err := c.Fetch(context.Background(), 2)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if len(fragments) != 5 {
		t.Fatalf("Expected 5 fragments, got %d", len(fragments))
	}
	for i, f := range fragments {
		if want := fmt.Sprintf("item 2 line %d", i); f != want {
			t.Errorf("Fragment %d: expected %q, got %q", i, want, f)
		}
	}

	sel := <-selections
	if sel.ItemID != 2 || sel.Cursor != 0 {
		t.Errorf("Unexpected selection sent: %+v", sel)
	}
}

func TestFetchTimesOut(t *testing.T) {
	addr, _ := startResponder(t, 2)
	c := createTestClient(t, addr, 100*time.Millisecond)

	fragments, err := c.Fetch(context.Background(), 1)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if len(fragments) != 2 {
		t.Errorf("Expected the 2 fragments received before the timeout, got %d", len(fragments))
	}
	if !strings.Contains(err.Error(), "3 of 5") {
		t.Errorf("Expected error to name the missing fragment, got %q", err.Error())
	}
}

func TestFetchHonorsCancellation(t *testing.T) {
	addr, _ := startResponder(t, 0)
	c := createTestClient(t, addr, 10*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Fetch(ctx, 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected context deadline error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Fetch did not return promptly after cancellation: %v", elapsed)
	}
}

func TestRunMenu(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expectError error
		contains    []string
	}{
		{
			name:     "select then exit",
			input:    "3\n0\n",
			contains: []string{"0 - Exit", "1 - First", "3 - Third", "item 3 line 0", "item 3 line 4"},
		},
		{
			name:     "out of range re-prompts",
			input:    "7\n-1\n0\n",
			contains: []string{"Invalid option: 7", "Invalid option: -1"},
		},
		{
			name:        "non numeric input",
			input:       "abc\n",
			expectError: ErrInvalidInput,
		},
		{
			name:        "closed input",
			input:       "",
			expectError: ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, _ := startResponder(t, 5)
			c := createTestClient(t, addr, time.Second)

			var out bytes.Buffer
			err := c.Run(context.Background(), strings.NewReader(tt.input), &out)

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Fatalf("Expected %v, got %v", tt.expectError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			for _, want := range tt.contains {
				if !strings.Contains(out.String(), want) {
					t.Errorf("Expected output to contain %q, got:\n%s", want, out.String())
				}
			}
		})
	}
}

func TestRunContinuesAfterTimeout(t *testing.T) {
	addr, selections := startResponder(t, 1)
	c := createTestClient(t, addr, 100*time.Millisecond)

	var out bytes.Buffer
	if err := c.Run(context.Background(), strings.NewReader("1\n2\n0\n"), &out); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := strings.Count(out.String(), "Request failed"); got != 2 {
		t.Errorf("Expected 2 reported failures, got %d:\n%s", got, out.String())
	}
	if len(selections) != 2 {
		t.Errorf("Expected 2 selections sent, got %d", len(selections))
	}
}
