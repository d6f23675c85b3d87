package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/skypro1111/udp-quote-service/internal/config"
	"github.com/skypro1111/udp-quote-service/internal/protocol"
)

// DefaultTimeout bounds the wait for each fragment
const DefaultTimeout = 30 * time.Second

var (
	// ErrInvalidInput is returned when the menu input is not a number or is closed
	ErrInvalidInput = errors.New("invalid menu input")

	// ErrTimeout is returned when a fragment does not arrive within the configured timeout
	ErrTimeout = errors.New("timed out waiting for fragment")
)

// Config holds client connection settings
type Config struct {
	IPVersion  string
	ServerAddr string
	Port       int
	Timeout    time.Duration
}

// Validate checks the client configuration
func (c *Config) Validate() error {
	if err := config.ValidateIPVersion(c.IPVersion); err != nil {
		return err
	}
	if c.ServerAddr == "" {
		return fmt.Errorf("server address is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}

// network returns the dial network for the configured IP version
func (c *Config) network() string {
	if c.IPVersion == config.IPv6 {
		return "udp6"
	}
	return "udp4"
}

// Client requests catalog items from a quote server
type Client struct {
	cfg       Config
	titles    []string
	fragments int
	logger    *slog.Logger
}

// New creates a client offering the given menu titles
func New(cfg Config, titles []string, fragmentsPerItem int, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client configuration: %w", err)
	}
	if len(titles) == 0 {
		return nil, fmt.Errorf("menu must offer at least one item")
	}
	if fragmentsPerItem <= 0 {
		return nil, fmt.Errorf("fragments per item must be positive")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		cfg:       cfg,
		titles:    append([]string(nil), titles...),
		fragments: fragmentsPerItem,
		logger:    logger,
	}, nil
}

// Fetch requests one item and returns its fragments in arrival order.
// On error the fragments received so far are returned alongside it.
func (c *Client) Fetch(ctx context.Context, itemID uint32) ([]string, error) {
	addr := net.JoinHostPort(c.cfg.ServerAddr, strconv.Itoa(c.cfg.Port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, c.cfg.network(), addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	defer conn.Close()

	// Unblock a pending read when the caller gives up
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	sel := protocol.Selection{ItemID: itemID}
	if _, err := conn.Write(sel.Encode()); err != nil {
		return nil, fmt.Errorf("failed to send selection: %w", err)
	}

	c.logger.Debug("Selection sent",
		slog.String("server", addr),
		slog.String("selection", sel.String()),
	)

	buf := make([]byte, protocol.MaxFragmentSize)
	fragments := make([]string, 0, c.fragments)
	for len(fragments) < c.fragments {
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.Timeout)); err != nil {
			return fragments, fmt.Errorf("failed to set read deadline: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return fragments, err
		}

		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return fragments, ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return fragments, fmt.Errorf("%w %d of %d", ErrTimeout, len(fragments)+1, c.fragments)
			}
			return fragments, fmt.Errorf("failed to receive fragment: %w", err)
		}

		fragments = append(fragments, protocol.DecodeFragment(buf[:n]))
	}

	return fragments, nil
}

// Run drives the menu loop until the user exits or the input becomes unusable
func (c *Client) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Split(bufio.ScanWords)

	for {
		c.printMenu(out)

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidInput, err)
			}
			return fmt.Errorf("%w: input closed", ErrInvalidInput)
		}

		choice, err := strconv.Atoi(scanner.Text())
		if err != nil {
			return fmt.Errorf("%w: %q is not a number", ErrInvalidInput, scanner.Text())
		}

		if choice == 0 {
			return nil
		}
		if choice < 0 || choice > len(c.titles) {
			fmt.Fprintf(out, "Invalid option: %d\n", choice)
			continue
		}

		fragments, err := c.Fetch(ctx, uint32(choice))
		for _, f := range fragments {
			fmt.Fprintln(out, f)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("Request failed",
				slog.Int("item_id", choice),
				slog.Int("received", len(fragments)),
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(out, "Request failed: %v\n", err)
		}
	}
}

func (c *Client) printMenu(out io.Writer) {
	fmt.Fprintln(out, "0 - Exit")
	for i, title := range c.titles {
		fmt.Fprintf(out, "%d - %s\n", i+1, title)
	}
}
