package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skypro1111/udp-quote-service/internal/catalog"
	"github.com/skypro1111/udp-quote-service/internal/client"
	"github.com/skypro1111/udp-quote-service/internal/config"
	"github.com/skypro1111/udp-quote-service/internal/logging"
)

func main() {
	var (
		timeout     time.Duration
		logLevel    string
		catalogPath string
	)

	rootCmd := &cobra.Command{
		Use:   "client <ipv4|ipv6> <server-ip> <port>",
		Short: "Request movie quotes from a quote server",
		Long: `Shows a menu of movies. Each choice sends one request to the server
and prints the quotes it streams back. Choose 0 to exit.`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(args, timeout, logLevel, catalogPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return c.Run(ctx, os.Stdin, os.Stdout)
		},
	}

	rootCmd.Flags().DurationVarP(&timeout, "timeout", "t", client.DefaultTimeout, "Time to wait for each quote")
	rootCmd.Flags().StringVar(&catalogPath, "catalog", "", "Catalog file matching the server's catalog.path (default: embedded catalog)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// newClient builds a client from the positional arguments and flags
func newClient(args []string, timeout time.Duration, logLevel, catalogPath string) (*client.Client, error) {
	port, err := strconv.Atoi(args[2])
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", args[2], err)
	}

	logCfg := config.LoggingConfig{
		Level:  logLevel,
		Format: "text",
		Output: "stderr",
	}
	if err := logCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}

	cat, err := loadCatalog(catalogPath)
	if err != nil {
		return nil, err
	}

	return client.New(client.Config{
		IPVersion:  args[0],
		ServerAddr: args[1],
		Port:       port,
		Timeout:    timeout,
	}, cat.Titles(), cat.FragmentsPerItem(), logging.New(logCfg))
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.Load(path)
}
