//go:build !unix

package server

import (
	"syscall"

	"github.com/skypro1111/udp-quote-service/internal/config"
)

// socketControl leaves socket options at their platform defaults
func socketControl(cfg *config.ServerConfig) func(network, address string, c syscall.RawConn) error {
	return nil
}
