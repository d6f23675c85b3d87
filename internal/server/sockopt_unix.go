//go:build unix

package server

import (
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/skypro1111/udp-quote-service/internal/config"
)

// socketControl applies socket options before bind
func socketControl(cfg *config.ServerConfig) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			if cfg.ReuseAddress {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if sockErr != nil {
					return
				}
			}
			if network == "udp6" {
				sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1)
			}
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
