package server

import (
	"net"
	"os"
	"path/filepath"
	"runtime"

	"pkgkeeper/internal/logger"
)

type ListenAddr struct {
	Network string
	Address string
}

/**
 * Test if the system supports Unix socket network type
 * @returns {bool} Returns true if Unix socket is supported, false otherwise
 * @description
 * - Always true outside Windows
 * - On Windows a temporary socket is created and removed again
 */
func IsUnixSocketSupported() bool {
	if runtime.GOOS != "windows" {
		return true
	}
	probe := filepath.Join(os.TempDir(), "pkgkeeper_probe.sock")
	os.Remove(probe)

	l, err := net.Listen("unix", probe)
	if err != nil {
		return false
	}
	l.Close()
	os.Remove(probe)
	return true
}

/**
 * Create TCP and Unix socket listeners
 * @param {[]ListenAddr} addrs - Addresses to listen on
 * @returns {([]net.Listener, error)} Created listeners and the last creation error
 * @description
 * - Stale unix socket files are removed before listening
 * - Failing addresses are logged and skipped
 */
func CreateListeners(addrs []ListenAddr) ([]net.Listener, error) {
	var listeners []net.Listener
	var lastErr error
	for _, addr := range addrs {
		if addr.Network == "unix" {
			// 删除上次运行遗留的socket文件
			if err := os.Remove(addr.Address); err != nil && !os.IsNotExist(err) {
				logger.Errorf("Failed to remove existing socket file: %v", err)
				lastErr = err
				continue
			}
		}
		l, err := net.Listen(addr.Network, addr.Address)
		if err != nil {
			logger.Errorf("Failed to create listener on %s://%s: %v", addr.Network, addr.Address, err)
			lastErr = err
			continue
		}
		listeners = append(listeners, l)
	}
	return listeners, lastErr
}
