package utils

import (
	"net"
	"time"
)

// AddressInUse reports whether something already accepts TCP connections on address.
func AddressInUse(address string) bool {
	conn, err := net.DialTimeout("tcp", address, time.Second)
	if err != nil {
		// 连接失败，说明端口可用
		return false
	}
	conn.Close()
	return true
}
