//go:build !unix

package ftp

import (
	"net"

	"github.com/pkg/errors"
)

func sendUrgent(conn *net.TCPConn, b byte) error {
	return errors.New("ftp: urgent data not supported on this platform")
}
