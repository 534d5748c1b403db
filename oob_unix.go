//go:build unix

package ftp

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// sendUrgent sends b as TCP urgent data.
func sendUrgent(conn *net.TCPConn, b byte) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return errors.Wrap(err, "ftp: urgent data")
	}
	var sendErr error
	err = raw.Write(func(fd uintptr) bool {
		sendErr = unix.Sendto(int(fd), []byte{b}, unix.MSG_OOB, nil)
		return sendErr != unix.EAGAIN
	})
	if err != nil {
		return errors.Wrap(err, "ftp: urgent data")
	}
	return errors.Wrap(sendErr, "ftp: urgent data")
}
