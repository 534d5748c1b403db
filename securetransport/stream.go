package securetransport

import (
	"io"
)

// WaitFunc blocks until the transport is ready for want.
type WaitFunc func(want Want) error

type stream struct {
	conn *Conn
	wait WaitFunc
}

// NewStream adapts c to io.ReadWriter. Pending results are resolved by
// calling wait and retrying; with a nil wait they surface as ErrWouldBlock.
// An orderly close by the peer reads as io.EOF.
func NewStream(c *Conn, wait WaitFunc) io.ReadWriter {
	return &stream{conn: c, wait: wait}
}

func (s *stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, want, err := s.conn.Recv(p)
		if err != nil {
			return n, err
		}
		if want == WantNone {
			if n == 0 {
				return 0, io.EOF
			}
			return n, nil
		}
		if err := s.block(want); err != nil {
			return 0, err
		}
	}
}

func (s *stream) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, want, err := s.conn.Send(p[written:])
		if err != nil {
			return written, err
		}
		if want != WantNone {
			if err := s.block(want); err != nil {
				return written, err
			}
			continue
		}
		written += n
	}
	return written, nil
}

func (s *stream) block(want Want) error {
	if s.wait == nil {
		return ErrWouldBlock
	}
	return s.wait(want)
}
