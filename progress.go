package ftp

import "io"

// ProgressFunc receives the running byte count of a transfer. path is the
// remote path the transfer names, empty for listings without a path and
// for STOU.
type ProgressFunc func(path string, transferred int64)

// WithProgress reports the progress of every data transfer to fn. fn runs
// on the transferring goroutine with the client locked, so it must not call
// back into the client.
func WithProgress(fn ProgressFunc) Option {
	return func(c *Client) error {
		c.progress = fn
		return nil
	}
}

// ProgressReader counts the bytes read through it.
type ProgressReader struct {
	Reader io.Reader

	// Callback, if set, gets the running total after every read that
	// returned data.
	Callback func(total int64)

	total int64
}

func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.total += int64(n)
		if pr.Callback != nil {
			pr.Callback(pr.total)
		}
	}
	return n, err
}

// Total returns the number of bytes read so far.
func (pr *ProgressReader) Total() int64 { return pr.total }

// ProgressWriter counts the bytes written through it.
type ProgressWriter struct {
	Writer   io.Writer
	Callback func(total int64)

	total int64
}

func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	if n > 0 {
		pw.total += int64(n)
		if pw.Callback != nil {
			pw.Callback(pw.total)
		}
	}
	return n, err
}

// Total returns the number of bytes written so far.
func (pw *ProgressWriter) Total() int64 { return pw.total }
