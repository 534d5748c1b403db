package ftp

import (
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// transfer runs fn against the data channel of one transfer. The transfer
// is completed when fn succeeds and aborted otherwise.
func (c *Client) transfer(req transferRequest, fn func(g *transferGuard) error) (*transferGuard, error) {
	g, err := c.openTransfer(req)
	if err != nil {
		return nil, err
	}
	defer g.Close()

	if err := fn(g); err != nil {
		return g, err
	}
	return g, g.complete()
}

// RetrieveFunc downloads path in binary mode and hands the data stream to
// fn. If fn returns an error the transfer is aborted and the control
// connection stays usable.
//
// Example:
//
//	err := client.RetrieveFunc("data.csv", func(r io.Reader) error {
//	    return csv.NewReader(r).ReadAll()
//	})
func (c *Client) RetrieveFunc(path string, fn func(r io.Reader) error) error {
	return c.retrieve(path, 0, fn)
}

func (c *Client) retrieve(path string, offset int64, fn func(r io.Reader) error) error {
	_, err := c.transfer(transferRequest{typ: "I", offset: offset, cmd: "RETR", args: []string{path}, path: path},
		func(g *transferGuard) error { return fn(g) })
	return err
}

// Retrieve downloads data from the remote path to an io.Writer.
// The transfer is performed in binary mode (TYPE I).
//
// Example:
//
//	file, err := os.Create("local.txt")
//	if err != nil {
//	    return err
//	}
//	defer file.Close()
//
//	err = client.Retrieve("remote.txt", file)
func (c *Client) Retrieve(path string, w io.Writer) error {
	return c.RetrieveFunc(path, func(r io.Reader) error {
		_, err := io.Copy(w, r)
		return errors.Wrap(err, "ftp: download failed")
	})
}

// RetrieveFrom downloads a file starting from the specified byte offset,
// sending REST right before RETR.
//
// Example:
//
//	file, _ := os.OpenFile("large.bin", os.O_WRONLY|os.O_APPEND, 0644)
//	info, _ := file.Stat()
//	err = client.RetrieveFrom("large.bin", file, info.Size())
func (c *Client) RetrieveFrom(path string, w io.Writer, offset int64) error {
	if offset < 0 {
		return errors.Wrapf(ErrInvalidArgument, "negative offset %d", offset)
	}
	return c.retrieve(path, offset, func(r io.Reader) error {
		_, err := io.Copy(w, r)
		return errors.Wrap(err, "ftp: download failed")
	})
}

// StoreFunc uploads to path in binary mode, letting fn write the content.
// If fn returns an error the transfer is aborted.
func (c *Client) StoreFunc(path string, fn func(w io.Writer) error) error {
	_, err := c.transfer(transferRequest{typ: "I", cmd: "STOR", args: []string{path}, path: path},
		func(g *transferGuard) error { return fn(g) })
	return err
}

// Store uploads data from an io.Reader to the remote path.
// The transfer is performed in binary mode (TYPE I).
//
// Example:
//
//	file, err := os.Open("local.txt")
//	if err != nil {
//	    return err
//	}
//	defer file.Close()
//
//	err = client.Store("remote.txt", file)
func (c *Client) Store(path string, r io.Reader) error {
	return c.StoreFunc(path, copyFrom(r))
}

// Append appends data from an io.Reader to the remote path.
// If the file doesn't exist, it will be created.
func (c *Client) Append(path string, r io.Reader) error {
	_, err := c.transfer(transferRequest{typ: "I", cmd: "APPE", args: []string{path}, path: path},
		func(g *transferGuard) error { return copyFrom(r)(g) })
	return err
}

// StoreUnique uploads r with STOU and returns the name the server chose.
func (c *Client) StoreUnique(r io.Reader) (string, error) {
	g, err := c.transfer(transferRequest{typ: "I", cmd: "STOU"},
		func(g *transferGuard) error { return copyFrom(r)(g) })
	if err != nil {
		return "", err
	}
	for _, resp := range []*Response{g.first, g.final} {
		if name := uniqueName(resp); name != "" {
			return name, nil
		}
	}
	return "", malformed("STOU", g.final.String(), "no file name in reply")
}

// uniqueName finds the file name in a STOU reply. RFC 1123 servers answer
// "150 FILE: name"; others mention the name after a colon or in quotes.
func uniqueName(resp *Response) string {
	if resp == nil {
		return ""
	}
	msg := resp.Message
	if i := strings.Index(strings.ToUpper(msg), "FILE:"); i >= 0 {
		name, _, _ := strings.Cut(strings.TrimSpace(msg[i+5:]), " ")
		return strings.TrimRight(name, ")")
	}
	if start := strings.IndexByte(msg, '"'); start >= 0 {
		if end := strings.IndexByte(msg[start+1:], '"'); end > 0 {
			return msg[start+1 : start+1+end]
		}
	}
	return ""
}

func copyFrom(r io.Reader) func(w io.Writer) error {
	return func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return errors.Wrap(err, "ftp: upload failed")
	}
}

// RestartAt sends REST on its own. Transfers started afterwards negotiate
// a data channel first, which some servers treat as cancelling the marker;
// RetrieveFrom sends REST right before RETR instead.
func (c *Client) RestartAt(offset int64) error {
	if offset < 0 {
		return errors.Wrapf(ErrInvalidArgument, "negative offset %d", offset)
	}
	_, err := c.expectCode(350, "REST", strconv.FormatInt(offset, 10))
	return err
}

// Allocate reserves size bytes on the server with ALLO. Servers that need
// no allocation answer 202, which is not an error.
func (c *Client) Allocate(size int64) error {
	if size < 0 {
		return errors.Wrapf(ErrInvalidArgument, "negative size %d", size)
	}
	_, err := c.cmd("ALLO", strconv.FormatInt(size, 10))
	return err
}
