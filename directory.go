package ftp

import (
	"bufio"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// List returns the entries of a directory using LIST, parsed by the
// configured ListingParsers. An empty path lists the current directory.
//
// For machine-readable listings use MLList (requires MLSD support).
//
// Example:
//
//	entries, err := client.List("/pub")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, entry := range entries {
//	    fmt.Printf("%s: %d bytes (%s)\n", entry.Name, entry.Size, entry.Type)
//	}
func (c *Client) List(path string) ([]*Entry, error) {
	parser := &CompositeParser{Parsers: c.parsers, Log: c.log}
	var entries []*Entry
	err := c.listing("LIST", path, func(line string) error {
		if e := parser.Parse(line); e != nil {
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// NameList returns the names in a directory using NLST.
func (c *Client) NameList(path string) ([]string, error) {
	var names []string
	err := c.listing("NLST", path, func(line string) error {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// listing runs a listing command in ASCII mode and feeds each line of the
// data stream to fn.
func (c *Client) listing(cmd, path string, fn func(line string) error) error {
	req := transferRequest{typ: "A", cmd: cmd, path: path}
	if path != "" {
		req.args = []string{path}
	}
	_, err := c.transfer(req, func(g *transferGuard) error {
		return scanLines(g, fn)
	})
	return err
}

func scanLines(r io.Reader, fn func(line string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		if err := fn(strings.TrimRight(sc.Text(), "\r")); err != nil {
			return err
		}
	}
	return errors.Wrap(sc.Err(), "ftp: failed to read listing")
}

// WalkFunc is called by Walk for each file or directory. When listing a
// directory fails, it is called a second time for that directory with the
// error. Returning SkipDir skips the directory; any other error stops the
// walk.
type WalkFunc func(path string, info *Entry, err error) error

// SkipDir is used as a return value from WalkFunc to indicate that
// the directory named in the call is to be skipped.
var SkipDir = filepath.SkipDir

// Walk walks the tree rooted at root using LIST, calling walkFn for each
// entry including root. Entries are visited in the order the server lists
// them. Symbolic links are not followed.
func (c *Client) Walk(root string, walkFn WalkFunc) error {
	clean := path.Clean(root)
	var info *Entry
	if clean == "." || clean == "/" {
		info = &Entry{Name: clean, Type: "dir"}
	} else {
		parent := path.Dir(clean)
		if parent == "." {
			parent = ""
		}
		entries, err := c.List(parent)
		if err != nil {
			return walkFn(root, nil, err)
		}
		for _, e := range entries {
			if e.Name == path.Base(clean) {
				info = e
				break
			}
		}
		if info == nil {
			return walkFn(root, nil, os.ErrNotExist)
		}
	}

	err := c.walk(clean, info, walkFn)
	if err == SkipDir {
		return nil
	}
	return err
}

func (c *Client) walk(p string, info *Entry, walkFn WalkFunc) error {
	if err := walkFn(p, info, nil); err != nil {
		if err == SkipDir && info.Type == "dir" {
			return nil
		}
		return err
	}
	if info.Type != "dir" {
		return nil
	}

	entries, err := c.List(p)
	if err != nil {
		return walkFn(p, info, err)
	}
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		if err := c.walk(path.Join(p, e.Name), e, walkFn); err != nil {
			if err == SkipDir {
				// SkipDir from a file skips the rest of its directory.
				return nil
			}
			return err
		}
	}
	return nil
}

// ChangeDir changes the current working directory.
func (c *Client) ChangeDir(path string) error {
	_, err := c.cmd("CWD", path)
	return err
}

// ChangeDirToParent changes to the parent directory with CDUP.
func (c *Client) ChangeDirToParent() error {
	_, err := c.cmd("CDUP")
	return err
}

// Mount mounts a different file system structure with SMNT.
func (c *Client) Mount(path string) error {
	_, err := c.cmd("SMNT", path)
	return err
}

// CurrentDir returns the current working directory.
func (c *Client) CurrentDir() (string, error) {
	resp, err := c.cmd("PWD")
	if err != nil {
		return "", err
	}
	dir, ok := quotedPath(resp.Message)
	if !ok {
		return "", malformed("PWD", resp.String(), "no quoted path")
	}
	return dir, nil
}

// quotedPath extracts the path from a 257 reply, where embedded quotes are
// doubled: 257 "/a ""b""" is current directory.
func quotedPath(msg string) (string, bool) {
	start := strings.IndexByte(msg, '"')
	if start < 0 {
		return "", false
	}
	var sb strings.Builder
	for i := start + 1; i < len(msg); i++ {
		if msg[i] != '"' {
			sb.WriteByte(msg[i])
			continue
		}
		if i+1 < len(msg) && msg[i+1] == '"' {
			sb.WriteByte('"')
			i++
			continue
		}
		return sb.String(), true
	}
	return "", false
}

// MakeDir creates a new directory.
func (c *Client) MakeDir(path string) error {
	_, err := c.cmd("MKD", path)
	return err
}

// RemoveDir removes a directory.
func (c *Client) RemoveDir(path string) error {
	_, err := c.cmd("RMD", path)
	return err
}

// Delete deletes a file.
func (c *Client) Delete(path string) error {
	_, err := c.cmd("DELE", path)
	return err
}

// Rename renames a file or directory with RNFR and RNTO.
func (c *Client) Rename(from, to string) error {
	if err := checkArgs(from, to); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.exchange("RNFR", from)
	if err != nil {
		return err
	}
	if resp.Code != 350 {
		return &ProtocolError{Command: "RNFR", Code: resp.Code, Response: resp.String()}
	}
	_, err = c.exchange("RNTO", to)
	return err
}

// Size returns the size of a file in bytes.
func (c *Client) Size(path string) (int64, error) {
	resp, err := c.cmd("SIZE", path)
	if err != nil {
		return 0, err
	}
	size, perr := strconv.ParseInt(strings.TrimSpace(resp.Message), 10, 64)
	if perr != nil {
		return 0, malformed("SIZE", resp.String(), "not a number")
	}
	return size, nil
}

// ModTime returns the modification time of a file using the MDTM command.
// This implements RFC 3659 - Extensions to FTP.
func (c *Client) ModTime(path string) (time.Time, error) {
	resp, err := c.cmd("MDTM", path)
	if err != nil {
		return time.Time{}, err
	}
	t, perr := parseFactTime(strings.TrimSpace(resp.Message))
	if perr != nil {
		return time.Time{}, malformed("MDTM", resp.String(), perr.Error())
	}
	return t, nil
}

// Chmod changes the permissions of a file using the SITE CHMOD command.
//
// Example:
//
//	err := client.Chmod("script.sh", 0755)
func (c *Client) Chmod(path string, mode os.FileMode) error {
	_, err := c.cmd("SITE", "CHMOD", strconv.FormatUint(uint64(mode.Perm()), 8), path)
	return err
}
