package ftp

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// MLEntry is a machine-readable entry from MLST or MLSD (RFC 3659).
// Facts the server did not send keep their zero value.
type MLEntry struct {
	Name string

	// Type is "file", "dir", "cdir", "pdir" or an OS-specific type such as
	// "OS.unix=slink:/target".
	Type string

	Unique string
	Modify time.Time
	Create time.Time

	// Perm is the set of permission letters, e.g. "adfrw".
	Perm string
	Lang string
	Size int64

	MediaType string
	Charset   string

	UnixMode  os.FileMode
	UnixOwner string
	UnixGroup string

	// Facts holds every fact as sent, keyed by lower-cased name.
	Facts map[string]string
}

// MLStat returns information about a single file or directory using MLST.
//
// Example:
//
//	entry, err := client.MLStat("file.txt")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Size: %d, Modified: %s\n", entry.Size, entry.Modify)
func (c *Client) MLStat(path string) (*MLEntry, error) {
	var args []string
	if path != "" {
		args = []string{path}
	}
	resp, err := c.cmd("MLST", args...)
	if err != nil {
		return nil, err
	}
	if resp.Code != 250 {
		return nil, &ProtocolError{Command: "MLST", Code: resp.Code, Response: resp.String()}
	}

	// 250-Listing path
	//  type=file;size=12; path
	// 250 End
	for _, line := range resp.Lines[1:] {
		if strings.HasPrefix(line, " ") {
			return parseMLEntry("MLST", line[1:])
		}
	}
	return nil, malformed("MLST", resp.String(), "no entry line")
}

// MLList returns a machine-readable directory listing using MLSD. A
// malformed fact in any line fails the whole listing.
func (c *Client) MLList(path string) ([]*MLEntry, error) {
	var lines []string
	err := c.listing("MLSD", path, func(line string) error {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	entries := make([]*MLEntry, 0, len(lines))
	for _, line := range lines {
		e, err := parseMLEntry("MLSD", line)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// parseMLEntry parses "fact=value;fact=value; name". The name is whatever
// follows the first space and may itself contain spaces or semicolons.
func parseMLEntry(cmd, line string) (*MLEntry, error) {
	facts, name, ok := strings.Cut(line, " ")
	if !ok || name == "" {
		return nil, malformed(cmd, line, "no name")
	}

	e := &MLEntry{Name: name, Facts: make(map[string]string)}
	for _, pair := range strings.Split(facts, ";") {
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, malformed(cmd, line, "fact without value: "+strconv.Quote(pair))
		}
		key = strings.ToLower(key)
		e.Facts[key] = value
		if err := e.setFact(key, value); err != nil {
			return nil, malformed(cmd, line, key+": "+err.Error())
		}
	}
	return e, nil
}

func (e *MLEntry) setFact(key, value string) error {
	var err error
	switch key {
	case "type":
		e.Type = strings.ToLower(value)
		if strings.HasPrefix(e.Type, "os.") {
			e.Type = value
		}
	case "unique":
		e.Unique = value
	case "modify":
		e.Modify, err = parseFactTime(value)
	case "create":
		e.Create, err = parseFactTime(value)
	case "perm":
		e.Perm = value
	case "lang":
		e.Lang = value
	case "size":
		e.Size, err = strconv.ParseInt(value, 10, 64)
		if err == nil && e.Size < 0 {
			err = errors.New("negative size")
		}
	case "media-type":
		e.MediaType = value
	case "charset":
		e.Charset = value
	case "unix.mode":
		var mode uint64
		mode, err = strconv.ParseUint(value, 8, 32)
		e.UnixMode = os.FileMode(mode) & os.ModePerm
		if mode&0o4000 != 0 {
			e.UnixMode |= os.ModeSetuid
		}
		if mode&0o2000 != 0 {
			e.UnixMode |= os.ModeSetgid
		}
		if mode&0o1000 != 0 {
			e.UnixMode |= os.ModeSticky
		}
	case "unix.owner", "unix.uid":
		e.UnixOwner = value
	case "unix.group", "unix.gid":
		e.UnixGroup = value
	}
	return err
}

// parseFactTime parses YYYYMMDDhhmmss with an optional fraction of up to
// nanosecond precision. Fact times are always UTC.
func parseFactTime(s string) (time.Time, error) {
	base, frac, hasFrac := strings.Cut(s, ".")
	if len(base) != 14 || !isDigits(base) {
		return time.Time{}, errors.Errorf("bad time %q", s)
	}
	t, err := time.ParseInLocation("20060102150405", base, time.UTC)
	if err != nil {
		return time.Time{}, errors.Errorf("bad time %q", s)
	}
	if hasFrac {
		if frac == "" || len(frac) > 9 || !isDigits(frac) {
			return time.Time{}, errors.Errorf("bad fraction in %q", s)
		}
		ns, _ := strconv.Atoi(frac + strings.Repeat("0", 9-len(frac)))
		t = t.Add(time.Duration(ns))
	}
	return t, nil
}
