package ftp

import (
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Entry represents a file or directory entry from a LIST command.
type Entry struct {
	Name string

	// Type is "file", "dir", "link" or "unknown" when no parser matched.
	Type string
	Size int64

	// ModTime is zero when the listing carries no usable date.
	ModTime time.Time

	// Target is the link target for symbolic links.
	Target string

	// Raw is the line the entry was parsed from.
	Raw string
}

// ListingParser parses one line of a LIST reply.
type ListingParser interface {
	Parse(line string) (*Entry, bool)
}

func defaultParsers() []ListingParser {
	return []ListingParser{&EPLFParser{}, &DOSParser{}, &UnixParser{}}
}

// UnixParser parses "ls -l" style lines, with or without the group column
// and with symbolic or octal permissions.
type UnixParser struct {
	// Now anchors dates that omit the year; zero means time.Now.
	Now time.Time
}

func (p *UnixParser) Parse(line string) (*Entry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 8 {
		return nil, false
	}
	typ, ok := unixType(fields[0])
	if !ok {
		return nil, false
	}

	// perms links owner [group] size month day time|year name...
	for _, sizeIdx := range []int{4, 3} {
		if len(fields) < sizeIdx+5 {
			continue
		}
		size, err := strconv.ParseInt(fields[sizeIdx], 10, 64)
		if err != nil {
			continue
		}
		date := fields[sizeIdx+1 : sizeIdx+4]
		name := nameAfter(line, fields, sizeIdx+4)
		e := &Entry{Type: typ, Size: size, Raw: line, ModTime: p.parseDate(date)}
		if typ == "link" {
			if n, target, ok := strings.Cut(name, " -> "); ok {
				name, e.Target = n, target
			}
		}
		e.Name = name
		return e, true
	}
	return nil, false
}

func unixType(perms string) (string, bool) {
	if len(perms) >= 3 && len(perms) <= 4 && strings.Trim(perms, "01234567") == "" {
		return "file", true
	}
	if len(perms) < 10 {
		return "", false
	}
	switch perms[0] {
	case 'd':
		return "dir", true
	case 'l':
		return "link", true
	case '-', 'b', 'c', 'p', 's':
		return "file", true
	}
	return "", false
}

// parseDate reads "Jan 2 15:04" or "Jan 2 2006". Dates without a year are
// placed in the twelve months before Now.
func (p *UnixParser) parseDate(f []string) time.Time {
	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}
	s := f[0] + " " + f[1] + " " + f[2]
	if strings.Contains(f[2], ":") {
		t, err := time.Parse("Jan 2 15:04", s)
		if err != nil {
			return time.Time{}
		}
		t = t.AddDate(now.Year(), 0, 0)
		if t.After(now.AddDate(0, 0, 1)) {
			t = t.AddDate(-1, 0, 0)
		}
		return t
	}
	t, err := time.Parse("Jan 2 2006", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// nameAfter returns the rest of line starting at field i, keeping the
// spacing inside the name.
func nameAfter(line string, fields []string, i int) string {
	rest := line
	for _, f := range fields[:i] {
		idx := strings.Index(rest, f)
		rest = rest[idx+len(f):]
	}
	return strings.TrimLeft(rest, " \t")
}

// DOSParser parses IIS style lines:
//
//	12-14-23  12:22PM           1037794 report.pdf
//	09-24-24  10:30AM       <DIR>          logs
type DOSParser struct{}

func (p *DOSParser) Parse(line string) (*Entry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 4 || !isDOSDate(fields[0]) {
		return nil, false
	}
	e := &Entry{Raw: line, Name: nameAfter(line, fields, 3), ModTime: parseDOSTime(fields[0], fields[1])}
	if fields[2] == "<DIR>" {
		e.Type = "dir"
		return e, true
	}
	size, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return nil, false
	}
	e.Type = "file"
	e.Size = size
	return e, true
}

func isDOSDate(s string) bool {
	sep := "-"
	if strings.Contains(s, "/") {
		sep = "/"
	}
	parts := strings.Split(s, sep)
	if len(parts) != 3 {
		return false
	}
	for i, part := range parts {
		if !isDigits(part) {
			return false
		}
		if i < 2 && len(part) > 2 {
			return false
		}
		if i == 2 && len(part) != 2 && len(part) != 4 {
			return false
		}
	}
	return true
}

func parseDOSTime(date, clock string) time.Time {
	date = strings.ReplaceAll(date, "/", "-")
	for _, layout := range []string{"01-02-06 03:04PM", "01-02-2006 03:04PM", "01-02-06 15:04", "01-02-2006 15:04"} {
		if t, err := time.Parse(layout, date+" "+clock); err == nil {
			return t
		}
	}
	return time.Time{}
}

// EPLFParser parses Easily Parsed LIST Format lines such as
// "+i8388621.48594,m825718503,r,s280,\tdjb.html".
type EPLFParser struct{}

func (p *EPLFParser) Parse(line string) (*Entry, bool) {
	if !strings.HasPrefix(line, "+") {
		return nil, false
	}
	idx := strings.IndexAny(line, "\t ")
	if idx < 0 {
		return nil, false
	}
	name := strings.TrimSpace(line[idx+1:])
	if name == "" {
		return nil, false
	}

	e := &Entry{Name: name, Type: "file", Raw: line}
	for _, fact := range strings.Split(line[1:idx], ",") {
		if fact == "" {
			continue
		}
		switch fact[0] {
		case '/':
			e.Type = "dir"
		case 's':
			if size, err := strconv.ParseInt(fact[1:], 10, 64); err == nil {
				e.Size = size
			}
		case 'm':
			if sec, err := strconv.ParseInt(fact[1:], 10, 64); err == nil {
				e.ModTime = time.Unix(sec, 0).UTC()
			}
		}
	}
	return e, true
}

// CompositeParser tries each parser in order. Lines no parser accepts
// become entries of type "unknown"; blank lines and the "total N" header
// are dropped.
type CompositeParser struct {
	Parsers []ListingParser
	Log     logrus.FieldLogger
}

func (p *CompositeParser) Parse(line string) *Entry {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	if n, ok := strings.CutPrefix(trimmed, "total "); ok && isDigits(n) {
		return nil
	}
	for _, parser := range p.Parsers {
		if e, ok := parser.Parse(trimmed); ok {
			return e
		}
	}
	if p.Log != nil {
		p.Log.WithField("raw", line).Debug("unrecognized LIST line")
	}
	return &Entry{Name: trimmed, Type: "unknown", Raw: line}
}
