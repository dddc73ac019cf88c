package models

import (
	"os"
	"path/filepath"
	"strings"
)

// DocPath is a platform-neutral path: an optional root ("/", "C:/") followed
// by segments. It is joined into a string only at the I/O boundary.
type DocPath struct {
	Root     string
	Segments []string
}

// ParsePath splits p on either separator and resolves "." and "..".
func ParsePath(p string) DocPath {
	p = strings.ReplaceAll(p, `\`, "/")
	var dp DocPath
	switch {
	case len(p) >= 2 && p[1] == ':' && isLetter(p[0]):
		dp.Root = strings.ToUpper(p[:1]) + ":/"
		p = p[2:]
	case strings.HasPrefix(p, "/"):
		dp.Root = "/"
	}
	for _, s := range strings.Split(p, "/") {
		dp.push(s)
	}
	return dp
}

// push appends one segment, resolving "." and "..". A ".." above a root is
// dropped; above a relative path it is kept.
func (p *DocPath) push(s string) {
	switch s {
	case "", ".":
	case "..":
		if n := len(p.Segments); n > 0 && p.Segments[n-1] != ".." {
			p.Segments = p.Segments[:n-1]
		} else if p.Root == "" {
			p.Segments = append(p.Segments, s)
		}
	default:
		p.Segments = append(p.Segments, s)
	}
}

// AbsPath parses p and anchors a relative result at the working directory.
// Stored paths always go through AbsPath so one file has one key.
func AbsPath(p string) DocPath {
	dp := ParsePath(p)
	if dp.IsAbs() || dp.IsZero() {
		return dp
	}
	wd, err := os.Getwd()
	if err != nil {
		return dp
	}
	return ParsePath(wd).Join(dp.String())
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// String returns the canonical slash-separated form.
func (p DocPath) String() string {
	return p.Root + strings.Join(p.Segments, "/")
}

// Native returns the path in the host's separator convention.
func (p DocPath) Native() string {
	return filepath.FromSlash(p.String())
}

func (p DocPath) IsZero() bool { return p.Root == "" && len(p.Segments) == 0 }

func (p DocPath) IsAbs() bool { return p.Root != "" }

// Base returns the last segment.
func (p DocPath) Base() string {
	if len(p.Segments) == 0 {
		return ""
	}
	return p.Segments[len(p.Segments)-1]
}

// Ext returns the lowercased extension of the last segment, including the dot.
func (p DocPath) Ext() string {
	return strings.ToLower(filepath.Ext(p.Base()))
}

// Dir returns the parent path.
func (p DocPath) Dir() DocPath {
	if len(p.Segments) == 0 {
		return p
	}
	return DocPath{Root: p.Root, Segments: append([]string(nil), p.Segments[:len(p.Segments)-1]...)}
}

// Join appends segments parsed from each element. A ".." in an element
// removes the preceding segment, so the result stays canonical.
func (p DocPath) Join(elem ...string) DocPath {
	out := DocPath{Root: p.Root, Segments: append([]string(nil), p.Segments...)}
	for _, e := range elem {
		for _, s := range strings.Split(strings.ReplaceAll(e, `\`, "/"), "/") {
			out.push(s)
		}
	}
	return out
}

// WithBase replaces the last segment.
func (p DocPath) WithBase(name string) DocPath {
	return p.Dir().Join(name)
}

// HasPrefix reports whether prefix is p or an ancestor of p, segment-wise.
func (p DocPath) HasPrefix(prefix DocPath) bool {
	if prefix.Root != "" && !strings.EqualFold(p.Root, prefix.Root) {
		return false
	}
	if len(prefix.Segments) > len(p.Segments) {
		return false
	}
	for i, s := range prefix.Segments {
		if p.Segments[i] != s {
			return false
		}
	}
	return true
}

// FileType returns the extension without the dot, e.g. "pdf".
func (p DocPath) FileType() string {
	return strings.TrimPrefix(p.Ext(), ".")
}
