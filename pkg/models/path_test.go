package models

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"C:/docs/a.txt", "C:/docs/a.txt"},
		{`c:\docs\a.txt`, "C:/docs/a.txt"},
		{"/home/u/a.txt", "/home/u/a.txt"},
		{"/home/u/../v/./a.txt", "/home/v/a.txt"},
		{"docs//a.txt", "docs/a.txt"},
		{"../a.txt", "../a.txt"},
		{"/../a.txt", "/a.txt"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ParsePath(tt.in).String(); got != tt.want {
			t.Errorf("ParsePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDocPathParts(t *testing.T) {
	p := ParsePath(`C:\docs\Report.PDF`)
	if p.Base() != "Report.PDF" {
		t.Errorf("Base = %q", p.Base())
	}
	if p.Ext() != ".pdf" || p.FileType() != "pdf" {
		t.Errorf("Ext = %q, FileType = %q", p.Ext(), p.FileType())
	}
	if p.Dir().String() != "C:/docs" {
		t.Errorf("Dir = %q", p.Dir().String())
	}
	if got := p.Dir().Join("Archive", "x/y.txt").String(); got != "C:/docs/Archive/x/y.txt" {
		t.Errorf("Join = %q", got)
	}
	if got := p.WithBase("new.pdf").String(); got != "C:/docs/new.pdf" {
		t.Errorf("WithBase = %q", got)
	}
	if !p.IsAbs() || ParsePath("rel/a").IsAbs() {
		t.Error("IsAbs mismatch")
	}
	if !ParsePath("").IsZero() {
		t.Error("empty path should be zero")
	}
	// Dir must not alias the original segments.
	d := p.Dir()
	_ = d.Join("z")
	if p.String() != "C:/docs/Report.PDF" {
		t.Errorf("original mutated: %q", p.String())
	}
}

func TestJoinResolvesParents(t *testing.T) {
	base := ParsePath("/home/u/docs")
	tests := []struct {
		elem []string
		want string
	}{
		{[]string{"../Archive", "a.txt"}, "/home/u/Archive/a.txt"},
		{[]string{`..\..\x`}, "/home/x"},
		{[]string{"./Archive/./b"}, "/home/u/docs/Archive/b"},
		{[]string{"../../../../x"}, "/x"},
	}
	for _, tt := range tests {
		if got := base.Join(tt.elem...).String(); got != tt.want {
			t.Errorf("Join(%q) = %q, want %q", tt.elem, got, tt.want)
		}
	}
	if got := ParsePath("rel").Join("../../x").String(); got != "../x" {
		t.Errorf("relative Join = %q", got)
	}
	// The joined path must equal the path parsed from its own string form.
	j := base.Join("../Archive/a.txt")
	if j.String() != ParsePath(j.String()).String() || len(j.Segments) != 4 {
		t.Errorf("Join not canonical: %+v", j)
	}
}

func TestAbsPath(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}

	got := AbsPath("docs/../docs/a.txt")
	if !got.IsAbs() {
		t.Fatalf("Expected absolute path, got %q", got)
	}
	if want := ParsePath(filepath.Join(wd, "docs", "a.txt")).String(); got.String() != want {
		t.Errorf("AbsPath = %q, want %q", got, want)
	}
	if got := AbsPath("/x/../y").String(); got != "/y" {
		t.Errorf("AbsPath of rooted path = %q", got)
	}
	if got := AbsPath(`c:\docs`).String(); got != "C:/docs" {
		t.Errorf("AbsPath of drive path = %q", got)
	}
	if !AbsPath("").IsZero() {
		t.Error("empty path should stay zero")
	}
}

func TestHasPrefix(t *testing.T) {
	tests := []struct {
		path, prefix string
		want         bool
	}{
		{"/docs/work/a.pdf", "/docs/work", true},
		{"/docs/work/a.pdf", "/docs/work/", true},
		{"/docs/workshop/a.pdf", "/docs/work", false},
		{"/docs/work", "/docs/work", true},
		{"c:/docs/a.txt", `C:\docs`, true},
		{"/docs/a.txt", "C:/docs", false},
		{"/docs/a.txt", "docs", true},
	}
	for _, tt := range tests {
		if got := ParsePath(tt.path).HasPrefix(ParsePath(tt.prefix)); got != tt.want {
			t.Errorf("%q.HasPrefix(%q) = %v, want %v", tt.path, tt.prefix, got, tt.want)
		}
	}
}

func TestFiltersMatch(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := EntryMetadata{FileType: "pdf", SourcePath: "/docs/work/a.pdf", ImportedAt: at}

	tests := []struct {
		name string
		f    Filters
		want bool
	}{
		{"empty", Filters{}, true},
		{"type match", Filters{FileType: "pdf"}, true},
		{"type mismatch", Filters{FileType: "txt"}, false},
		{"folder", Filters{Folder: "/docs"}, true},
		{"other folder", Filters{Folder: "/home"}, false},
		{"inclusive from", Filters{ImportedFrom: &at}, true},
		{"inclusive to", Filters{ImportedTo: &at}, true},
		{"after range", Filters{ImportedTo: ptr(at.Add(-time.Second))}, false},
		{"before range", Filters{ImportedFrom: ptr(at.Add(time.Second))}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.Match(m); got != tt.want {
				t.Errorf("Match = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSearchResponseResults(t *testing.T) {
	if got := (SearchResponse{NoStrongMatches: true}).Results(); got != nil {
		t.Errorf("Expected nil results, got %v", got)
	}
	best := SearchResult{Key: "a"}
	r := SearchResponse{Best: &best, Secondary: []SearchResult{{Key: "b"}}}
	if got := r.Results(); len(got) != 2 || got[0].Key != "a" || got[1].Key != "b" {
		t.Errorf("Unexpected results %+v", got)
	}
}

func TestBatchResultAdd(t *testing.T) {
	var b BatchResult
	b.Add(IndexOutcome{Status: StatusIndexed})
	b.Add(IndexOutcome{Status: StatusSkipped})
	b.Add(IndexOutcome{Status: StatusCanceled})
	b.Add(IndexOutcome{Path: "/x.pdf", Status: StatusFailed, Err: ErrCorruptFile})
	if b.Indexed != 1 || b.Skipped != 1 || b.Canceled != 1 || b.Failed != 1 {
		t.Errorf("Unexpected counts %+v", b)
	}
	if len(b.Failures) != 1 || b.Failures[0].Path != "/x.pdf" || b.Failures[0].Reason == "" {
		t.Errorf("Unexpected failures %+v", b.Failures)
	}
}

func ptr[T any](v T) *T { return &v }
