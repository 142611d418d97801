package assemble

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"echoscript/internal/domain"
)

func seg(start, end time.Duration, text string) domain.TranscriptSegment {
	return domain.TranscriptSegment{Start: start, End: end, Text: text}
}

// TestCollectorKeepsDisjointSegments verifies non-overlapping segments
// from different chunks all survive in timeline order.
func TestCollectorKeepsDisjointSegments(t *testing.T) {
	c := NewCollector()
	c.Add(0, 10*time.Second, []domain.TranscriptSegment{
		seg(0, 4*time.Second, "first"),
		seg(4*time.Second, 9*time.Second, "second"),
	})
	c.Add(9*time.Second, 20*time.Second, []domain.TranscriptSegment{
		seg(10*time.Second, 15*time.Second, "third"),
	})

	got := c.Segments()
	if len(got) != 3 {
		t.Fatalf("segment count = %d, want 3", len(got))
	}
	for i, want := range []string{"first", "second", "third"} {
		if got[i].Text != want {
			t.Fatalf("segment %d text = %q, want %q", i, got[i].Text, want)
		}
	}
}

// TestCollectorDropsOverlapDuplicate verifies that a repeated segment at
// an overlap boundary appears exactly once, attributed to the chunk whose
// center is closer to the duplicated span.
func TestCollectorDropsOverlapDuplicate(t *testing.T) {
	c := NewCollector()
	// Chunk [0s, 10s]: its last segment sits in the shared overlap.
	c.Add(0, 10*time.Second, []domain.TranscriptSegment{
		seg(0, 8*time.Second, "body"),
		seg(9*time.Second, 10*time.Second, "boundary from first"),
	})
	// Chunk [9s, 20s] re-recognizes the same boundary audio.
	c.Add(9*time.Second, 20*time.Second, []domain.TranscriptSegment{
		seg(9*time.Second, 10*time.Second, "boundary from second"),
		seg(10*time.Second, 15*time.Second, "tail"),
	})

	got := c.Segments()
	if len(got) != 3 {
		t.Fatalf("segment count = %d, want 3", len(got))
	}
	// Chunk centers are 5s and 14.5s; the 9.5s overlap midpoint is
	// closer to the first chunk, so its reading wins.
	if got[1].Text != "boundary from first" {
		t.Fatalf("boundary segment text = %q, want first chunk's reading", got[1].Text)
	}
}

// TestCollectorReplacesWeakerDuplicate verifies the later chunk wins when
// its center is closer to the duplicated span.
func TestCollectorReplacesWeakerDuplicate(t *testing.T) {
	c := NewCollector()
	// A long first chunk puts its center far from the boundary.
	c.Add(0, 28*time.Second, []domain.TranscriptSegment{
		seg(27*time.Second, 28*time.Second, "from long chunk"),
	})
	// A short second chunk centered right on the duplicated span.
	c.Add(26*time.Second, 30*time.Second, []domain.TranscriptSegment{
		seg(27*time.Second, 28*time.Second, "from close chunk"),
	})

	got := c.Segments()
	if len(got) != 1 {
		t.Fatalf("segment count = %d, want 1", len(got))
	}
	if got[0].Text != "from close chunk" {
		t.Fatalf("winner = %q, want the closer chunk's reading", got[0].Text)
	}
}

// TestCollectorSmallOverlapIsNotDuplicate verifies segments that merely
// brush each other are both kept.
func TestCollectorSmallOverlapIsNotDuplicate(t *testing.T) {
	c := NewCollector()
	c.Add(0, 10*time.Second, []domain.TranscriptSegment{
		seg(0, 6*time.Second, "long early segment"),
	})
	c.Add(5*time.Second, 15*time.Second, []domain.TranscriptSegment{
		seg(5500*time.Millisecond, 12*time.Second, "long late segment"),
	})

	if got := c.Segments(); len(got) != 2 {
		t.Fatalf("segment count = %d, want 2", len(got))
	}
}

// TestRenderTextJoinsSegments checks plain text rendering.
func TestRenderTextJoinsSegments(t *testing.T) {
	segments := []domain.TranscriptSegment{
		seg(0, time.Second, "  hello "),
		seg(time.Second, 2*time.Second, "world"),
	}

	got, err := Render(segments, domain.FormatText)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if string(got) != "hello world\n" {
		t.Fatalf("text output = %q", got)
	}
}

// TestRenderSRTFormat checks SubRip block structure and timestamps.
func TestRenderSRTFormat(t *testing.T) {
	segments := []domain.TranscriptSegment{
		seg(0, 2500*time.Millisecond, "hello"),
		seg(time.Hour+time.Minute+time.Second+500*time.Millisecond, time.Hour+2*time.Minute, "later"),
	}

	got, err := Render(segments, domain.FormatSubtitle)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	want := "1\n00:00:00,000 --> 00:00:02,500\nhello\n\n" +
		"2\n01:01:01,500 --> 01:02:00,000\nlater\n"
	if string(got) != want {
		t.Fatalf("srt output = %q, want %q", got, want)
	}
}

// TestRenderEmptyTranscript verifies zero segments produce empty output
// without error for the text-based formats.
func TestRenderEmptyTranscript(t *testing.T) {
	for _, format := range []domain.OutputFormat{domain.FormatText, domain.FormatSubtitle, domain.FormatMarkdown} {
		got, err := Render(nil, format)
		if err != nil {
			t.Fatalf("Render(%s) error = %v", format, err)
		}
		if len(got) != 0 {
			t.Fatalf("Render(%s) = %q, want empty", format, got)
		}
	}
}

// TestRenderIsDeterministic verifies re-rendering identical input yields
// byte-identical output.
func TestRenderIsDeterministic(t *testing.T) {
	segments := []domain.TranscriptSegment{
		seg(0, time.Second, "alpha"),
		seg(time.Second, 3*time.Second, "beta"),
	}

	for _, format := range []domain.OutputFormat{domain.FormatText, domain.FormatSubtitle, domain.FormatWord} {
		first, err := Render(segments, format)
		if err != nil {
			t.Fatalf("Render(%s) error = %v", format, err)
		}
		second, err := Render(segments, format)
		if err != nil {
			t.Fatalf("Render(%s) error = %v", format, err)
		}
		if !bytes.Equal(first, second) {
			t.Fatalf("Render(%s) output differs across runs", format)
		}
	}
}

// TestRenderUnsupportedFormat verifies unknown formats are rejected.
func TestRenderUnsupportedFormat(t *testing.T) {
	if _, err := Render(nil, domain.OutputFormat("pdf")); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

// TestOutputFileName checks transcript naming from media paths.
func TestOutputFileName(t *testing.T) {
	cases := []struct {
		in     string
		format domain.OutputFormat
		want   string
	}{
		{"/media/interview.mp4", domain.FormatText, "interview.txt"},
		{"talk.final.mov", domain.FormatSubtitle, "talk.final.srt"},
		{"notes", domain.FormatMarkdown, "notes.md"},
		{"report", domain.FormatWord, "report.docx"},
		{".", domain.FormatText, "transcript.txt"},
	}
	for _, tc := range cases {
		if got := OutputFileName(tc.in, tc.format); got != tc.want {
			t.Fatalf("OutputFileName(%q, %s) = %q, want %q", tc.in, tc.format, got, tc.want)
		}
	}
}

// TestWriteAtomic verifies content lands at the target path and no
// temporary files are left behind.
func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "interview.txt")

	if err := WriteAtomic(path, []byte("hello\n")); err != nil {
		t.Fatalf("WriteAtomic() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "hello\n" {
		t.Fatalf("output = %q", data)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".echoscript-out-") {
			t.Fatalf("leftover temp file: %s", entry.Name())
		}
	}
}

// TestSupported verifies the format whitelist.
func TestSupported(t *testing.T) {
	for _, format := range []domain.OutputFormat{domain.FormatText, domain.FormatSubtitle, domain.FormatMarkdown, domain.FormatWord} {
		if !Supported(format) {
			t.Fatalf("Supported(%s) = false", format)
		}
	}
	if Supported(domain.OutputFormat("pdf")) {
		t.Fatal("Supported(pdf) = true")
	}
}
