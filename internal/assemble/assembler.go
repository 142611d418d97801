// Package assemble merges chunk-level transcript segments into one
// ordered transcript and renders it into the requested output format.
package assemble

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"echoscript/internal/domain"
)

// GapMarker is the transcript text emitted in place of a chunk whose
// inference failed, so partial failures stay visible in the output.
const GapMarker = "[transcription unavailable]"

// AssembleError reports a rendering fault. It aborts only the final
// write; all inference results stay intact for a re-render.
type AssembleError struct {
	Format  domain.OutputFormat
	Message string
	Err     error
}

// Error formats the failure.
func (e *AssembleError) Error() string {
	return fmt.Sprintf("assemble %s: %s", e.Format, e.Message)
}

// Unwrap exposes the underlying error.
func (e *AssembleError) Unwrap() error {
	return e.Err
}

// Supported reports whether the output format has a renderer.
func Supported(format domain.OutputFormat) bool {
	switch format {
	case domain.FormatText, domain.FormatSubtitle, domain.FormatMarkdown, domain.FormatWord:
		return true
	default:
		return false
	}
}

// timedSegment tracks which chunk produced a segment so overlap
// duplicates can be resolved deterministically.
type timedSegment struct {
	seg         domain.TranscriptSegment
	chunkCenter time.Duration
}

// Collector accumulates absolute-time segments chunk by chunk and
// resolves duplicates at overlap boundaries.
//
// Duplicate rule: two segments duplicate each other when their time
// ranges intersect by more than half of the shorter segment. The segment
// whose source-chunk center lies closer to the midpoint of the
// intersection wins; on a tie the earlier chunk wins.
type Collector struct {
	segments []timedSegment
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Add merges the segments of one chunk, given the chunk's absolute time
// range. Segments must already be mapped to absolute timestamps.
func (c *Collector) Add(chunkStart, chunkEnd time.Duration, segments []domain.TranscriptSegment) {
	center := chunkStart + (chunkEnd-chunkStart)/2

	for _, seg := range segments {
		incoming := timedSegment{seg: seg, chunkCenter: center}
		if c.resolveDuplicate(incoming) {
			continue
		}
		c.segments = append(c.segments, incoming)
	}
}

// resolveDuplicate checks incoming against collected segments and
// reports true when incoming lost and must be dropped. A collected
// duplicate that loses is replaced in place.
func (c *Collector) resolveDuplicate(incoming timedSegment) bool {
	for i, existing := range c.segments {
		overlap := intersection(existing.seg, incoming.seg)
		if overlap <= 0 {
			continue
		}
		shorter := existing.seg.End - existing.seg.Start
		if d := incoming.seg.End - incoming.seg.Start; d < shorter {
			shorter = d
		}
		if overlap*2 <= shorter {
			continue
		}

		mid := overlapMidpoint(existing.seg, incoming.seg)
		if distance(existing.chunkCenter, mid) <= distance(incoming.chunkCenter, mid) {
			return true
		}
		c.segments[i] = incoming
		return true
	}
	return false
}

// Segments returns the collected segments totally ordered by start time.
func (c *Collector) Segments() []domain.TranscriptSegment {
	out := make([]domain.TranscriptSegment, len(c.segments))
	for i, ts := range c.segments {
		out[i] = ts.seg
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].End < out[j].End
	})
	return out
}

// Render produces the output bytes for the ordered segment list. Zero
// segments yield an empty but well-formed document, not an error.
// Rendering the same input twice yields byte-identical output.
func Render(segments []domain.TranscriptSegment, format domain.OutputFormat) ([]byte, error) {
	switch format {
	case domain.FormatText, domain.FormatMarkdown:
		return renderText(segments), nil
	case domain.FormatSubtitle:
		return renderSRT(segments), nil
	case domain.FormatWord:
		return renderDocx(segments)
	default:
		return nil, &AssembleError{
			Format:  format,
			Message: fmt.Sprintf("unsupported output format: %q", format),
		}
	}
}

// renderText joins segment texts with single spaces, no timestamps.
func renderText(segments []domain.TranscriptSegment) []byte {
	text := joinedText(segments)
	if text == "" {
		return []byte{}
	}
	return []byte(text + "\n")
}

// joinedText flattens segment texts into one space-separated string.
func joinedText(segments []domain.TranscriptSegment) string {
	texts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			texts = append(texts, text)
		}
	}
	return strings.Join(texts, " ")
}

// renderSRT renders each segment as one indexed SubRip block.
func renderSRT(segments []domain.TranscriptSegment) []byte {
	if len(segments) == 0 {
		return []byte{}
	}

	var b strings.Builder
	for i, seg := range segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n",
			i+1,
			formatSRTTime(seg.Start),
			formatSRTTime(seg.End),
			strings.TrimSpace(seg.Text),
		)
		if i < len(segments)-1 {
			b.WriteByte('\n')
		}
	}
	return []byte(b.String())
}

// formatSRTTime converts a timestamp to HH:MM:SS,mmm.
func formatSRTTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()

	hours := ms / 3_600_000
	ms -= hours * 3_600_000
	minutes := ms / 60_000
	ms -= minutes * 60_000
	seconds := ms / 1000
	ms -= seconds * 1000

	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, ms)
}

// OutputFileName derives the transcript filename from the source media name.
func OutputFileName(inputPath string, format domain.OutputFormat) string {
	base := filepath.Base(inputPath)
	name := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "transcript"
	}
	return name + "." + string(format)
}

// WriteAtomic writes data under a temporary name in the target directory
// and renames it into place, so a reader never observes a partial file.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".echoscript-out-*")
	if err != nil {
		return fmt.Errorf("create temporary output: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("flush output: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("set output permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("publish output: %w", err)
	}
	return nil
}

// intersection returns the overlapped duration of two segments.
func intersection(a, b domain.TranscriptSegment) time.Duration {
	start := a.Start
	if b.Start > start {
		start = b.Start
	}
	end := a.End
	if b.End < end {
		end = b.End
	}
	return end - start
}

// overlapMidpoint returns the midpoint of the intersection of two segments.
func overlapMidpoint(a, b domain.TranscriptSegment) time.Duration {
	start := a.Start
	if b.Start > start {
		start = b.Start
	}
	end := a.End
	if b.End < end {
		end = b.End
	}
	return start + (end-start)/2
}

// distance returns the absolute difference of two timestamps.
func distance(a, b time.Duration) time.Duration {
	if a > b {
		return a - b
	}
	return b - a
}
