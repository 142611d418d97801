package decode

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"echoscript/internal/run"
)

// wavWritingRunner pretends to be ffmpeg by writing a WAV file at the
// output path named in the command args.
type wavWritingRunner struct {
	samples    []int16
	sampleRate int
	name       string
	args       []string
	err        error
	stderr     string
}

func (r *wavWritingRunner) Run(ctx context.Context, name string, args ...string) (run.Result, error) {
	r.name = name
	r.args = args

	if ctx.Err() != nil {
		return run.Result{ExitCode: -1}, ctx.Err()
	}
	if r.err != nil {
		return run.Result{ExitCode: 1, Stderr: r.stderr}, r.err
	}

	outPath := args[len(args)-1]
	f, err := os.Create(outPath)
	if err != nil {
		return run.Result{}, err
	}
	defer f.Close()

	if err := WriteWAV(f, r.samples, r.sampleRate); err != nil {
		return run.Result{}, err
	}
	return run.Result{}, nil
}

func newTestAdapter(t *testing.T, runner run.Runner) (*Adapter, *string) {
	t.Helper()
	var scratch string
	adapter := NewAdapterForTests("ffmpeg", runner,
		func(string) (string, error) { return "/usr/bin/ffmpeg", nil },
		func(dir, pattern string) (string, error) {
			scratch = filepath.Join(t.TempDir(), "scratch")
			return scratch, os.MkdirAll(scratch, 0o755)
		},
		os.RemoveAll,
		os.Stat,
	)
	return adapter, &scratch
}

func writeMediaFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.mp4")
	if err := os.WriteFile(path, []byte("media"), 0o644); err != nil {
		t.Fatalf("write media: %v", err)
	}
	return path
}

// TestDecodeProducesStream verifies a successful decode yields a readable
// stream with the right rate, duration, and sample payload.
func TestDecodeProducesStream(t *testing.T) {
	samples := make([]int16, EngineSampleRate*2) // 2s
	for i := range samples {
		samples[i] = int16(i % 512)
	}
	runner := &wavWritingRunner{samples: samples, sampleRate: EngineSampleRate}
	adapter, _ := newTestAdapter(t, runner)

	stream, err := adapter.Decode(context.Background(), writeMediaFile(t))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	defer stream.Close()

	if stream.SampleRate() != EngineSampleRate {
		t.Fatalf("sample rate = %d, want %d", stream.SampleRate(), EngineSampleRate)
	}
	if stream.Duration() != 2*time.Second {
		t.Fatalf("duration = %s, want 2s", stream.Duration())
	}

	var got []int16
	buf := make([]int16, 1000)
	for {
		n, err := stream.ReadSamples(buf)
		got = append(got, buf[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadSamples() error = %v", err)
		}
	}

	if len(got) != len(samples) {
		t.Fatalf("read %d samples, want %d", len(got), len(samples))
	}
	for i := range got {
		if got[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}

// TestDecodeFFmpegArgs verifies the normalization arguments passed to the
// decoder binary.
func TestDecodeFFmpegArgs(t *testing.T) {
	runner := &wavWritingRunner{samples: []int16{1, 2, 3}, sampleRate: EngineSampleRate}
	adapter, _ := newTestAdapter(t, runner)
	media := writeMediaFile(t)

	stream, err := adapter.Decode(context.Background(), media)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	defer stream.Close()

	joined := strings.Join(runner.args, " ")
	for _, want := range []string{"-i " + media, "-vn", "-ac 1", "-ar 16000", "-c:a pcm_s16le"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args %q missing %q", joined, want)
		}
	}
}

// TestDecodeMissingTool verifies the tool_missing classification.
func TestDecodeMissingTool(t *testing.T) {
	adapter := NewAdapterForTests("ffmpeg", &wavWritingRunner{},
		func(string) (string, error) { return "", errors.New("not found") },
		os.MkdirTemp,
		os.RemoveAll,
		os.Stat,
	)

	_, err := adapter.Decode(context.Background(), writeMediaFile(t))
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("error = %v, want *DecodeError", err)
	}
	if decodeErr.Kind != KindToolMissing {
		t.Fatalf("kind = %s, want %s", decodeErr.Kind, KindToolMissing)
	}
}

// TestDecodeMissingInput verifies unreadable media is classified bad_media.
func TestDecodeMissingInput(t *testing.T) {
	adapter, _ := newTestAdapter(t, &wavWritingRunner{})

	_, err := adapter.Decode(context.Background(), filepath.Join(t.TempDir(), "nope.mp4"))
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) || decodeErr.Kind != KindBadMedia {
		t.Fatalf("error = %v, want bad_media DecodeError", err)
	}
}

// TestDecodeConversionFailure verifies decoder failures carry the last
// stderr line and remove the scratch directory.
func TestDecodeConversionFailure(t *testing.T) {
	runner := &wavWritingRunner{
		err:    errors.New("exit status 1"),
		stderr: "Stream map error\nInvalid data found when processing input",
	}
	adapter, scratch := newTestAdapter(t, runner)

	_, err := adapter.Decode(context.Background(), writeMediaFile(t))
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) || decodeErr.Kind != KindBadMedia {
		t.Fatalf("error = %v, want bad_media DecodeError", err)
	}
	if !strings.Contains(decodeErr.Message, "Invalid data found") {
		t.Fatalf("message = %q, want last stderr line", decodeErr.Message)
	}
	if _, statErr := os.Stat(*scratch); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("scratch dir not cleaned up: %v", statErr)
	}
}

// TestDecodeEmptyAudio verifies zero-length decoded audio is classified
// empty_input.
func TestDecodeEmptyAudio(t *testing.T) {
	runner := &wavWritingRunner{samples: nil, sampleRate: EngineSampleRate}
	adapter, scratch := newTestAdapter(t, runner)

	_, err := adapter.Decode(context.Background(), writeMediaFile(t))
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) || decodeErr.Kind != KindEmptyInput {
		t.Fatalf("error = %v, want empty_input DecodeError", err)
	}
	if _, statErr := os.Stat(*scratch); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("scratch dir not cleaned up: %v", statErr)
	}
}

// TestDecodeCancelledContext verifies cancellation surfaces as the
// context error, not a decode classification.
func TestDecodeCancelledContext(t *testing.T) {
	adapter, _ := newTestAdapter(t, &wavWritingRunner{samples: []int16{1}, sampleRate: EngineSampleRate})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := adapter.Decode(ctx, writeMediaFile(t))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

// TestStreamCloseRemovesScratch verifies Close is idempotent and removes
// the scratch workspace.
func TestStreamCloseRemovesScratch(t *testing.T) {
	runner := &wavWritingRunner{samples: []int16{1, 2, 3, 4}, sampleRate: EngineSampleRate}
	adapter, scratch := newTestAdapter(t, runner)

	stream, err := adapter.Decode(context.Background(), writeMediaFile(t))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, statErr := os.Stat(*scratch); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("scratch dir not removed: %v", statErr)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if _, err := stream.ReadSamples(make([]int16, 4)); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("ReadSamples after close error = %v, want os.ErrClosed", err)
	}
}

// TestReadWAVHeaderRoundTrip verifies the writer output parses back with
// identical geometry.
func TestReadWAVHeaderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roundtrip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	samples := []int16{-32768, -1, 0, 1, 32767}
	if err := WriteWAV(f, samples, 16000); err != nil {
		t.Fatalf("WriteWAV() error = %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	in, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer in.Close()

	info, err := readWAVHeader(in)
	if err != nil {
		t.Fatalf("readWAVHeader() error = %v", err)
	}
	if info.sampleRate != 16000 {
		t.Fatalf("sample rate = %d, want 16000", info.sampleRate)
	}
	if info.dataSize != int64(len(samples)*2) {
		t.Fatalf("data size = %d, want %d", info.dataSize, len(samples)*2)
	}
}

// TestReadWAVHeaderRejectsGarbage verifies non-WAV content errors out.
func TestReadWAVHeaderRejectsGarbage(t *testing.T) {
	if _, err := readWAVHeader(strings.NewReader("definitely not a wav file")); err == nil {
		t.Fatal("expected header parse error")
	}
}
