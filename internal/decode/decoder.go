package decode

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"echoscript/internal/run"
)

// EngineSampleRate is the sample rate the inference engine expects.
const EngineSampleRate = 16000

// ErrorKind classifies decode failures.
type ErrorKind string

const (
	KindToolMissing ErrorKind = "tool_missing"
	KindBadMedia    ErrorKind = "bad_media"
	KindEmptyInput  ErrorKind = "empty_input"
	KindScratch     ErrorKind = "scratch"
)

// DecodeError reports a failed media decode with a classified cause.
// Decode failures are never retried automatically.
type DecodeError struct {
	Kind    ErrorKind
	Path    string
	Message string
	Err     error
}

// Error formats the failure for logs and UI.
func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("decode %s: %s", e.Path, e.Message)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Adapter converts arbitrary media containers into a normalized mono
// PCM stream by invoking an external ffmpeg binary.
type Adapter struct {
	ffmpegPath string
	sampleRate int
	runner     run.Runner
	lookPath   func(string) (string, error)
	mkdirTemp  func(dir, pattern string) (string, error)
	removeAll  func(path string) error
	stat       func(name string) (os.FileInfo, error)
}

// NewAdapter constructs the production adapter with OS dependencies.
func NewAdapter() *Adapter {
	return &Adapter{
		ffmpegPath: "ffmpeg",
		sampleRate: EngineSampleRate,
		runner:     &run.ExecRunner{},
		lookPath:   exec.LookPath,
		mkdirTemp:  os.MkdirTemp,
		removeAll:  os.RemoveAll,
		stat:       os.Stat,
	}
}

// Decode converts the media file at path into a 16-bit mono PCM stream.
// The returned stream owns a scratch directory that is removed on Close;
// every failure path removes it before returning.
func (a *Adapter) Decode(ctx context.Context, path string) (*Stream, error) {
	if strings.TrimSpace(path) == "" {
		return nil, &DecodeError{Kind: KindBadMedia, Path: path, Message: "input media path is required"}
	}
	if _, err := a.stat(path); err != nil {
		return nil, &DecodeError{
			Kind:    KindBadMedia,
			Path:    path,
			Message: "cannot access input media",
			Err:     err,
		}
	}
	if _, err := a.lookPath(a.ffmpegPath); err != nil {
		return nil, &DecodeError{
			Kind:    KindToolMissing,
			Path:    path,
			Message: fmt.Sprintf("decoder binary not found in PATH: %s", a.ffmpegPath),
			Err:     err,
		}
	}

	scratchDir, err := a.mkdirTemp("", "echoscript-*")
	if err != nil {
		return nil, &DecodeError{
			Kind:    KindScratch,
			Path:    path,
			Message: "failed to create scratch workspace",
			Err:     err,
		}
	}

	outPath := filepath.Join(scratchDir, "decoded-"+strconv.Itoa(a.sampleRate)+"-mono.wav")
	args := buildFFmpegArgs(path, a.sampleRate, outPath)

	result, runErr := a.runner.Run(ctx, a.ffmpegPath, args...)
	if runErr != nil {
		_ = a.removeAll(scratchDir)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &DecodeError{
			Kind:    KindBadMedia,
			Path:    path,
			Message: "audio conversion failed: " + lastLine(result.Stderr),
			Err:     runErr,
		}
	}

	file, err := os.Open(outPath)
	if err != nil {
		_ = a.removeAll(scratchDir)
		return nil, &DecodeError{
			Kind:    KindBadMedia,
			Path:    path,
			Message: "decoder completed but produced no output",
			Err:     err,
		}
	}

	reader := bufio.NewReaderSize(file, 1<<16)
	info, err := readWAVHeader(reader)
	if err != nil {
		_ = file.Close()
		_ = a.removeAll(scratchDir)
		return nil, &DecodeError{
			Kind:    KindBadMedia,
			Path:    path,
			Message: "decoder produced unreadable audio",
			Err:     err,
		}
	}
	if info.dataSize == 0 {
		_ = file.Close()
		_ = a.removeAll(scratchDir)
		return nil, &DecodeError{
			Kind:    KindEmptyInput,
			Path:    path,
			Message: "decoded audio is empty",
		}
	}
	if info.sampleRate != a.sampleRate {
		_ = file.Close()
		_ = a.removeAll(scratchDir)
		return nil, &DecodeError{
			Kind:    KindBadMedia,
			Path:    path,
			Message: fmt.Sprintf("decoder produced sample rate %d, want %d", info.sampleRate, a.sampleRate),
		}
	}

	return &Stream{
		file:         file,
		reader:       reader,
		sampleRate:   info.sampleRate,
		totalSamples: info.dataSize / 2,
		remaining:    info.dataSize / 2,
		scratchDir:   scratchDir,
		removeAll:    a.removeAll,
	}, nil
}

// Stream reads decoded samples sequentially from the scratch WAV file.
type Stream struct {
	file         *os.File
	reader       *bufio.Reader
	sampleRate   int
	totalSamples int64
	remaining    int64
	scratchDir   string
	removeAll    func(path string) error
	closed       bool
	raw          []byte
}

// SampleRate returns the PCM sample rate of the stream.
func (s *Stream) SampleRate() int {
	return s.sampleRate
}

// Duration returns the total decoded duration.
func (s *Stream) Duration() time.Duration {
	return time.Duration(s.totalSamples) * time.Second / time.Duration(s.sampleRate)
}

// ReadSamples fills buf with the next decoded samples. It returns the
// number of samples read and io.EOF once the stream is exhausted.
func (s *Stream) ReadSamples(buf []int16) (int, error) {
	if s.closed {
		return 0, os.ErrClosed
	}
	if s.remaining == 0 {
		return 0, io.EOF
	}

	want := int64(len(buf))
	if want > s.remaining {
		want = s.remaining
	}
	if cap(s.raw) < int(want)*2 {
		s.raw = make([]byte, want*2)
	}
	raw := s.raw[:want*2]

	n, err := io.ReadFull(s.reader, raw)
	samples := n / 2
	for i := 0; i < samples; i++ {
		buf[i] = int16(uint16(raw[i*2]) | uint16(raw[i*2+1])<<8)
	}
	s.remaining -= int64(samples)

	if err == io.ErrUnexpectedEOF || err == io.EOF {
		s.remaining = 0
		if samples == 0 {
			return 0, io.EOF
		}
		return samples, nil
	}
	if err != nil {
		return samples, err
	}
	return samples, nil
}

// Close releases the file handle and removes the scratch directory.
// Safe to call more than once.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	closeErr := s.file.Close()
	if s.scratchDir != "" {
		if err := s.removeAll(s.scratchDir); err != nil && closeErr == nil {
			closeErr = err
		}
		s.scratchDir = ""
	}
	return closeErr
}

// buildFFmpegArgs builds CLI args for mono fixed-rate PCM WAV output.
func buildFFmpegArgs(inputPath string, sampleRate int, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// lastLine returns the final non-empty line of command output.
func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return "no decoder output"
}

// NewAdapterForTests constructs an adapter with injectable dependencies.
func NewAdapterForTests(
	ffmpegPath string,
	runner run.Runner,
	lookPath func(string) (string, error),
	mkdirTemp func(dir, pattern string) (string, error),
	removeAll func(path string) error,
	stat func(name string) (os.FileInfo, error),
) *Adapter {
	return &Adapter{
		ffmpegPath: ffmpegPath,
		sampleRate: EngineSampleRate,
		runner:     runner,
		lookPath:   lookPath,
		mkdirTemp:  mkdirTemp,
		removeAll:  removeAll,
		stat:       stat,
	}
}
