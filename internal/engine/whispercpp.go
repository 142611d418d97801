package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"echoscript/internal/decode"
	"echoscript/internal/domain"
	"echoscript/internal/run"
)

// WhisperCPP runs the whisper.cpp CLI once per chunk. Each call writes
// the chunk to a temporary WAV, asks the CLI for JSON output, and parses
// the millisecond offsets back into chunk-relative segments.
type WhisperCPP struct {
	binaryPath string
	modelPath  string
	runner     run.Runner
	mkdirTemp  func(dir, pattern string) (string, error)
	removeAll  func(path string) error
	stat       func(name string) (os.FileInfo, error)
	readDir    func(name string) ([]os.DirEntry, error)
	readFile   func(name string) ([]byte, error)
	createFile func(name string) (*os.File, error)
}

// NewWhisperCPP constructs the production backend with OS dependencies.
func NewWhisperCPP() *WhisperCPP {
	return &WhisperCPP{
		binaryPath: "whisper.cpp",
		runner:     &run.ExecRunner{},
		mkdirTemp:  os.MkdirTemp,
		removeAll:  os.RemoveAll,
		stat:       os.Stat,
		readDir:    os.ReadDir,
		readFile:   os.ReadFile,
		createFile: os.Create,
	}
}

// Load resolves and validates the model file. A directory is accepted
// and scanned for the lexically first .bin or .gguf model.
func (w *WhisperCPP) Load(_ context.Context, modelPath string) error {
	resolved, err := w.resolveModelPath(modelPath)
	if err != nil {
		return err
	}
	w.modelPath = resolved
	return nil
}

// Transcribe recognizes one chunk of audio. Temporary files are removed
// on every exit path.
func (w *WhisperCPP) Transcribe(ctx context.Context, chunk domain.AudioChunk, language string) ([]domain.TranscriptSegment, error) {
	if w.modelPath == "" {
		return nil, fmt.Errorf("model is not loaded")
	}

	tempDir, err := w.mkdirTemp("", "echoscript-chunk-*")
	if err != nil {
		return nil, fmt.Errorf("create chunk workspace: %w", err)
	}
	defer func() {
		_ = w.removeAll(tempDir)
	}()

	wavPath := filepath.Join(tempDir, "chunk.wav")
	if err := w.writeChunkWAV(wavPath, chunk); err != nil {
		return nil, err
	}

	outBase := filepath.Join(tempDir, "chunk")
	args := buildWhisperArgs(w.modelPath, wavPath, outBase, language)

	result, runErr := w.runner.Run(ctx, w.binaryPath, args...)
	if runErr != nil {
		return nil, fmt.Errorf("whisper.cpp exited with code %d: %s",
			result.ExitCode, firstLine(result.Stderr))
	}

	data, err := w.readFile(outBase + ".json")
	if err != nil {
		return nil, fmt.Errorf("whisper.cpp completed but produced no transcript: %w", err)
	}

	return parseWhisperJSON(data)
}

// writeChunkWAV encodes the chunk samples as a single-channel WAV file.
func (w *WhisperCPP) writeChunkWAV(path string, chunk domain.AudioChunk) error {
	f, err := w.createFile(path)
	if err != nil {
		return fmt.Errorf("create chunk wav: %w", err)
	}
	if err := decode.WriteWAV(f, chunk.Samples, chunk.SampleRate); err != nil {
		_ = f.Close()
		return fmt.Errorf("write chunk wav: %w", err)
	}
	return f.Close()
}

// resolveModelPath returns the model file path from file or directory input.
func (w *WhisperCPP) resolveModelPath(rawPath string) (string, error) {
	modelPath := strings.TrimSpace(rawPath)
	if modelPath == "" {
		return "", fmt.Errorf("model path is required")
	}

	info, err := w.stat(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot access model path: %s", modelPath)
	}
	if !info.IsDir() {
		return modelPath, nil
	}

	entries, err := w.readDir(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot read model directory: %s", modelPath)
	}

	modelNames := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".bin" || ext == ".gguf" {
			modelNames = append(modelNames, entry.Name())
		}
	}
	if len(modelNames) == 0 {
		return "", fmt.Errorf("no .bin or .gguf model files found in: %s", modelPath)
	}

	sort.Strings(modelNames)
	return filepath.Join(modelPath, modelNames[0]), nil
}

// whisperOutput mirrors the JSON document whisper.cpp writes with -oj.
type whisperOutput struct {
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// parseWhisperJSON converts whisper.cpp JSON output into chunk-relative
// segments, skipping empty text spans.
func parseWhisperJSON(data []byte) ([]domain.TranscriptSegment, error) {
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse whisper.cpp output: %w", err)
	}

	segments := make([]domain.TranscriptSegment, 0, len(out.Transcription))
	for _, entry := range out.Transcription {
		text := strings.TrimSpace(entry.Text)
		if text == "" {
			continue
		}
		segments = append(segments, domain.TranscriptSegment{
			Start: time.Duration(entry.Offsets.From) * time.Millisecond,
			End:   time.Duration(entry.Offsets.To) * time.Millisecond,
			Text:  text,
		})
	}
	return segments, nil
}

// normalizeLanguage maps "auto" and empty language to no CLI override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

// buildWhisperArgs builds whisper.cpp args for JSON transcript export.
func buildWhisperArgs(modelPath, audioPath, outBase, language string) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", outBase,
		"-oj",
	}

	if lang := normalizeLanguage(language); lang != "" {
		args = append(args, "-l", lang)
	}

	return args
}

// firstLine returns the first non-empty line of command output.
func firstLine(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return "no engine output"
}

// NewWhisperCPPForTests constructs a backend with injectable dependencies.
func NewWhisperCPPForTests(
	binaryPath string,
	runner run.Runner,
	mkdirTemp func(dir, pattern string) (string, error),
	removeAll func(path string) error,
	stat func(name string) (os.FileInfo, error),
) *WhisperCPP {
	return &WhisperCPP{
		binaryPath: binaryPath,
		runner:     runner,
		mkdirTemp:  mkdirTemp,
		removeAll:  removeAll,
		stat:       stat,
		readDir:    os.ReadDir,
		readFile:   os.ReadFile,
		createFile: os.Create,
	}
}
