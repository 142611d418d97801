package bootstrap

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"echoscript/internal/domain"
)

// TestModelByID verifies known model lookup.
func TestModelByID(t *testing.T) {
	model, found := modelByID("base.en")
	if !found {
		t.Fatal("expected base.en model to exist")
	}
	if model.FileName != "ggml-base.en.bin" {
		t.Fatalf("filename = %s, want ggml-base.en.bin", model.FileName)
	}

	if _, found := modelByID("nonexistent"); found {
		t.Fatal("expected unknown id to miss")
	}
}

// TestResolveModelDownloadDirectoryForEmptyPath falls back to the default
// per-user model directory.
func TestResolveModelDownloadDirectoryForEmptyPath(t *testing.T) {
	dir, err := resolveModelDownloadDirectory("")
	if err != nil {
		t.Fatalf("resolve dir: %v", err)
	}
	if !strings.Contains(filepath.ToSlash(dir), "/.echoscript/models") {
		t.Fatalf("dir = %s, expected ~/.echoscript/models suffix", dir)
	}
}

// TestResolveModelDownloadDirectoryForModelFile uses the model file's
// parent directory.
func TestResolveModelDownloadDirectoryForModelFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "ggml-small.bin")

	dir, err := resolveModelDownloadDirectory(path)
	if err != nil {
		t.Fatalf("resolve dir: %v", err)
	}
	if dir != root {
		t.Fatalf("dir = %s, want %s", dir, root)
	}
}

// TestResolveModelDownloadDirectoryForExistingDirectory keeps that directory.
func TestResolveModelDownloadDirectoryForExistingDirectory(t *testing.T) {
	root := t.TempDir()
	modelsDir := filepath.Join(root, "models")
	if err := os.MkdirAll(modelsDir, 0o755); err != nil {
		t.Fatalf("mkdir models dir: %v", err)
	}

	dir, err := resolveModelDownloadDirectory(modelsDir)
	if err != nil {
		t.Fatalf("resolve dir: %v", err)
	}
	if dir != modelsDir {
		t.Fatalf("dir = %s, want %s", dir, modelsDir)
	}
}

// TestResolveModelDownloadDirectoryRejectsExistingNonModelFile rejects
// paths pointing at unrelated files.
func TestResolveModelDownloadDirectoryRejectsExistingNonModelFile(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "notes.txt")
	if err := os.WriteFile(file, []byte("not model"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, err := resolveModelDownloadDirectory(file); err == nil {
		t.Fatal("expected error for existing non-model file path")
	}
}

// TestMarkDownloadedModels marks catalog entries present in known dirs.
func TestMarkDownloadedModels(t *testing.T) {
	root := t.TempDir()
	modelPath := filepath.Join(root, "ggml-base.en.bin")
	if err := os.WriteFile(modelPath, []byte("stub"), 0o644); err != nil {
		t.Fatalf("write model file: %v", err)
	}

	models := []domain.ModelOption{
		{ID: "base.en", FileName: "ggml-base.en.bin"},
		{ID: "small", FileName: "ggml-small.bin"},
	}
	markDownloadedModels(models, []string{root})

	if !models[0].Downloaded {
		t.Fatal("expected base.en to be marked downloaded")
	}
	if models[0].LocalPath != modelPath {
		t.Fatalf("localPath = %s, want %s", models[0].LocalPath, modelPath)
	}
	if models[1].Downloaded {
		t.Fatal("expected small to remain not downloaded")
	}
}

// TestDownloadURLToFile verifies the atomic download flow leaves only the
// final file behind.
func TestDownloadURLToFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("model bytes"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "models", "ggml-tiny.bin")
	if err := downloadURLToFile(dest, server.URL, 5*time.Second); err != nil {
		t.Fatalf("download: %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != "model bytes" {
		t.Fatalf("content = %q", data)
	}
	if _, err := os.Stat(dest + ".download"); !os.IsNotExist(err) {
		t.Fatalf("temp download file left behind: %v", err)
	}
}

// TestDownloadURLToFileRejectsHTTPError verifies non-200 responses fail
// without creating the destination.
func TestDownloadURLToFileRejectsHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "ggml-tiny.bin")
	if err := downloadURLToFile(dest, server.URL, 5*time.Second); err == nil {
		t.Fatal("expected download error")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatalf("destination should not exist: %v", err)
	}
}
