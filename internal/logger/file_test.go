package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestNewFileWriter_CreatesFileAtPath(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "subdir", "app.log")

	w := NewFileWriter(FileConfig{Path: logPath, MaxSizeMB: 10, MaxFiles: 3})

	msg := []byte(`{"level":"info","message":"hello"}` + "\n")
	n, err := w.Write(msg)
	if err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	if n != len(msg) {
		t.Errorf("expected %d bytes written, got %d", len(msg), n)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if string(data) != string(msg) {
		t.Errorf("expected file content %q, got %q", msg, data)
	}
}

func TestOutputWriter(t *testing.T) {
	dir := t.TempDir()
	var stdout bytes.Buffer

	both := outputWriter(Config{Output: "both", FilePath: filepath.Join(dir, "both.log")}, &stdout)
	if _, err := both.Write([]byte("line\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if stdout.String() != "line\n" {
		t.Errorf("stdout = %q, want line", stdout.String())
	}
	data, err := os.ReadFile(filepath.Join(dir, "both.log"))
	if err != nil || string(data) != "line\n" {
		t.Errorf("file content = %q, err = %v", data, err)
	}

	stdout.Reset()
	if w := outputWriter(Config{Output: "stdout"}, &stdout); w != &stdout {
		t.Error("expected stdout writer")
	}
}
