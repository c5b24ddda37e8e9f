package textdata

import (
	"archive/tar"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func testLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// writeTarGz builds a small gzipped tar archive from member name to file
// contents.
func writeTarGz(t *testing.T, members map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.tgz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for name, body := range members {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(body))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadTarSplit(t *testing.T) {
	archive := writeTarGz(t, map[string]string{
		"data/ptb.train.txt": "The Cat sat\non the mat\n",
		"data/ptb.valid.txt": "a smaller split\n",
	})

	sents, err := ReadTarSplit(archive, "data/ptb.{split}.txt", "train", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(sents) != 2 {
		t.Fatalf("got %d sentences, want 2", len(sents))
	}
	want := []string{"the", "cat", "sat"}
	for i, tok := range want {
		if sents[0][i] != tok {
			t.Errorf("sentence 0 = %v, want %v", sents[0], want)
			break
		}
	}

	// Without lowercasing the surface forms survive.
	sents, err = ReadTarSplit(archive, "data/ptb.{split}.txt", "train", false)
	if err != nil {
		t.Fatal(err)
	}
	if sents[0][1] != "Cat" {
		t.Errorf("token = %q, want %q", sents[0][1], "Cat")
	}
}

func TestReadTarSplitErrors(t *testing.T) {
	archive := writeTarGz(t, map[string]string{"data/ptb.train.txt": "x\n"})

	if _, err := ReadTarSplit(archive, "data/ptb.{split}.txt", "dev", false); err == nil {
		t.Error("expected error for unknown split name")
	}
	if _, err := ReadTarSplit(archive, "other/{split}.txt", "train", false); err == nil {
		t.Error("expected error for missing member")
	}
	if _, err := ReadTarSplit(filepath.Join(t.TempDir(), "missing.tgz"), "m", "train", false); err == nil {
		t.Error("expected error for missing archive")
	}
}

func TestReadTextFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.txt")
	if err := os.WriteFile(path, []byte("le chat noir\n\nune ligne\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	sents, err := ReadTextFile(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(sents) != 3 {
		t.Fatalf("got %d sentences, want 3 (blank lines kept)", len(sents))
	}
	if len(sents[1]) != 0 {
		t.Errorf("blank line tokenized to %v, want empty", sents[1])
	}
	if len(sents[2]) != 2 || sents[2][0] != "une" {
		t.Errorf("sentence 2 = %v, want [une ligne]", sents[2])
	}
}

func TestDownloadIfAbsentSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.tgz")
	if err := os.WriteFile(path, []byte("cached"), 0o644); err != nil {
		t.Fatal(err)
	}
	// The URL is never touched when the file already exists.
	got, err := DownloadIfAbsent(testLogger(t), dir, "archive.tgz", "http://invalid.invalid/archive.tgz")
	if err != nil {
		t.Fatal(err)
	}
	if got != path {
		t.Errorf("path = %q, want %q", got, path)
	}
	data, err := os.ReadFile(got)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "cached" {
		t.Errorf("existing file was overwritten: %q", data)
	}
}
