package textdata

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// validSplits are the corpus splits shipped inside an archive.
var validSplits = map[string]bool{"train": true, "valid": true, "test": true}

// DownloadIfAbsent fetches url into dir/filename unless the file already
// exists. It returns the local path.
func DownloadIfAbsent(log *zap.Logger, dir, filename, url string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("textdata: create %s: %w", dir, err)
	}
	path := filepath.Join(dir, filename)
	if _, err := os.Stat(path); err == nil {
		log.Debug("corpus archive already present", zap.String("path", path))
		return path, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("textdata: stat %s: %w", path, err)
	}

	log.Info("downloading corpus archive", zap.String("url", url), zap.String("path", path))
	resp, err := http.Get(url)
	if err != nil {
		return "", fmt.Errorf("textdata: download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("textdata: download %s: unexpected status %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(dir, filename+".tmp*")
	if err != nil {
		return "", fmt.Errorf("textdata: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("textdata: download %s: %w", url, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("textdata: move archive into place: %w", err)
	}
	log.Info("corpus archive downloaded", zap.String("path", path), zap.Int64("bytes", n))
	return path, nil
}

// ReadTarSplit extracts one split's text file from a gzipped tar archive
// and returns its sentences, tokenized on whitespace. member is the
// archive-internal path with the literal substring "{split}" standing for
// the split name, e.g. "./simple-examples/data/ptb.{split}.txt".
func ReadTarSplit(archive, member, split string, lowercase bool) ([][]string, error) {
	if !validSplits[split] {
		return nil, fmt.Errorf("textdata: unknown split %q, want train, valid or test", split)
	}
	want := strings.ReplaceAll(member, "{split}", split)

	f, err := os.Open(archive)
	if err != nil {
		return nil, fmt.Errorf("textdata: open %s: %w", archive, err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("textdata: %s is not a gzip archive: %w", archive, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("textdata: member %s not found in %s", want, archive)
		}
		if err != nil {
			return nil, fmt.Errorf("textdata: read %s: %w", archive, err)
		}
		if hdr.Name != want {
			continue
		}
		return readSentences(tr, lowercase)
	}
}

// ReadTextFile reads a plain text file as tokenized sentences, one per
// line.
func ReadTextFile(path string, lowercase bool) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("textdata: open %s: %w", path, err)
	}
	defer f.Close()
	return readSentences(f, lowercase)
}

func readSentences(r io.Reader, lowercase bool) ([][]string, error) {
	var out [][]string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if lowercase {
			line = strings.ToLower(line)
		}
		out = append(out, strings.Fields(line))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("textdata: scan: %w", err)
	}
	return out, nil
}
