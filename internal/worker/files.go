package worker

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/you/tg-mediadl/internal/types"
)

var sidecarExts = map[string]bool{
	".json": true, ".part": true, ".ytdl": true, ".temp": true,
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true,
}

// idSuffix matches the " [id]" the output template appends to titles.
var idSuffix = regexp.MustCompile(`\s*\[[^\]]+\]$`)

func isMedia(name string) bool {
	return !sidecarExts[strings.ToLower(filepath.Ext(name))]
}

// mediaFiles lists downloaded media in dir, in name order.
func mediaFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read job dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && isMedia(e.Name()) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}

// pickLargest returns the biggest media file; ties keep the first one found.
func pickLargest(dir string) (string, int64, error) {
	files, err := mediaFiles(dir)
	if err != nil {
		return "", 0, err
	}
	best, bestSize := "", int64(-1)
	for _, f := range files {
		st, err := os.Stat(f)
		if err != nil {
			continue
		}
		if st.Size() > bestSize {
			best, bestSize = f, st.Size()
		}
	}
	if best == "" {
		return "", 0, types.ErrNoFiles
	}
	return best, bestSize, nil
}

// sidecar finds a file next to media sharing its stem, e.g. the .info.json or .jpg.
func sidecar(media, suffix string) string {
	p := strings.TrimSuffix(media, filepath.Ext(media)) + suffix
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return ""
}

func titleFromName(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.TrimSpace(idSuffix.ReplaceAllString(stem, ""))
}

func emptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func makeZip(zipPath string, files []string) error {
	f, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)
	for _, p := range files {
		if err := addToZip(zw, p); err != nil {
			_ = zw.Close()
			_ = f.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func addToZip(zw *zip.Writer, p string) error {
	src, err := os.Open(p)
	if err != nil {
		return err
	}
	defer src.Close()
	st, err := src.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(st)
	if err != nil {
		return err
	}
	hdr.Name = filepath.Base(p)
	hdr.Method = zip.Deflate
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

// moveFile renames src to dst, copying when they sit on different filesystems.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
