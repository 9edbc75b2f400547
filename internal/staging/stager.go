package staging

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/kajiwara321/expense-report-tool/internal/imaging"
)

const (
	pendingDirName   = "pending"
	processedDirName = "processed"
)

// ErrNotFound is returned when the source or staged file is missing
var ErrNotFound = errors.New("file not found")

// Converter turns image data of the given MIME type into JPEG
type Converter func(data []byte, mimeType string) ([]byte, error)

// Stager moves receipt images from pending to processed under a root directory.
// Every move is a single rename, and each step skips work a previous
// interrupted run already finished.
type Stager struct {
	pendingDir   string
	processedDir string
	toJPEG       Converter
}

// NewStager creates the pending and processed directories under root
func NewStager(root string) (*Stager, error) {
	return NewStagerWithConverter(root, imaging.ToJPEG)
}

// NewStagerWithConverter creates a Stager with a custom HEIC converter for testing
func NewStagerWithConverter(root string, toJPEG Converter) (*Stager, error) {
	s := &Stager{
		pendingDir:   filepath.Join(root, pendingDirName),
		processedDir: filepath.Join(root, processedDirName),
		toJPEG:       toJPEG,
	}
	for _, dir := range []string{s.pendingDir, s.processedDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating staging directory: %w", err)
		}
	}
	return s, nil
}

// PendingDir returns the directory holding files awaiting processing
func (s *Stager) PendingDir() string {
	return s.pendingDir
}

// ProcessedDir returns the directory holding finished files
func (s *Stager) ProcessedDir() string {
	return s.processedDir
}

// Stage moves src into the pending directory and returns the staged path.
// If src is gone but a staged file of the same name exists, that file is
// returned so an interrupted run can resume.
func (s *Stager) Stage(src string) (string, error) {
	pendingPath := filepath.Join(s.pendingDir, filepath.Base(src))

	if samePath(src, pendingPath) {
		if !exists(pendingPath) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, pendingPath)
		}
		return pendingPath, nil
	}

	if !exists(src) {
		if exists(pendingPath) {
			slog.Info("Resuming already staged file", "path", pendingPath)
			return pendingPath, nil
		}
		return "", fmt.Errorf("%w: %s", ErrNotFound, src)
	}

	if exists(pendingPath) {
		// A file left by an earlier run keeps its name
		pendingPath = uniquePath(s.pendingDir, filepath.Base(src))
	}

	if err := move(src, pendingPath); err != nil {
		return "", fmt.Errorf("staging file: %w", err)
	}
	slog.Info("Moved file to pending directory", "path", pendingPath)
	return pendingPath, nil
}

// ConvertHEIC replaces a staged HEIC/HEIF file with a JPEG under the first
// free name in the same directory and returns the JPEG path. Other files are
// returned unchanged.
func (s *Stager) ConvertHEIC(pendingPath string) (string, error) {
	if !imaging.IsHEICPath(pendingPath) {
		return pendingPath, nil
	}

	info, err := os.Stat(pendingPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, pendingPath)
		}
		return "", fmt.Errorf("reading HEIC file: %w", err)
	}

	var jpegPath string
	if m, ok := readMarker(pendingPath, info); ok {
		if exists(m.JPEG) {
			// Converted before an interruption; only the cleanup is left
			if err := finishConversion(pendingPath); err != nil {
				return "", err
			}
			return m.JPEG, nil
		}
		jpegPath = m.JPEG
	}
	if jpegPath == "" || exists(jpegPath) {
		dir := filepath.Dir(pendingPath)
		jpegPath = uniquePath(dir, strings.TrimSuffix(filepath.Base(pendingPath), filepath.Ext(pendingPath))+".jpg")
	}

	if err := writeMarker(pendingPath, conversionMarker{JPEG: jpegPath, Size: info.Size(), ModTime: info.ModTime()}); err != nil {
		return "", fmt.Errorf("recording HEIC conversion: %w", err)
	}

	data, err := os.ReadFile(pendingPath)
	if err != nil {
		return "", fmt.Errorf("reading HEIC file: %w", err)
	}

	jpegData, err := s.toJPEG(data, imaging.ContentTypeForPath(pendingPath))
	if err != nil {
		return "", fmt.Errorf("converting HEIC to JPEG: %w", err)
	}

	if err := writeFileAtomic(jpegPath, jpegData); err != nil {
		return "", fmt.Errorf("writing JPEG: %w", err)
	}
	if err := finishConversion(pendingPath); err != nil {
		return "", err
	}

	slog.Info("Converted HEIC to JPEG", "path", jpegPath)
	return jpegPath, nil
}

// conversionMarker ties a HEIC file to the JPEG it is being converted into.
// Size and ModTime identify the HEIC so a marker left behind for an earlier
// file of the same name is ignored.
type conversionMarker struct {
	JPEG    string    `json:"jpeg"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

func markerPath(heicPath string) string {
	return filepath.Join(filepath.Dir(heicPath), "."+filepath.Base(heicPath)+".convert")
}

func writeMarker(heicPath string, m conversionMarker) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return writeFileAtomic(markerPath(heicPath), data)
}

// readMarker returns the marker for heicPath if it describes this exact file.
// Stale markers are removed.
func readMarker(heicPath string, info os.FileInfo) (conversionMarker, bool) {
	var m conversionMarker
	data, err := os.ReadFile(markerPath(heicPath))
	if err != nil {
		return m, false
	}
	if err := json.Unmarshal(data, &m); err != nil || m.Size != info.Size() || !m.ModTime.Equal(info.ModTime()) {
		slog.Warn("Ignoring stale HEIC conversion marker", "path", heicPath)
		os.Remove(markerPath(heicPath))
		return conversionMarker{}, false
	}
	return m, true
}

// finishConversion removes the HEIC file, then its marker
func finishConversion(heicPath string) error {
	if err := os.Remove(heicPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing converted HEIC: %w", err)
	}
	if err := os.Remove(markerPath(heicPath)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing conversion marker: %w", err)
	}
	return nil
}

// Complete moves a staged file into the processed directory, appending a
// numeric suffix when the name is already taken.
func (s *Stager) Complete(pendingPath string) (string, error) {
	if !exists(pendingPath) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, pendingPath)
	}

	dst := uniquePath(s.processedDir, filepath.Base(pendingPath))
	if err := move(pendingPath, dst); err != nil {
		return "", fmt.Errorf("moving file to processed directory: %w", err)
	}
	slog.Info("Moved file to processed directory", "path", dst)
	return dst, nil
}

// Run stages src, converts HEIC input, hands the staged path to process and
// completes the file once process succeeds. On failure the file stays in
// pending so a later run can pick it up.
func (s *Stager) Run(src string, process func(stagedPath string) error) (string, error) {
	staged, err := s.Stage(src)
	if err != nil {
		return "", err
	}

	staged, err = s.ConvertHEIC(staged)
	if err != nil {
		return "", err
	}

	if !exists(staged) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, staged)
	}

	if err := process(staged); err != nil {
		return "", err
	}

	return s.Complete(staged)
}

// Pending lists files left in the pending directory
func (s *Stager) Pending() ([]string, error) {
	entries, err := os.ReadDir(s.pendingDir)
	if err != nil {
		return nil, fmt.Errorf("reading pending directory: %w", err)
	}

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		paths = append(paths, filepath.Join(s.pendingDir, e.Name()))
	}
	return paths, nil
}

// uniquePath returns dir/name, or dir/name_N.ext for the first free N
func uniquePath(dir, name string) string {
	candidate := filepath.Join(dir, name)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for counter := 1; exists(candidate); counter++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, counter, ext))
	}
	return candidate
}

// move renames src to dst, falling back to copy-then-rename across devices
func move(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	tmp, err := copyToTemp(filepath.Dir(dst), in)
	if err != nil {
		return err
	}
	// Keep the original timestamps like a plain move would
	_ = os.Chtimes(tmp, info.ModTime(), info.ModTime())

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Remove(src)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := copyToTemp(filepath.Dir(path), bytes.NewReader(data))
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// copyToTemp writes r to a synced hidden temp file in dir and returns its path
func copyToTemp(dir string, r io.Reader) (string, error) {
	f, err := os.CreateTemp(dir, ".staging-*")
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
