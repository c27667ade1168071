// Package output delivers a finished report to its destination. An existing
// destination is renamed aside to "<path>.bak" before being replaced; this is
// not atomic, so a crash between the rename and the write leaves no file.
package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"tagquery/internal/logging"

	"go.uber.org/zap"
)

// ErrSink marks failures to open or write the destination.
var ErrSink = errors.New("output sink failed")

// BackupSuffix is appended to files that are about to be replaced.
const BackupSuffix = ".bak"

// Sink is a file path or, when the path is empty, a stream such as stdout.
type Sink struct {
	path   string
	stream io.Writer
	log    *zap.Logger
}

// New returns a sink writing to path, or to stream when path is empty.
func New(path string, stream io.Writer, log *zap.Logger) *Sink {
	return &Sink{path: path, stream: stream, log: logging.Named(log, logging.CategoryOutput)}
}

// Name describes the destination for logs and provenance.
func (s *Sink) Name() string {
	if s.path == "" {
		return "<stdout>"
	}
	return s.path
}

// IsFile reports whether the sink writes to a named file.
func (s *Sink) IsFile() bool {
	return s.path != ""
}

// Write delivers data in a single write.
func (s *Sink) Write(data []byte) error {
	if s.path == "" {
		if s.stream == nil {
			return fmt.Errorf("%w: no destination", ErrSink)
		}
		if _, err := s.stream.Write(data); err != nil {
			return fmt.Errorf("%w: %v", ErrSink, err)
		}
		return nil
	}
	return s.replace(s.path, data)
}

// WriteLog stores the provenance block next to the report, in LogPath.
// It is a no-op for stream sinks.
func (s *Sink) WriteLog(comments string) error {
	if s.path == "" {
		return nil
	}
	return s.replace(LogPath(s.path), []byte(comments))
}

func (s *Sink) replace(path string, data []byte) error {
	backup, err := Backup(path)
	if err != nil {
		return err
	}
	if backup != "" {
		s.log.Info("kept previous file", zap.String("path", path), zap.String("backup", backup))
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: failed to write %s: %v", ErrSink, path, err)
	}
	s.log.Debug("wrote file", zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}

// Backup renames an existing file at path to path+BackupSuffix, replacing
// any older backup. It returns the backup path, or "" when there was nothing
// to move.
func Backup(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrSink, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrSink, path)
	}
	backup := path + BackupSuffix
	if err := os.Rename(path, backup); err != nil {
		return "", fmt.Errorf("%w: failed to back up %s: %v", ErrSink, path, err)
	}
	return backup, nil
}

// Targets lists every file a sink for path may create or rename: the
// report, the log when withLog is set, and their backups. A stream sink
// touches no files.
func Targets(path string, withLog bool) []string {
	if path == "" {
		return nil
	}
	out := []string{path, path + BackupSuffix}
	if withLog {
		log := LogPath(path)
		out = append(out, log, log+BackupSuffix)
	}
	return out
}

// LogPath is the report path with its last extension replaced by ".log".
func LogPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".log"
}
