package masterconn

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// structureLogSink appends master-pushed changelog lines to
// "changelog_csback.0.<ext>" and rotates numbered backlogs on
// MATOCS_STRUCTURE_LOG_ROTATE: shift every "changelog_csback.N.mfs" up to
// N+1 (dropping anything past backLogsNumber), then start a fresh
// ".0.".
type structureLogSink struct {
	mu             sync.Mutex
	dir            string
	backLogsNumber int
	file           *os.File
}

const (
	structureLogBase = "changelog_csback"
	structureLogExt  = "mfs"
)

func newStructureLogSink(backLogsNumber int) *structureLogSink {
	return &structureLogSink{dir: ".", backLogsNumber: backLogsNumber}
}

func (s *structureLogSink) logName(n int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.%d.%s", structureLogBase, n, structureLogExt))
}

// Append opens (or reuses) changelog_csback.0.mfs in append mode and
// writes one "{version}: {text}\n" line.
func (s *structureLogSink) Append(version uint64, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		f, err := os.OpenFile(s.logName(0), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		s.file = f
	}
	_, err := fmt.Fprintf(s.file, "%d: %s\n", version, line)
	return err
}

// Rotate shifts every numbered backlog up by one and starts a fresh
// ".0.": for i from backLogsNumber down to 1, rename i-1 -> i, then,
// when backLogsNumber is 0, unlink .0. itself (the
// open descriptor is closed first so the rename/unlink can proceed on
// platforms where an open file can't be renamed out from under a writer).
func (s *structureLogSink) Rotate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	if s.backLogsNumber > 0 {
		for i := s.backLogsNumber; i > 0; i-- {
			os.Rename(s.logName(i-1), s.logName(i))
		}
	} else {
		os.Remove(s.logName(0))
	}
	return nil
}
