// Package results persists the records written by test sequences. All the
// records of one run live in a single directory named after the BPM MAC
// address and the start time of the run.
package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rjboer/bpmtest/internal/logging"
)

// TimestampLayout names run directories, e.g. 20-12-2019_T_08-59-30.
const TimestampLayout = "02-01-2006_T_15-04-05"

// maxRunSuffix bounds the _2, _3, ... suffixes tried for runs started in
// the same second.
const maxRunSuffix = 100

var (
	// ErrExists is returned when a record is written twice.
	ErrExists = errors.New("record already written")
	// ErrNotFound is returned when a record is missing from the run.
	ErrNotFound = errors.New("record not found")
)

// Store reads and writes the records of one run directory.
type Store struct {
	dir string
	log logging.Logger
	// OnWrite, when set, is called with the file name after every write.
	OnWrite func(name string)
}

// RunDir returns <root>/<mac-with-dashes>/<timestamp>.
func RunDir(root, mac string, started time.Time) string {
	return filepath.Join(root, MACDir(mac), started.Format(TimestampLayout))
}

// MACDir turns a MAC address into the directory name used for it.
func MACDir(mac string) string {
	return strings.ReplaceAll(strings.TrimSpace(mac), ":", "-")
}

// Create makes a new run directory for the BPM with the given MAC address.
// The directory is always fresh: when RunDir is taken a numeric suffix is
// appended.
func Create(root, mac string, started time.Time, logger logging.Logger) (*Store, error) {
	base := RunDir(root, mac, started)
	if err := os.MkdirAll(filepath.Dir(base), 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}
	dir := base
	for i := 2; ; i++ {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return Open(dir, logger), nil
		}
		if !errors.Is(err, os.ErrExist) || i > maxRunSuffix {
			return nil, fmt.Errorf("create run directory: %w", err)
		}
		dir = fmt.Sprintf("%s_%d", base, i)
	}
}

// Open wraps an existing run directory.
func Open(dir string, logger logging.Logger) *Store {
	return &Store{
		dir: dir,
		log: logging.OrDefault(logger).With(logging.Component("results")),
	}
}

// Dir returns the run directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the full path of a file in the run directory.
func (s *Store) Path(name string) string { return filepath.Join(s.dir, name) }

// Exists reports whether name is present in the run directory.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// WriteJSON stores v as name. Records are immutable, so an existing file
// is never replaced.
func (s *Store) WriteJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	f, err := os.OpenFile(s.Path(name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s: %w", name, ErrExists)
		}
		return fmt.Errorf("write %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	s.log.Info("record written", logging.F("file", name), logging.F("bytes", len(data)))
	if s.OnWrite != nil {
		s.OnWrite(name)
	}
	return nil
}

// ReadJSON decodes the record name into v.
func (s *Store) ReadJSON(name string, v any) error {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}
