// Package statefile persists the engine's small durable records as JSON
// files with atomic replace-on-save.
//
// Corruption policy: a record that is missing or fails to parse loads as
// the caller's default value. The limiter must never refuse to run
// because its bookkeeping file went bad; worst case the warm-up curve
// restarts from day zero.
//
// The store assumes a single writing process. It provides no inter-process
// locking; that is an operating precondition, not a runtime check.
package statefile

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"

	logx "outreach/pkg/logx"
)

type Store struct {
	dir string
	log logx.Logger
}

func New(dir string, log logx.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("statefile: dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{dir: dir, log: log}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// Load reads the named record into out, which must be a non-nil
// pointer. A missing file leaves out untouched and returns false. A
// file that cannot be parsed also leaves out untouched and returns
// false: decoding runs against a scratch copy that is only written back
// on success, so a half-parsed file cannot leak partial values into the
// caller's defaults. Unknown fields in the file are ignored, missing
// fields keep their defaults, so old state files survive schema growth.
func (s *Store) Load(name string, out any) bool {
	path := s.path(name)
	b, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Info("state file unreadable; starting fresh", logx.String("path", path), logx.Err(err))
		}
		return false
	}

	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		s.log.Warn("state record target is not a pointer", logx.String("path", path))
		return false
	}
	scratch := reflect.New(rv.Elem().Type())
	scratch.Elem().Set(rv.Elem())
	if err := json.Unmarshal(b, scratch.Interface()); err != nil {
		s.log.Info("state file corrupt; starting fresh", logx.String("path", path), logx.Err(err))
		return false
	}
	rv.Elem().Set(scratch.Elem())
	return true
}

// Save writes the record to a temporary file and renames it into place,
// so a crash mid-write or a concurrent reader never sees a partial record.
func (s *Store) Save(name string, v any) error {
	path := s.path(name)
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
