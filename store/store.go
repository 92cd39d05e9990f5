// Package store reads and patches the JSON record file and mirrors each
// record's statement into a Lean source file.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// StatementField is the record field holding the Lean statement.
const StatementField = "main theorem statement"

const recordsKey = "records"

var (
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrNotFound        = errors.New("records file not found")
)

type Store struct {
	path      string
	blocksDir string

	mu    sync.Mutex // serializes writers
	cache *cache.Cache
}

// Open returns a store over the records file at path. Block files are
// written to blocksDir. Parsed records are cached for ttl.
func Open(path, blocksDir string, ttl time.Duration) *Store {
	return &Store{
		path:      path,
		blocksDir: blocksDir,
		cache:     cache.New(ttl, 2*ttl),
	}
}

func (s *Store) Path() string { return s.path }

// Raw returns the records file contents.
func (s *Store) Raw() ([]byte, error) {
	if data, ok := s.cache.Get(recordsKey); ok {
		return data.([]byte), nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%s: invalid JSON", s.path)
	}
	s.cache.SetDefault(recordsKey, data)
	return data, nil
}

// Len returns the number of records.
func (s *Store) Len() (int, error) {
	data, err := s.Raw()
	if err != nil {
		return 0, err
	}
	return int(gjson.GetBytes(data, "#").Int()), nil
}

func fieldPath(index int) string {
	return strconv.Itoa(index-1) + "." + escape(StatementField)
}

// StatementOf returns the statement field of a single encoded record.
func StatementOf(record []byte) string {
	return gjson.GetBytes(record, escape(StatementField)).String()
}

// escape quotes the characters gjson and sjson treat as path syntax.
func escape(field string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return r.Replace(field)
}

func (s *Store) record(data []byte, index int) (gjson.Result, error) {
	n := int(gjson.GetBytes(data, "#").Int())
	if index < 1 || index > n {
		return gjson.Result{}, fmt.Errorf("record %d of %d: %w", index, n, ErrIndexOutOfRange)
	}
	rec := gjson.GetBytes(data, strconv.Itoa(index-1))
	if !rec.IsObject() {
		return gjson.Result{}, fmt.Errorf("record %d is not an object: %w", index, ErrIndexOutOfRange)
	}
	return rec, nil
}

// Statement returns the statement of the 1-based record index.
func (s *Store) Statement(index int) (string, error) {
	data, err := s.Raw()
	if err != nil {
		return "", err
	}
	if _, err := s.record(data, index); err != nil {
		return "", err
	}
	return gjson.GetBytes(data, fieldPath(index)).String(), nil
}

// Update sets the statement of record index to code, leaving the rest of
// the file untouched, and rewrites the record's block file.
func (s *Store) Update(index int, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.Raw()
	if err != nil {
		return err
	}
	if _, err := s.record(data, index); err != nil {
		return err
	}
	patched, err := sjson.SetBytes(data, fieldPath(index), code)
	if err != nil {
		return fmt.Errorf("patching record %d: %w", index, err)
	}
	if err := writeFileAtomic(s.path, patched); err != nil {
		return err
	}
	s.cache.Delete(recordsKey)

	_, err = s.WriteBlock(index, code)
	return err
}

// BlockPath returns the block file of record index.
func (s *Store) BlockPath(index int) string {
	return filepath.Join(s.blocksDir, fmt.Sprintf("Block_%03d.lean", index))
}

// WriteBlock writes code to the block file of record index, ending it with a
// newline.
func (s *Store) WriteBlock(index int, code string) (string, error) {
	path := s.BlockPath(index)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(withNewline(code)), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func withNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
