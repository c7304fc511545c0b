// Package snapshot decides whether the contents of external files have
// changed between observations.
//
// A Fingerprint is a comparable summary of one file's contents. The store
// trusts the operating system about modification times: an unchanged mtime
// means unchanged contents and the file is not re-read. When the mtime did
// move forward, the content hash settles the question, so a file rewritten
// with identical bytes still compares as unchanged.
//
// The store assumes it is the only observer of the watched files within a
// build. A file that vanishes after being seen, or whose mtime decreases,
// indicates a conflicting external process and is reported as an
// inconsistency rather than accepted.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// ErrInconsistent marks invariant violations in the filesystem state, as
// opposed to ordinary build failures. These are not recoverable locally.
var ErrInconsistent = errors.New("inconsistent filesystem state")

// EncodedSize is the width of the textual fingerprint encoding used in
// cache files.
const EncodedSize = 2 * sha256.Size

type state uint8

const (
	stateUnknown state = iota
	stateMissing
	stateHashed
)

// Fingerprint is an opaque, comparable snapshot of a file's content state.
// The zero value is Unknown.
type Fingerprint struct {
	state state
	sum   [sha256.Size]byte
}

// Unknown is the fingerprint of a file that has never been observed.
var Unknown = Fingerprint{}

// Missing is the fingerprint of a file that does not exist.
var Missing = Fingerprint{state: stateMissing}

var missingEncoding = strings.Repeat("-", EncodedSize)

// String renders the fingerprint in the fixed-width encoding used by cache
// files: a hex digest, or a reserved all-dashes literal for Missing.
func (f Fingerprint) String() string {
	switch f.state {
	case stateMissing:
		return missingEncoding
	case stateHashed:
		return hex.EncodeToString(f.sum[:])
	default:
		return strings.Repeat("?", EncodedSize)
	}
}

// Parse decodes the fixed-width encoding produced by String. Unknown is
// never persisted, so it is not a valid encoding.
func Parse(s string) (Fingerprint, error) {
	if len(s) != EncodedSize {
		return Unknown, fmt.Errorf("fingerprint must be %d characters, got %d", EncodedSize, len(s))
	}

	if s == missingEncoding {
		return Missing, nil
	}

	raw, err := hex.DecodeString(s)
	if err != nil {
		return Unknown, fmt.Errorf("invalid fingerprint encoding: %w", err)
	}

	f := Fingerprint{state: stateHashed}
	copy(f.sum[:], raw)

	return f, nil
}

// record is the cached observation for one path.
type record struct {
	mtime time.Time
	fp    Fingerprint
}

// Store memoizes fingerprints per path. Repeated lookups of an unchanged
// file do not re-read its bytes.
type Store struct {
	logger  *slog.Logger
	records map[string]*record
	reads   int
}

// NewStore creates an empty store.
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		logger:  logger.With("pkg", "snapshot"),
		records: make(map[string]*record),
	}
}

// Reads returns the number of full content reads performed so far. Tests
// use it to verify the mtime fast path.
func (s *Store) Reads() int {
	return s.reads
}

// Snapshot returns the fingerprint of the file at path. Distinct paths
// referring to the same file are not detected; that case is rare enough
// not to warrant resolving symlinks on every lookup.
func (s *Store) Snapshot(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Unknown, fmt.Errorf("stat %s: %w", path, err)
		}

		old, seen := s.records[path]
		if seen {
			if old.fp != Missing {
				return Unknown, fmt.Errorf("%w: %s has vanished", ErrInconsistent, path)
			}

			s.logger.Debug("file does not exist yet", "path", path)
			return Missing, nil
		}

		s.logger.Debug("file will be watched once created", "path", path)
		s.records[path] = &record{fp: Missing}

		return Missing, nil
	}

	mtime := info.ModTime()

	old, seen := s.records[path]
	if !seen {
		s.logger.Debug("file contents are now watched", "path", path)
		return s.rehash(path, mtime)
	}

	if old.fp == Missing {
		s.logger.Debug("file has been created", "path", path)
		return s.rehash(path, mtime)
	}

	if mtime.Equal(old.mtime) {
		s.logger.Debug("file has the same mtime", "path", path)
		return old.fp, nil
	}

	if mtime.Before(old.mtime) {
		return Unknown, fmt.Errorf("%w: %s mtime has decreased", ErrInconsistent, path)
	}

	fp, err := s.rehash(path, mtime)
	if err != nil {
		return Unknown, err
	}

	if fp == old.fp {
		s.logger.Debug("file rewritten with same contents", "path", path)
	} else {
		s.logger.Debug("file rewritten with new contents", "path", path)
	}

	return fp, nil
}

// rehash reads the file, records the result under the given mtime and
// returns the fresh fingerprint.
func (s *Store) rehash(path string, mtime time.Time) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return Unknown, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return Unknown, fmt.Errorf("hash %s: %w", path, err)
	}

	s.reads++

	fp := Fingerprint{state: stateHashed}
	h.Sum(fp.sum[:0])

	s.records[path] = &record{mtime: mtime, fp: fp}

	return fp, nil
}
