// Package coverage stores JavaScript line coverage collected from debugger
// sessions.
//
// A Store maps source names to instrumented lines and whether each line was
// hit. Values only move from not-hit to hit: results loaded from an existing
// file are merged with, never overwritten by, a new session. The file format
// is a JSON object:
//
//	{ "<source>": { "<line>": true|false, ... }, ... }
package coverage

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/google/go-dap"

	"github.com/ctagard/jerry-coverage/internal/errors"
	"github.com/ctagard/jerry-coverage/pkg/types"
)

// Store accumulates per-source, per-line hit flags. It is owned by a single
// session and is not safe for concurrent use.
type Store struct {
	path  string
	files map[string]map[uint32]bool
}

// NewStore creates an empty store that saves to path.
func NewStore(path string) *Store {
	return &Store{
		path:  path,
		files: make(map[string]map[uint32]bool),
	}
}

// Load creates a store for path, merging in the results already saved
// there. A missing file yields an empty store.
func Load(path string) (*Store, error) {
	s := NewStore(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errors.CoverageIO(path, err)
	}

	if err := s.merge(data); err != nil {
		return nil, errors.CoverageIO(path, err)
	}
	return s, nil
}

func (s *Store) merge(data []byte) error {
	var raw map[string]map[string]bool
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	for source, lines := range raw {
		bucket := s.bucket(source)
		for key, hit := range lines {
			line, err := strconv.ParseUint(key, 10, 32)
			if err != nil {
				return errors.InvalidParameter("line", key, "a decimal line number")
			}
			bucket[uint32(line)] = bucket[uint32(line)] || hit
		}
	}
	return nil
}

// bucket returns the line table of source, creating it.
func (s *Store) bucket(source string) map[uint32]bool {
	lines, ok := s.files[source]
	if !ok {
		lines = make(map[uint32]bool)
		s.files[source] = lines
	}
	return lines
}

// Path returns the file the store saves to.
func (s *Store) Path() string {
	return s.path
}

// Seed records lines of source as instrumented. Lines that already have a
// value keep it.
func (s *Store) Seed(source string, lines []uint32) {
	bucket := s.bucket(source)
	for _, line := range lines {
		if _, ok := bucket[line]; !ok {
			bucket[line] = false
		}
	}
}

// MarkHit records line of source as hit.
func (s *Store) MarkHit(source string, line uint32) {
	s.bucket(source)[line] = true
}

// Hit reports whether line of source is known and was hit.
func (s *Store) Hit(source string, line uint32) (hit bool, known bool) {
	hit, known = s.files[source][line]
	return hit, known
}

// Snapshot returns a copy of the coverage table.
func (s *Store) Snapshot() map[string]map[uint32]bool {
	out := make(map[string]map[uint32]bool, len(s.files))
	for source, lines := range s.files {
		copied := make(map[uint32]bool, len(lines))
		for line, hit := range lines {
			copied[line] = hit
		}
		out[source] = copied
	}
	return out
}

// Sources returns the source names in ascending order.
func (s *Store) Sources() []string {
	sources := make([]string, 0, len(s.files))
	for source := range s.files {
		sources = append(sources, source)
	}
	sort.Strings(sources)
	return sources
}

// MarshalJSON encodes the table with sources in ascending order and line
// keys in ascending numeric order.
func (s *Store) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, source := range s.Sources() {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(source)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteString(":{")

		lines := s.files[source]
		for j, line := range sortedLines(lines) {
			if j > 0 {
				buf.WriteByte(',')
			}
			buf.WriteByte('"')
			buf.WriteString(strconv.FormatUint(uint64(line), 10))
			buf.WriteString(`":`)
			buf.WriteString(strconv.FormatBool(lines[line]))
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Save writes the table to the store's path, replacing the file atomically.
func (s *Store) Save() error {
	data, err := s.MarshalJSON()
	if err != nil {
		return errors.CoverageIO(s.path, err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.CoverageIO(s.path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.CoverageIO(s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.CoverageIO(s.path, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.CoverageIO(s.path, err)
	}
	return nil
}

// Summary returns hit and instrumented line counts per source.
func (s *Store) Summary() []types.FileCoverage {
	snapshot := s.Snapshot()

	summary := make([]types.FileCoverage, 0, len(snapshot))
	for _, source := range sortedKeys(snapshot) {
		lines := snapshot[source]
		fc := types.FileCoverage{Source: source, Lines: len(lines)}
		for _, hit := range lines {
			if hit {
				fc.Hit++
			}
		}
		if fc.Lines > 0 {
			fc.Percent = float64(fc.Hit) * 100 / float64(fc.Lines)
		}
		summary = append(summary, fc)
	}
	return summary
}

// FileReport is the coverage of one source in Debug Adapter Protocol form:
// each instrumented line is a breakpoint, verified when the line was hit.
type FileReport struct {
	Source      dap.Source       `json:"source"`
	Breakpoints []dap.Breakpoint `json:"breakpoints"`
}

// Report returns the coverage of every source in Debug Adapter Protocol form.
func (s *Store) Report() []FileReport {
	snapshot := s.Snapshot()

	reports := make([]FileReport, 0, len(snapshot))
	for _, source := range sortedKeys(snapshot) {
		lines := snapshot[source]

		numbers := sortedLines(lines)

		src := dap.Source{Name: filepath.Base(source), Path: source}
		report := FileReport{Source: src, Breakpoints: make([]dap.Breakpoint, 0, len(numbers))}
		for i, line := range numbers {
			bp := dap.Breakpoint{
				Id:       i + 1,
				Verified: lines[line],
				Line:     int(line),
				Source:   &src,
			}
			if !bp.Verified {
				bp.Message = "line not executed"
			}
			report.Breakpoints = append(report.Breakpoints, bp)
		}
		reports = append(reports, report)
	}
	return reports
}

func sortedKeys(m map[string]map[uint32]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedLines(lines map[uint32]bool) []uint32 {
	numbers := make([]uint32, 0, len(lines))
	for line := range lines {
		numbers = append(numbers, line)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	return numbers
}
