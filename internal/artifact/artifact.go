// Package artifact reads and writes the per-work-item CSV files flowing
// between the filter and score phases.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
)

// FilteredRow is one speech that passed through the filter phase for a
// (member, topic) pair, with the model's relevance estimate.
type FilteredRow struct {
	ID             int64   `csv:"id"`
	Text           string  `csv:"text"`
	RelevanceScore float64 `csv:"relevance_score"`
}

// ScoredRow is one fully scored speech in the final per-pair output.
type ScoredRow struct {
	ID        int64   `csv:"id"`
	Date      string  `csv:"date"`
	Topic     string  `csv:"topic"`
	Text      string  `csv:"text"`
	Rank      float64 `csv:"rank"`
	Reasoning string  `csv:"reasoning"`
}

// Store locates and persists phase artifacts on disk. Intermediate files
// hold filter output; client files hold the final scored output.
type Store struct {
	intermediateDir string
	clientDir       string
}

// NewStore returns a Store writing under the given directories.
func NewStore(intermediateDir, clientDir string) *Store {
	return &Store{intermediateDir: intermediateDir, clientDir: clientDir}
}

// FilteredPath returns the intermediate artifact path for a pair.
func (s *Store) FilteredPath(memberID int, topic string) string {
	return filepath.Join(s.intermediateDir, fmt.Sprintf("%d_%s_filtered.csv", memberID, topic))
}

// ScoredPath returns the final artifact path for a pair.
func (s *Store) ScoredPath(memberID int, topic string) string {
	return filepath.Join(s.clientDir, fmt.Sprint(memberID), topic+".csv")
}

// AppendFiltered merges rows into the pair's intermediate artifact. Rows
// are keyed by speech id: a row for an id already present replaces it, so
// re-running a chunk cannot double-append. The merged file is sorted by id
// for stable diffs.
func (s *Store) AppendFiltered(memberID int, topic string, rows []FilteredRow) error {
	if len(rows) == 0 {
		return nil
	}

	existing, err := s.ReadFiltered(memberID, topic)
	if err != nil {
		return err
	}

	merged := make(map[int64]FilteredRow, len(existing)+len(rows))
	for _, row := range existing {
		merged[row.ID] = row
	}
	for _, row := range rows {
		merged[row.ID] = row
	}

	out := make([]FilteredRow, 0, len(merged))
	for _, row := range merged {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return writeCSV(s.FilteredPath(memberID, topic), out)
}

// ReadFiltered loads the pair's intermediate artifact. A missing file
// yields no rows and no error.
func (s *Store) ReadFiltered(memberID int, topic string) ([]FilteredRow, error) {
	path := s.FilteredPath(memberID, topic)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: read %s", path)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var rows []FilteredRow
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, eris.Wrapf(err, "artifact: parse %s", path)
	}
	return rows, nil
}

// WriteScored replaces the pair's final artifact with the given rows.
func (s *Store) WriteScored(memberID int, topic string, rows []ScoredRow) error {
	return writeCSV(s.ScoredPath(memberID, topic), rows)
}

// ReadScored loads the pair's final artifact. A missing file yields no
// rows and no error.
func (s *Store) ReadScored(memberID int, topic string) ([]ScoredRow, error) {
	path := s.ScoredPath(memberID, topic)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: read %s", path)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var rows []ScoredRow
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, eris.Wrapf(err, "artifact: parse %s", path)
	}
	return rows, nil
}

// RemoveFiltered deletes the pair's intermediate artifact if present.
func (s *Store) RemoveFiltered(memberID int, topic string) error {
	err := os.Remove(s.FilteredPath(memberID, topic))
	if err != nil && !os.IsNotExist(err) {
		return eris.Wrapf(err, "artifact: remove %s", s.FilteredPath(memberID, topic))
	}
	return nil
}

func writeCSV[T any](path string, rows []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "artifact: create dir for %s", path)
	}
	data, err := csvutil.Marshal(rows)
	if err != nil {
		return eris.Wrapf(err, "artifact: marshal %s", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "artifact: write %s", path)
	}
	return nil
}
