// Package dataset provides tabular transaction data for training and for the
// attribution baseline.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/opensource-finance/heron/internal/validation"
)

// ErrMissingColumns is returned when a projection names absent columns.
var ErrMissingColumns = errors.New("missing columns")

// Frame is a CSV table held as raw records. Columns are parsed on demand so
// auxiliary non-numeric columns (ids, dates, versions) can ride along.
type Frame struct {
	columns []string
	index   map[string]int
	records [][]string
}

// NewFrame creates an empty frame with the given header.
func NewFrame(columns []string) *Frame {
	f := &Frame{
		columns: append([]string(nil), columns...),
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		f.index[c] = i
	}
	return f
}

// Append adds one record. It must match the header width.
func (f *Frame) Append(record []string) error {
	if len(record) != len(f.columns) {
		return fmt.Errorf("record has %d fields, header has %d", len(record), len(f.columns))
	}
	f.records = append(f.records, record)
	return nil
}

// Columns returns the header.
func (f *Frame) Columns() []string {
	return f.columns
}

// Len returns the number of data rows.
func (f *Frame) Len() int {
	return len(f.records)
}

// Has reports whether the column exists.
func (f *Frame) Has(column string) bool {
	_, ok := f.index[column]
	return ok
}

// Value returns the raw cell, or "" when the column is absent.
func (f *Frame) Value(row int, column string) string {
	i, ok := f.index[column]
	if !ok {
		return ""
	}
	return f.records[row][i]
}

// Column parses one column as floats.
func (f *Frame) Column(column string) ([]float64, error) {
	rows, err := f.Project([]string{column})
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r[0]
	}
	return out, nil
}

// Project returns the named columns as float rows, in the given order.
func (f *Frame) Project(columns []string) ([][]float64, error) {
	idx := make([]int, len(columns))
	var missing []string
	for k, c := range columns {
		i, ok := f.index[c]
		if !ok {
			missing = append(missing, c)
			continue
		}
		idx[k] = i
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	rows := make([][]float64, len(f.records))
	for r, rec := range f.records {
		row := make([]float64, len(columns))
		for k, i := range idx {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", r+1, columns[k], err)
			}
			row[k] = v
		}
		rows[r] = row
	}
	return rows, nil
}

// Read parses CSV with a header row.
func Read(r io.Reader) (*Frame, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("empty csv: no header")
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	f := NewFrame(header)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading record: %w", err)
		}
		f.records = append(f.records, rec)
	}
	return f, nil
}

// Load reads a CSV file. An absent file is a MissingArtifactError.
func Load(path string) (*Frame, error) {
	if err := validation.FileExists(path); err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	f, err := Read(file)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return f, nil
}

// Write encodes the frame as CSV with a header.
func (f *Frame) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(f.columns); err != nil {
		return err
	}
	if err := cw.WriteAll(f.records); err != nil {
		return err
	}
	return cw.Error()
}

// Save writes the frame to path, creating parent directories.
func (f *Frame) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := f.Write(file); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return file.Close()
}

// Sample draws n rows without replacement using a seeded source.
// When n covers every row, all rows are returned in their original order.
func Sample(rows [][]float64, n int, seed int64) [][]float64 {
	if n >= len(rows) {
		return append([][]float64(nil), rows...)
	}
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(len(rows))[:n]
	sort.Ints(perm)

	out := make([][]float64, n)
	for i, p := range perm {
		out[i] = rows[p]
	}
	return out
}

// StratifiedSplit partitions row indices into train and test sets so both
// keep the label proportions of y. testSize is the held-out fraction.
func StratifiedSplit(y []float64, testSize float64, seed int64) (train, test []int) {
	byClass := make(map[float64][]int)
	var classes []float64
	for i, label := range y {
		if _, ok := byClass[label]; !ok {
			classes = append(classes, label)
		}
		byClass[label] = append(byClass[label], i)
	}
	sort.Float64s(classes)

	rng := rand.New(rand.NewSource(seed))
	for _, c := range classes {
		idx := byClass[c]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		nTest := int(math.Round(testSize * float64(len(idx))))
		if nTest >= len(idx) && len(idx) > 1 {
			nTest = len(idx) - 1
		}
		test = append(test, idx[:nTest]...)
		train = append(train, idx[nTest:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test
}

// Select returns the rows at the given indices.
func Select[T any](rows []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = rows[j]
	}
	return out
}
