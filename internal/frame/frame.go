// Package frame is a small column-oriented table read from and written to CSV.
//
// A cell is either missing or holds a value. Columns start as text and are
// converted to numbers with ToFloat; missing numbers are NaN.
package frame

import (
	"math"
	"math/rand/v2"
	"slices"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Missing is the sentinel cell value read as a missing value.
const Missing = "na"

// missingTokens are the cells read as missing besides Missing, the same
// default set pandas uses.
var missingTokens = map[string]struct{}{
	"": {}, Missing: {},
	"#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {},
	"N/A": {}, "NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {},
	"nan": {}, "null": {},
}

var (
	// ErrColumnNotFound is returned when a named column is not in the frame.
	ErrColumnNotFound = errors.New("column not found")
	// ErrLengthMismatch is returned when a column does not have one value per row.
	ErrLengthMismatch = errors.New("column length does not match the frame")
	// ErrDuplicateColumn is returned when a column name is used twice.
	ErrDuplicateColumn = errors.New("duplicate column")
)

// Frame holds named columns of equal length.
type Frame struct {
	columns []*Column
	index   map[string]int
	rows    int
}

// New returns an empty frame with the given row count.
func New(rows int) *Frame {
	return &Frame{index: make(map[string]int), rows: rows}
}

// FromRecords builds a text frame from a header and rows of cells.
// "na", empty cells and the usual null tokens ("NaN", "NULL", "N/A"...) are missing.
func FromRecords(header []string, records [][]string) (*Frame, error) {
	f := New(len(records))

	for i, name := range header {
		values := make([]string, len(records))
		missing := make([]bool, len(records))

		for r, record := range records {
			if len(record) != len(header) {
				return nil, errors.Wrapf(ErrLengthMismatch, "row %d has %d cells, header has %d", r+1, len(record), len(header))
			}

			values[r] = record[i]
			missing[r] = isMissing(record[i])
		}

		err := f.add(&Column{name: name, text: values, missing: missing})
		if err != nil {
			return nil, err
		}
	}

	return f, nil
}

func isMissing(cell string) bool {
	_, ok := missingTokens[cell]

	return ok
}

func (f *Frame) add(c *Column) error {
	if _, ok := f.index[c.name]; ok {
		return errors.Wrap(ErrDuplicateColumn, c.name)
	}

	if c.Len() != f.rows {
		return errors.Wrapf(ErrLengthMismatch, "column %s has %d values, frame has %d rows", c.name, c.Len(), f.rows)
	}

	f.index[c.name] = len(f.columns)
	f.columns = append(f.columns, c)

	return nil
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return f.rows
}

// Columns returns the column names in order.
func (f *Frame) Columns() []string {
	names := make([]string, len(f.columns))
	for i, c := range f.columns {
		names[i] = c.name
	}

	return names
}

// Has reports whether the column exists.
func (f *Frame) Has(name string) bool {
	_, ok := f.index[name]

	return ok
}

// Column returns the named column.
func (f *Frame) Column(name string) (*Column, error) {
	i, ok := f.index[name]
	if !ok {
		return nil, errors.Wrap(ErrColumnNotFound, name)
	}

	return f.columns[i], nil
}

// Drop removes the named columns. Unknown names are ignored.
func (f *Frame) Drop(names ...string) {
	if len(names) == 0 {
		return
	}

	kept := f.columns[:0]

	for _, c := range f.columns {
		if !slices.Contains(names, c.name) {
			kept = append(kept, c)
		}
	}

	f.columns = kept
	f.reindex()
}

func (f *Frame) reindex() {
	f.index = make(map[string]int, len(f.columns))
	for i, c := range f.columns {
		f.index[c.name] = i
	}
}

// Select returns a frame with only the named columns, in the given order.
// Columns are shared with f.
func (f *Frame) Select(names ...string) (*Frame, error) {
	out := New(f.rows)

	for _, name := range names {
		c, err := f.Column(name)
		if err != nil {
			return nil, err
		}

		err = out.add(c)
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

// AppendFloats adds a numeric column.
func (f *Frame) AppendFloats(name string, values []float64) error {
	return f.add(newFloatColumn(name, slices.Clone(values)))
}

// AppendStrings adds a text column.
func (f *Frame) AppendStrings(name string, values []string) error {
	missing := make([]bool, len(values))
	for i, v := range values {
		missing[i] = isMissing(v)
	}

	return f.add(&Column{name: name, text: slices.Clone(values), missing: missing})
}

// ToFloat converts every column but the excluded ones to numbers.
func (f *Frame) ToFloat(exclude ...string) error {
	for _, c := range f.columns {
		if slices.Contains(exclude, c.name) {
			continue
		}

		err := c.toFloat()
		if err != nil {
			return err
		}
	}

	return nil
}

// Take returns the given rows, in order, as a new frame.
func (f *Frame) Take(rows []int) *Frame {
	out := New(len(rows))
	for _, c := range f.columns {
		out.columns = append(out.columns, c.take(rows))
	}

	out.reindex()

	return out
}

// Slice returns rows [from, to).
func (f *Frame) Slice(from, to int) *Frame {
	from = max(0, min(from, f.rows))
	to = max(from, min(to, f.rows))

	rows := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		rows = append(rows, i)
	}

	return f.Take(rows)
}

// Split shuffles the rows with seed and returns the train and test parts.
// The test part holds ceil(testSize*Len()) rows.
func (f *Frame) Split(testSize float64, seed uint64) (*Frame, *Frame) {
	rng := rand.New(rand.NewPCG(seed, seed)) //nolint:gosec
	perm := rng.Perm(f.rows)

	nTest := int(math.Ceil(testSize * float64(f.rows)))
	nTest = max(0, min(nTest, f.rows))

	return f.Take(perm[nTest:]), f.Take(perm[:nTest])
}

// Matrix returns the named numeric columns as a rows x len(names) matrix.
// Missing values are NaN.
func (f *Frame) Matrix(names ...string) (*mat.Dense, error) {
	if f.rows == 0 || len(names) == 0 {
		return nil, errors.New("empty matrix")
	}

	m := mat.NewDense(f.rows, len(names), nil)

	for j, name := range names {
		values, err := f.Floats(name)
		if err != nil {
			return nil, err
		}

		m.SetCol(j, values)
	}

	return m, nil
}

// Floats returns the named column as numbers.
func (f *Frame) Floats(name string) ([]float64, error) {
	c, err := f.Column(name)
	if err != nil {
		return nil, err
	}

	return c.Floats()
}

// Column is a named vector of cells.
type Column struct {
	name    string
	text    []string
	numbers []float64
	missing []bool
	numeric bool
}

func newFloatColumn(name string, values []float64) *Column {
	missing := make([]bool, len(values))
	for i, v := range values {
		missing[i] = math.IsNaN(v)
	}

	return &Column{name: name, numbers: values, missing: missing, numeric: true}
}

func (c *Column) Name() string {
	return c.name
}

func (c *Column) Len() int {
	return len(c.missing)
}

// IsNumeric reports whether the column has been converted to numbers.
func (c *Column) IsNumeric() bool {
	return c.numeric
}

func (c *Column) IsMissing(i int) bool {
	return c.missing[i]
}

// MissingCount returns the number of missing cells.
func (c *Column) MissingCount() int {
	count := 0

	for _, m := range c.missing {
		if m {
			count++
		}
	}

	return count
}

// MissingFraction returns the share of missing cells, 0 for an empty column.
func (c *Column) MissingFraction() float64 {
	if c.Len() == 0 {
		return 0
	}

	return float64(c.MissingCount()) / float64(c.Len())
}

// String returns cell i as text, empty when missing.
func (c *Column) String(i int) string {
	switch {
	case c.missing[i]:
		return ""
	case c.numeric:
		return strconv.FormatFloat(c.numbers[i], 'g', -1, 64)
	default:
		return c.text[i]
	}
}

// Strings returns the cells as text, empty when missing.
func (c *Column) Strings() []string {
	out := make([]string, c.Len())
	for i := range out {
		out[i] = c.String(i)
	}

	return out
}

// Floats returns the cells as numbers, NaN when missing. Text columns are
// parsed; a cell that parses to NaN counts as missing once converted by ToFloat.
func (c *Column) Floats() ([]float64, error) {
	if c.numeric {
		return slices.Clone(c.numbers), nil
	}

	out := make([]float64, c.Len())

	for i, cell := range c.text {
		if c.missing[i] {
			out[i] = math.NaN()

			continue
		}

		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "column %s row %d", c.name, i+1)
		}

		out[i] = v
	}

	return out, nil
}

func (c *Column) toFloat() error {
	if c.numeric {
		return nil
	}

	numbers, err := c.Floats()
	if err != nil {
		return err
	}

	for i, v := range numbers {
		if math.IsNaN(v) {
			c.missing[i] = true
		}
	}

	c.numbers = numbers
	c.text = nil
	c.numeric = true

	return nil
}

func (c *Column) take(rows []int) *Column {
	out := &Column{name: c.name, numeric: c.numeric, missing: make([]bool, len(rows))}

	if c.numeric {
		out.numbers = make([]float64, len(rows))
	} else {
		out.text = make([]string, len(rows))
	}

	for i, r := range rows {
		out.missing[i] = c.missing[r]

		if c.numeric {
			out.numbers[i] = c.numbers[r]
		} else {
			out.text[i] = c.text[r]
		}
	}

	return out
}
