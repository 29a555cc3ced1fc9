package frame

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// ReadCSV reads a frame whose first record is the header.
func ReadCSV(r io.Reader) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "unable to read csv header")
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "unable to read csv records")
	}

	return FromRecords(header, records)
}

// ReadCSVFile reads the CSV file at path.
func ReadCSVFile(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %s", path)
	}
	defer file.Close()

	f, err := ReadCSV(file)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read %s", path)
	}

	return f, nil
}

// WriteCSVFile writes f to path with a header row, creating parent directories.
func (f *Frame) WriteCSVFile(path string) error {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return errors.Wrapf(err, "unable to create directory for %s", path)
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "unable to create %s", path)
	}

	err = f.WriteCSV(file)
	if err != nil {
		file.Close()

		return errors.Wrapf(err, "unable to write %s", path)
	}

	return errors.Wrapf(file.Close(), "unable to close %s", path)
}

// WriteCSV writes f to w with a header row. Missing cells are written empty.
func (f *Frame) WriteCSV(w io.Writer) error {
	cw := NewCSVWriter(w)

	err := cw.Write(f)
	if err != nil {
		return err
	}

	return cw.Flush()
}

// CSVWriter writes frames with the same columns one after the other under a single header.
type CSVWriter struct {
	w       *csv.Writer
	columns []string
}

func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w)}
}

// Write appends the rows of f. The first frame written fixes the header.
func (cw *CSVWriter) Write(f *Frame) error {
	if cw.columns == nil {
		cw.columns = f.Columns()

		err := cw.w.Write(cw.columns)
		if err != nil {
			return errors.Wrap(err, "unable to write csv header")
		}
	}

	columns := make([]*Column, len(cw.columns))

	for i, name := range cw.columns {
		c, err := f.Column(name)
		if err != nil {
			return err
		}

		columns[i] = c
	}

	record := make([]string, len(columns))

	for r := range f.Len() {
		for i, c := range columns {
			record[i] = c.String(r)
		}

		err := cw.w.Write(record)
		if err != nil {
			return errors.Wrapf(err, "unable to write csv row %d", r+1)
		}
	}

	return nil
}

// Flush writes buffered rows to the underlying writer.
func (cw *CSVWriter) Flush() error {
	cw.w.Flush()

	return errors.Wrap(cw.w.Error(), "unable to flush csv")
}
