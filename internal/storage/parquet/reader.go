package parquet

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/feedvault/feedvault/internal/storage/types"
)

// ErrSchemaMismatch is returned when a file's columns differ from the bar
// storage schema.
var ErrSchemaMismatch = fmt.Errorf("parquet schema mismatch")

// BarReader reads bars from a Parquet file.
type BarReader struct {
	file    *os.File
	reader  *parquet.GenericReader[BarRow]
	path    string
	numRows int64
}

// NewBarReader opens a Parquet file for reading. The footer is parsed and
// the column set checked before any rows are decoded, so a truncated or
// foreign file fails here rather than mid-read.
func NewBarReader(path string) (*BarReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	pf, err := parquet.OpenFile(f, stat.Size(), parquet.ReadBufferSize(1024*1024))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	if err := checkBarSchema(pf.Schema()); err != nil {
		f.Close()
		return nil, err
	}

	reader := parquet.NewGenericReader[BarRow](pf)

	return &BarReader{
		file:    f,
		reader:  reader,
		path:    path,
		numRows: reader.NumRows(),
	}, nil
}

// checkBarSchema verifies the file carries exactly the bar columns.
func checkBarSchema(schema *parquet.Schema) error {
	want := BarColumns()
	fields := schema.Fields()

	have := make(map[string]bool, len(fields))
	for _, f := range fields {
		have[f.Name()] = true
	}

	for _, name := range want {
		if !have[name] {
			return fmt.Errorf("%w: missing column %q", ErrSchemaMismatch, name)
		}
	}
	if len(fields) != len(want) {
		return fmt.Errorf("%w: %d columns, want %d", ErrSchemaMismatch, len(fields), len(want))
	}
	return nil
}

// Read reads up to n bars from the file.
func (r *BarReader) Read(n int) ([]types.Bar, error) {
	rows := make([]BarRow, n)
	count, err := r.reader.Read(rows)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if count == 0 && err == io.EOF {
		return nil, io.EOF
	}

	bars := make([]types.Bar, count)
	for i := 0; i < count; i++ {
		bars[i] = RowToBar(&rows[i])
	}

	return bars, nil
}

// ReadAll reads all bars from the file.
func (r *BarReader) ReadAll() ([]types.Bar, error) {
	if r.numRows == 0 {
		return nil, nil
	}

	rows := make([]BarRow, r.numRows)
	n, err := r.reader.Read(rows)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if int64(n) != r.numRows {
		return nil, fmt.Errorf("short read: got %d rows, want %d", n, r.numRows)
	}

	bars := make([]types.Bar, n)
	for i := 0; i < n; i++ {
		bars[i] = RowToBar(&rows[i])
	}

	return bars, nil
}

// NumRows returns the total number of rows in the file.
func (r *BarReader) NumRows() int64 {
	return r.numRows
}

// Close closes the reader.
func (r *BarReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *BarReader) Path() string {
	return r.path
}

// ReadBarFile reads every bar from the file at path.
func ReadBarFile(path string) ([]types.Bar, error) {
	r, err := NewBarReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.ReadAll()
}

// FileInfo holds information about a Parquet file.
type FileInfo struct {
	Path    string
	Size    int64
	NumRows int64
}

// GetFileInfo returns information about a Parquet file without decoding rows.
func GetFileInfo(path string) (*FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	return &FileInfo{
		Path:    path,
		Size:    stat.Size(),
		NumRows: pf.NumRows(),
	}, nil
}
