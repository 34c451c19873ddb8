// Package feed reads the rows of an external data feed and turns them into the
// action groups a sync policy executes.
//
// A feed is a table whose first row names the columns. Besides the record's own
// fields every row carries the reserved columns action_flags, match_on and
// external_key. CSV (UTF-8, with or without BOM) and XLSX files are supported.
package feed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrUnsupportedFormat is returned by Open for files that are neither CSV nor XLSX
var ErrUnsupportedFormat = errors.New("unsupported feed format")

// ErrNoHeader is returned for feeds without a header row
var ErrNoHeader = errors.New("feed has no header row")

// Reader yields the rows of a feed keyed by column name. Next returns io.EOF
// after the last row.
type Reader interface {
	Header() []string
	Next() (map[string]string, error)
	Close() error
}

// Open opens the feed at path, choosing the format from the file extension
func Open(path string) (Reader, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".csv" && ext != ".xlsx" && ext != ".xlsm" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open feed: %w", err)
	}

	var r Reader
	if ext == ".csv" {
		r, err = NewCSVReader(f)
	} else {
		r, err = NewXLSXReader(f, "")
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	return &fileReader{Reader: r, file: f}, nil
}

type fileReader struct {
	Reader
	file *os.File
}

func (r *fileReader) Line() int {
	if l, ok := r.Reader.(liner); ok {
		return l.Line()
	}
	return 0
}

func (r *fileReader) Close() error {
	return errors.Join(r.Reader.Close(), r.file.Close())
}

// ==================== CSV ====================

// CSVReader reads comma separated feeds. Rows shorter than the header are
// padded with empty values and extra cells are ignored.
type CSVReader struct {
	csv    *csv.Reader
	header []string
	line   int
}

// NewCSVReader reads the header row of r. A leading UTF-8 or UTF-16 byte order
// mark is honoured and stripped.
func NewCSVReader(r io.Reader) (*CSVReader, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	c := csv.NewReader(decoded)
	c.FieldsPerRecord = -1
	c.ReuseRecord = true

	header, err := c.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	return &CSVReader{csv: c, header: cleanHeader(header)}, nil
}

func (r *CSVReader) Header() []string {
	return r.header
}

func (r *CSVReader) Next() (map[string]string, error) {
	record, err := r.csv.Read()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV row: %w", err)
	}
	r.line, _ = r.csv.FieldPos(0)
	return zip(r.header, record), nil
}

// Line returns the line the last row read started on
func (r *CSVReader) Line() int {
	return r.line
}

func (r *CSVReader) Close() error {
	return nil
}

// ==================== XLSX ====================

// XLSXReader reads one sheet of a workbook. Empty rows are skipped.
type XLSXReader struct {
	file   *excelize.File
	rows   *excelize.Rows
	header []string
	line   int
}

// NewXLSXReader opens the workbook in r and reads the header of sheet, or of
// the first sheet when sheet is empty
func NewXLSXReader(r io.Reader, sheet string) (*XLSXReader, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			f.Close()
			return nil, errors.New("workbook has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}

	x := &XLSXReader{file: f, rows: rows}
	header, err := x.next()
	if err != nil {
		x.Close()
		if errors.Is(err, io.EOF) {
			return nil, ErrNoHeader
		}
		return nil, err
	}
	x.header = cleanHeader(header)
	return x, nil
}

func (r *XLSXReader) Header() []string {
	return r.header
}

func (r *XLSXReader) Next() (map[string]string, error) {
	cells, err := r.next()
	if err != nil {
		return nil, err
	}
	return zip(r.header, cells), nil
}

// Line returns the sheet row number of the last row read
func (r *XLSXReader) Line() int {
	return r.line
}

func (r *XLSXReader) next() ([]string, error) {
	for r.rows.Next() {
		r.line++
		cells, err := r.rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", r.line, err)
		}
		if !blank(cells) {
			return cells, nil
		}
	}
	if err := r.rows.Error(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return nil, io.EOF
}

func (r *XLSXReader) Close() error {
	return errors.Join(r.rows.Close(), r.file.Close())
}

func cleanHeader(header []string) []string {
	out := make([]string, len(header))
	for i, name := range header {
		out[i] = strings.TrimSpace(name)
	}
	return out
}

func zip(header, cells []string) map[string]string {
	row := make(map[string]string, len(header))
	for i, name := range header {
		if name == "" {
			continue
		}
		if i < len(cells) {
			row[name] = cells[i]
		} else {
			row[name] = ""
		}
	}
	return row
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
