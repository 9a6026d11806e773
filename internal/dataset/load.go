// Package dataset reads effort uploads into records and writes annotated
// results back out as CSV or XLSX.
package dataset

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/effort-cli/internal/model"
)

// MaxFileSize is the largest upload Load accepts.
const MaxFileSize = 50 << 20

// Load reads the upload at path, dispatching on its extension.
func Load(ctx context.Context, path string) (*model.Dataset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: stat %s", path)
	}
	if info.Size() > MaxFileSize {
		return nil, eris.Errorf("dataset: %s is %d bytes, limit is %d", path, info.Size(), MaxFileSize)
	}

	var header []string
	var rows [][]string
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "dataset: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		header, rows, err = ReadCSV(ctx, f)
		if err != nil {
			return nil, err
		}
	case ".xlsx":
		header, rows, err = ReadXLSX(ctx, path)
		if err != nil {
			return nil, err
		}
	case ".xls":
		return nil, eris.Errorf("dataset: legacy .xls workbooks are not supported, save %s as .xlsx", filepath.Base(path))
	default:
		return nil, eris.Errorf("dataset: unsupported file type %q (use .csv or .xlsx)", ext)
	}

	ds, err := Parse(header, rows)
	if err != nil {
		return nil, err
	}
	zap.L().Info("dataset: loaded",
		zap.String("path", path),
		zap.Int("rows", ds.Len()),
		zap.Int("columns", len(ds.Columns)),
	)
	return ds, nil
}

// ReadCSV reads a whole CSV upload. The bytes are decoded as UTF-8 when
// valid, otherwise as windows-1252, falling back to ISO-8859-1. A header
// with no commas but with semicolons switches the delimiter.
func ReadCSV(ctx context.Context, r io.Reader) ([]string, [][]string, error) {
	raw, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return nil, nil, eris.Wrap(err, "csv: read")
	}
	if len(raw) > MaxFileSize {
		return nil, nil, eris.Errorf("csv: upload exceeds %d bytes", MaxFileSize)
	}

	text, charset, err := decode(raw)
	if err != nil {
		return nil, nil, err
	}
	text = strings.TrimPrefix(text, "\ufeff")

	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	if first, _, _ := strings.Cut(text, "\n"); !strings.Contains(first, ",") && strings.Contains(first, ";") {
		reader.Comma = ';'
	}

	var header []string
	var rows [][]string
	for {
		if ctx.Err() != nil {
			return nil, nil, eris.Wrap(ctx.Err(), "csv: context cancelled")
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, eris.Wrap(err, "csv: read row")
		}
		if header == nil {
			header = record
			continue
		}
		rows = append(rows, record)
	}
	if header == nil {
		return nil, nil, eris.New("csv: file is empty")
	}

	zap.L().Debug("dataset: csv decoded", zap.String("charset", charset), zap.Int("rows", len(rows)))
	return header, rows, nil
}

func decode(raw []byte) (string, string, error) {
	if utf8.Valid(raw) {
		return string(raw), "utf-8", nil
	}
	candidates := []struct {
		name string
		enc  func() (encoding.Encoding, error)
	}{
		{"windows-1252", func() (encoding.Encoding, error) { return htmlindex.Get("windows-1252") }},
		{"iso-8859-1", func() (encoding.Encoding, error) { return charmap.ISO8859_1, nil }},
	}
	for _, c := range candidates {
		enc, err := c.enc()
		if err != nil {
			continue
		}
		out, err := enc.NewDecoder().Bytes(raw)
		if err != nil {
			continue
		}
		return string(out), c.name, nil
	}
	return "", "", eris.New("csv: could not decode file with any supported encoding")
}

// ReadXLSX reads the first sheet of a workbook. Numeric cells in the effort
// date column are Excel serial dates and are converted to ISO timestamps.
func ReadXLSX(ctx context.Context, path string) ([]string, [][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, nil, eris.Wrap(err, "xlsx: open file")
	}
	if len(f.Sheets) == 0 {
		return nil, nil, eris.New("xlsx: workbook has no sheets")
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, nil, eris.New("xlsx: sheet is empty")
	}

	header := rowToStrings(sheet.Rows[0], -1, false)
	dateCol := -1
	for i, h := range header {
		if strings.TrimSpace(h) == model.ColEffortDate {
			dateCol = i
		}
	}

	rows := make([][]string, 0, len(sheet.Rows)-1)
	for _, row := range sheet.Rows[1:] {
		if ctx.Err() != nil {
			return nil, nil, eris.Wrap(ctx.Err(), "xlsx: context cancelled")
		}
		rows = append(rows, rowToStrings(row, dateCol, f.Date1904))
	}
	return header, rows, nil
}

func rowToStrings(row *xlsx.Row, dateCol int, date1904 bool) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		if j == dateCol {
			if serial, err := strconv.ParseFloat(strings.TrimSpace(cell.Value), 64); err == nil {
				cells[j] = xlsx.TimeFromExcelTime(serial, date1904).Format(DateLayout)
				continue
			}
		}
		cells[j] = cell.String()
	}
	return cells
}

// Decode parses a JSON-style upload of column names and string rows.
func Decode(columns []string, rows [][]string) (*model.Dataset, error) {
	if len(columns) == 0 {
		return nil, eris.New("dataset: columns are required")
	}
	return Parse(columns, rows)
}
