package dataset

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/effort-cli/internal/model"
)

// Columns appended to the original header on export.
const (
	ColOriginal  = "effortExpense_original"
	ColPredicted = "effortExpense_predicted"
	ColFinal     = "effortExpense_final"
	ColStatus    = "effort_status"
	ColSource    = "effort_source"
	ColError     = "effort_error"
)

// ResultColumns lists the appended columns in output order.
var ResultColumns = []string{ColOriginal, ColPredicted, ColFinal, ColStatus, ColSource, ColError}

// Table flattens ds and its results into a header and string rows.
func Table(ds *model.Dataset, results []model.PredictionResult) ([]string, [][]string) {
	header := append(append([]string(nil), ds.Columns...), ResultColumns...)

	byRow := make(map[int]model.PredictionResult, len(results))
	for _, res := range results {
		byRow[res.Row] = res
	}

	rows := make([][]string, 0, len(ds.Records))
	for _, r := range ds.Records {
		out := make([]string, 0, len(header))
		for _, c := range ds.Columns {
			out = append(out, cellValue(r, c))
		}
		res, ok := byRow[r.Row]
		if !ok {
			out = append(out, "", "", "", "", "", "")
			rows = append(rows, out)
			continue
		}
		out = append(out,
			formatFloat(res.OriginalValue),
			formatFloat(res.PredictedValue),
			formatFloat(res.FinalValue),
			string(res.Status),
			string(res.Source),
			res.Error,
		)
		rows = append(rows, out)
	}
	return header, rows
}

func cellValue(r model.Record, col string) string {
	switch col {
	case model.ColEffort:
		return formatFloat(r.Effort)
	case model.ColEffortDate:
		if r.EffortDate == nil {
			return ""
		}
		return r.EffortDate.Format(DateLayout)
	}
	if v, ok := r.Categorical[col]; ok {
		return v
	}
	if v, ok := r.Numeric[col]; ok {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return r.Extra[col]
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// WriteCSV writes the annotated dataset as CSV to w.
func WriteCSV(w io.Writer, ds *model.Dataset, results []model.PredictionResult) error {
	header, rows := Table(ds, results)
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "csv: write header")
	}
	if err := cw.WriteAll(rows); err != nil {
		return eris.Wrap(err, "csv: write rows")
	}
	return nil
}

// ExportCSV writes the annotated dataset to a CSV file at path.
func ExportCSV(path string, ds *model.Dataset, results []model.PredictionResult) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "dataset: create %s", path)
	}
	if err := WriteCSV(f, ds, results); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "dataset: close %s", path)
	}
	zap.L().Info("dataset: exported", zap.String("path", path), zap.String("format", "csv"), zap.Int("rows", ds.Len()))
	return nil
}

// ExportXLSX writes the annotated dataset to a single-sheet workbook.
// Numeric result columns are stored as numbers.
func ExportXLSX(path string, ds *model.Dataset, results []model.PredictionResult) error {
	header, rows := Table(ds, results)

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Results")
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}
	hr := sheet.AddRow()
	for _, h := range header {
		hr.AddCell().SetString(h)
	}

	numeric := map[int]bool{}
	for i, h := range header {
		switch h {
		case model.ColEffort, ColOriginal, ColPredicted, ColFinal:
			numeric[i] = true
		}
	}
	for _, row := range rows {
		xr := sheet.AddRow()
		for i, v := range row {
			cell := xr.AddCell()
			if numeric[i] && v != "" {
				if n, err := strconv.ParseFloat(v, 64); err == nil {
					cell.SetFloat(n)
					continue
				}
			}
			cell.SetString(v)
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", path)
	}
	zap.L().Info("dataset: exported", zap.String("path", path), zap.String("format", "xlsx"), zap.Int("rows", ds.Len()))
	return nil
}

// Export writes to path in the named format ("csv" or "xlsx").
func Export(path, format string, ds *model.Dataset, results []model.PredictionResult) error {
	switch format {
	case "csv", "":
		return ExportCSV(path, ds, results)
	case "xlsx":
		return ExportXLSX(path, ds, results)
	default:
		return eris.Errorf("dataset: unknown export format %q", format)
	}
}
