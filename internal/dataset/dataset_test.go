package dataset

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/effort-cli/internal/model"
)

func createTestXLSX(t *testing.T, rows [][]string, serialDates map[int]float64) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Efforts")
	require.NoError(t, err)
	for i, rowData := range rows {
		row := sheet.AddRow()
		for j, cellData := range rowData {
			cell := row.AddCell()
			if serial, ok := serialDates[i]; ok && rows[0][j] == model.ColEffortDate {
				cell.SetFloat(serial)
				continue
			}
			cell.SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "efforts.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestParse_MapsColumns(t *testing.T) {
	header := []string{"effortExpense", " effortDate ", "msg_JobTitle", "effortTimeCosts", "billingRate_hourlyRate", "name_P"}
	rows := [][]string{
		{"12.5", "2024-03-04", "Engineer", "1,200.50", "80", "Apollo"},
		{"", "03/05/2024", "", "abc", "", "Zeus"},
		{"", "", "", "", "", ""},
		{"n/a", "05.03.2024 10:30:00", "Analyst"},
	}

	ds, err := Parse(header, rows)
	require.NoError(t, err)
	require.Len(t, ds.Records, 3)
	assert.Equal(t, "effortDate", ds.Columns[1])

	r0 := ds.Records[0]
	assert.Equal(t, 0, r0.Row)
	require.NotNil(t, r0.Effort)
	assert.InDelta(t, 12.5, *r0.Effort, 0)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), *r0.EffortDate)
	assert.Equal(t, "Engineer", r0.Category(model.ColJobTitle))
	costs, ok := r0.Number(model.ColTimeCosts)
	assert.True(t, ok)
	assert.InDelta(t, 1200.5, costs, 0)
	assert.Equal(t, "Apollo", r0.Extra[model.ColProjectName])

	r1 := ds.Records[1]
	assert.Nil(t, r1.Effort)
	assert.Equal(t, time.March, r1.EffortDate.Month())
	assert.Equal(t, 5, r1.EffortDate.Day())
	assert.Empty(t, r1.Category(model.ColJobTitle))
	_, ok = r1.Number(model.ColTimeCosts)
	assert.False(t, ok)

	// blank row skipped, short row padded
	r2 := ds.Records[2]
	assert.Equal(t, 2, r2.Row)
	assert.Nil(t, r2.Effort)
	assert.Equal(t, 10, r2.EffortDate.Hour())
	assert.Equal(t, "Analyst", r2.Category(model.ColJobTitle))
	assert.Equal(t, "", r2.Extra[model.ColProjectName])
}

func TestParse_RequiresEffortColumn(t *testing.T) {
	_, err := Parse([]string{"effortDate"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), model.ColEffort)
}

func TestParseNumberAndDate(t *testing.T) {
	v, ok := ParseNumber(" -3 ")
	assert.True(t, ok)
	assert.InDelta(t, -3, v, 0)
	_, ok = ParseNumber("NaN")
	assert.False(t, ok)

	d, ok := ParseDate("2024-06-01T08:00:00Z")
	assert.True(t, ok)
	assert.Equal(t, 8, d.Hour())
	_, ok = ParseDate("yesterday")
	assert.False(t, ok)
}

func TestReadCSV_Windows1252(t *testing.T) {
	raw := []byte("effortExpense,msg_JobTitle\n5,Caf\xe9 Lead\n")
	header, rows, err := ReadCSV(context.Background(), bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, []string{"effortExpense", "msg_JobTitle"}, header)
	require.Len(t, rows, 1)
	assert.Equal(t, "Café Lead", rows[0][1])
}

func TestReadCSV_BOMAndSemicolon(t *testing.T) {
	raw := "\ufeffeffortExpense;msg_JobTitle\n7;Engineer\n8\n"
	header, rows, err := ReadCSV(context.Background(), strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "effortExpense", header[0])
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"7", "Engineer"}, rows[0])
	assert.Equal(t, []string{"8"}, rows[1])
}

func TestReadCSV_Empty(t *testing.T) {
	_, _, err := ReadCSV(context.Background(), strings.NewReader(""))
	require.Error(t, err)
}

func TestLoad_CSV(t *testing.T) {
	path := writeFile(t, "efforts.CSV", []byte("effortExpense,effortDate,msg_JobTitle\n4,2024-01-02,A\n,2024-01-03,A\n"))
	ds, err := Load(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())
	assert.Nil(t, ds.Records[1].Effort)
}

func TestLoad_RejectsUnsupported(t *testing.T) {
	_, err := Load(context.Background(), writeFile(t, "old.xls", []byte("x")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".xlsx")

	_, err = Load(context.Background(), writeFile(t, "data.json", []byte("{}")))
	require.Error(t, err)

	_, err = Load(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
}

func TestLoad_XLSXSerialDates(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		{"effortExpense", "effortDate", "msg_JobTitle"},
		{"6", "", "Engineer"},
		{"9", "2024-02-10", "Analyst"},
	}, map[int]float64{1: 45306})

	ds, err := Load(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())

	d := ds.Records[0].EffortDate
	require.NotNil(t, d)
	assert.Equal(t, 2024, d.Year())
	assert.Equal(t, time.January, d.Month())
	assert.Equal(t, 15, d.Day())
	assert.Equal(t, time.February, ds.Records[1].EffortDate.Month())
	assert.InDelta(t, 6, *ds.Records[0].Effort, 0)
}

func annotated(t *testing.T) (*model.Dataset, []model.PredictionResult) {
	t.Helper()
	ds, err := Parse(
		[]string{"effortExpense", "effortDate", "msg_JobTitle", "Task Name"},
		[][]string{
			{"20", "2024-01-02", "A", "Design"},
			{"", "2024-01-03", "A", "Build"},
		},
	)
	require.NoError(t, err)
	results := []model.PredictionResult{
		{Row: 0, OriginalValue: model.Float(20), FinalValue: model.Float(20), Status: model.StatusUnchanged, Source: model.SourcePassthrough},
		{Row: 1, PredictedValue: model.Float(20), FinalValue: model.Float(20), Status: model.StatusImputedMissing, Source: model.SourceFallback1},
	}
	return ds, results
}

func TestWriteCSV(t *testing.T) {
	ds, results := annotated(t)
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, ds, results))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "effortExpense,effortDate,msg_JobTitle,Task Name,effortExpense_original,effortExpense_predicted,effortExpense_final,effort_status,effort_source,effort_error", lines[0])
	assert.Equal(t, "20,2024-01-02T00:00:00,A,Design,20,,20,unchanged,passthrough,", lines[1])
	assert.Equal(t, ",2024-01-03T00:00:00,A,Build,,20,20,imputed_missing,fallback_rule_1,", lines[2])
}

func TestExportXLSX_RoundTrip(t *testing.T) {
	ds, results := annotated(t)
	path := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, Export(path, "xlsx", ds, results))

	header, rows, err := ReadXLSX(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, append(append([]string(nil), ds.Columns...), ResultColumns...), header)
	require.Len(t, rows, 2)
	assert.Equal(t, "imputed_missing", rows[1][7])
	assert.Equal(t, "fallback_rule_1", rows[1][8])
	assert.Equal(t, "20", rows[1][6])

	back, err := Parse(header, rows)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), *back.Records[1].EffortDate)
}

func TestExport_UnknownFormat(t *testing.T) {
	ds, results := annotated(t)
	err := Export(filepath.Join(t.TempDir(), "out.pdf"), "pdf", ds, results)
	require.Error(t, err)
}
