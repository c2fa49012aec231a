package expense

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Format is the detected file type of an import.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

var zipMagic = []byte("PK\x03\x04")

// DetectFormat decides by extension, then by content for files without a
// recognised extension. Legacy binary .xls is refused.
func DetectFormat(filename string, data []byte) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".xls":
		return "", fmt.Errorf("%w: legacy .xls, save the file as .xlsx or .csv", ErrUnsupportedFormat)
	}
	if bytes.HasPrefix(data, zipMagic) {
		return FormatXLSX, nil
	}
	return FormatCSV, nil
}

// Row is one data row keyed by normalized header name.
type Row map[string]string

// Get returns the trimmed value of the first listed column that is present
// and non-empty.
func (r Row) Get(columns ...string) string {
	for _, c := range columns {
		if v := strings.TrimSpace(r[c]); v != "" {
			return v
		}
	}
	return ""
}

// Table is a parsed import file. Header names are lower-cased and trimmed.
type Table struct {
	Format Format
	Header []string
	Rows   []Row
}

// ParseTable reads a CSV or XLSX file and checks that every required column
// is present. Any failure here is a SchemaError: nothing has been imported.
func ParseTable(filename string, data []byte, required []string) (*Table, error) {
	format, err := DetectFormat(filename, data)
	if err != nil {
		return nil, &SchemaError{Reason: err.Error()}
	}

	var records [][]string
	switch format {
	case FormatXLSX:
		records, err = readXLSX(data)
	default:
		records, err = readCSV(data)
	}
	if err != nil {
		return nil, &SchemaError{Reason: fmt.Sprintf("cannot read %s file: %v", format, err)}
	}

	records = dropBlankRows(records)
	if len(records) == 0 {
		return nil, &SchemaError{Reason: "file is empty"}
	}

	header := make([]string, len(records[0]))
	present := make(map[string]bool, len(header))
	for i, h := range records[0] {
		header[i] = normalizeHeader(h)
		present[header[i]] = true
	}

	var missing []string
	for _, col := range required {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing}
	}

	t := &Table{Format: format, Header: header, Rows: make([]Row, 0, len(records)-1)}
	for _, rec := range records[1:] {
		row := make(Row, len(header))
		for i, name := range header {
			if name == "" || i >= len(rec) {
				continue
			}
			row[name] = rec[i]
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func normalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
}

// readCSV strips a UTF-8 byte-order mark and picks ';' as the delimiter
// when the header line has semicolons but no commas.
func readCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	firstLine, _, _ := bytes.Cut(data, []byte("\n"))
	if bytes.Contains(firstLine, []byte(";")) && !bytes.Contains(firstLine, []byte(",")) {
		r.Comma = ';'
	}

	var out [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}

// readXLSX reads the active sheet with raw cell values, so dates come
// through as serial numbers and amounts without display formatting.
func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, nil
		}
		sheet = sheets[0]
	}
	return f.GetRows(sheet, excelize.Options{RawCellValue: true})
}

func dropBlankRows(records [][]string) [][]string {
	out := records[:0]
	for _, rec := range records {
		for _, cell := range rec {
			if strings.TrimSpace(cell) != "" {
				out = append(out, rec)
				break
			}
		}
	}
	return out
}
