package series

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"peakload/internal/types"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/xuri/excelize/v2"
)

// Supported source formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// ReadCSV reads a comma-separated table whose first record is the header.
// A UTF-8 byte order mark is ignored.
func ReadCSV(r io.Reader) (Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return Table{}, unreadable(FormatCSV, err)
	}
	if len(records) == 0 {
		return Table{}, types.NewAppError(types.ErrCodeValidationEmptySeries, "the CSV source is empty", nil)
	}
	header := records[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	return Table{Header: header, Rows: records[1:]}, nil
}

// ReadXLSX reads the first sheet of a workbook. Cells are read raw, so date
// cells arrive as Excel serial numbers.
func ReadXLSX(r io.Reader) (Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Table{}, unreadable(FormatXLSX, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Table{}, types.NewAppError(types.ErrCodeValidationEmptySeries, "the workbook has no sheets", nil)
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return Table{}, unreadable(FormatXLSX, err)
	}
	if len(rows) == 0 {
		return Table{}, types.NewAppError(types.ErrCodeValidationEmptySeries, "the first sheet is empty", nil)
	}
	return Table{Header: rows[0], Rows: rows[1:]}, nil
}

// Read decodes r according to the extension of name. ".zst" and ".gz"
// suffixes are decompressed first, so "history.csv.zst" is a zstd-compressed
// CSV.
func Read(r io.Reader, name string) (Table, error) {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".zst", ".zstd":
		dec, err := zstd.NewReader(r)
		if err != nil {
			return Table{}, unreadable("zstd", err)
		}
		defer dec.Close()
		return Read(dec, strings.TrimSuffix(name, filepath.Ext(name)))
	case ".gz":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return Table{}, unreadable("gzip", err)
		}
		defer gz.Close()
		return Read(gz, strings.TrimSuffix(name, filepath.Ext(name)))
	case ".csv", ".txt":
		return ReadCSV(r)
	case ".xlsx", ".xlsm":
		return ReadXLSX(r)
	default:
		return Table{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationUnsupported,
			fmt.Sprintf("unsupported file type %q; expected .csv or .xlsx", ext),
			nil,
			map[string]any{"filename": name},
		)
	}
}

// ReadFile opens path and reads it with Read.
func ReadFile(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f, filepath.Base(path))
}

// Sniff guesses the format of an upload without a usable file name: XLSX is a
// zip archive starting with "PK".
func Sniff(head []byte) string {
	if bytes.HasPrefix(head, []byte("PK\x03\x04")) {
		return FormatXLSX
	}
	return FormatCSV
}

func unreadable(format string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewAppError(types.ErrCodeValidationUnsupported, fmt.Sprintf("cannot read %s data", format), err)
}
