package storage

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	ErrFileTooLarge     = errors.New("file exceeds maximum size")
	ErrInvalidExtension = errors.New("only .csv, .xls and .xlsx files are accepted")
	ErrEmptyFile        = errors.New("file is empty")
	ErrUnreadableSheet  = errors.New("spreadsheet could not be read")
)

var unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}._ -]+`)

// SanitizeFilename reduces a client supplied name to a single safe path
// segment. It returns "" when nothing usable is left.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.TrimSpace(name)
	if strings.Trim(name, ".") == "" {
		return ""
	}
	return name
}

// Spreadsheet is an upload that passed validation.
type Spreadsheet struct {
	Data        []byte
	Extension   string
	ContentType string
	// Rows is the number of data rows, header excluded. Only meaningful when
	// Counted is set; .xls files are stored as-is.
	Rows    int
	Counted bool
}

var spreadsheetTypes = map[string]string{
	".csv":  "text/csv",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// ValidateSpreadsheet reads at most maxSize bytes, checks the extension and
// makes sure csv and xlsx payloads parse.
func ValidateSpreadsheet(reader io.Reader, filename string, maxSize int64) (*Spreadsheet, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	contentType, ok := spreadsheetTypes[ext]
	if !ok {
		return nil, ErrInvalidExtension
	}

	// Read maxSize + 1 to detect oversized files
	data, err := io.ReadAll(io.LimitReader(reader, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(data)) > maxSize {
		return nil, ErrFileTooLarge
	}

	sheet := &Spreadsheet{Data: data, Extension: ext, ContentType: contentType}

	switch ext {
	case ".csv":
		sheet.Rows, err = countCSVRows(data)
		sheet.Counted = true
	case ".xlsx":
		sheet.Rows, err = countXLSXRows(data)
		sheet.Counted = true
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableSheet, err)
	}
	return sheet, nil
}

func countCSVRows(data []byte) (int, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	// Exports from French spreadsheets usually use ';'
	if first, _, _ := bytes.Cut(data, []byte("\n")); bytes.Count(first, []byte(";")) > bytes.Count(first, []byte(",")) {
		r.Comma = ';'
	}
	records, err := r.ReadAll()
	if err != nil {
		return 0, err
	}
	return dataRows(len(records)), nil
}

func countXLSXRows(data []byte) (int, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return 0, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return 0, err
	}
	return dataRows(len(rows)), nil
}

func dataRows(n int) int {
	if n == 0 {
		return 0
	}
	return n - 1
}
