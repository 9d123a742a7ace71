package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/JakeFAU/catalog-importer/internal/pipeline"
)

// Required header columns, matched case-insensitively.
const (
	ColumnName        = "name"
	ColumnSKU         = "sku"
	ColumnDescription = "description"
)

const msgMissingHeader = "CSV file is missing a header row."

// HeaderError reports an unusable header row.
type HeaderError struct {
	Missing []string
}

func (e *HeaderError) Error() string {
	if len(e.Missing) == 0 {
		return msgMissingHeader
	}
	return "CSV missing required columns: " + strings.Join(e.Missing, ", ")
}

type columns struct {
	name        int
	sku         int
	description int
}

// validateHeader checks that fields carry every required column.
func validateHeader(fields []string) error {
	_, err := resolveColumns(fields)
	return err
}

// ReadHeader parses the first record of r and validates it.
func ReadHeader(r io.Reader) ([]string, error) {
	header, err := newReader(r).Read()
	if err != nil {
		return nil, &HeaderError{}
	}
	header = append([]string(nil), header...)
	if err := validateHeader(header); err != nil {
		return nil, err
	}
	return header, nil
}

// CountRows validates the header and counts the data records in r. Records
// that fail to parse still count.
func CountRows(ctx context.Context, r io.Reader) (int64, error) {
	reader := newReader(r)
	header, err := reader.Read()
	if err != nil {
		return 0, headerOrReadError(err)
	}
	if _, err := resolveColumns(header); err != nil {
		return 0, pipeline.NewSourceError(err.Error(), nil)
	}
	var n int64
	for {
		if n%1024 == 0 && ctx.Err() != nil {
			return n, fmt.Errorf("count rows: %w", ctx.Err())
		}
		_, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		var parseErr *csv.ParseError
		if err != nil && !errors.As(err, &parseErr) {
			return n, pipeline.NewSourceError("CSV read failed", err)
		}
		n++
	}
}

func newReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true
	return reader
}

func headerOrReadError(err error) error {
	var parseErr *csv.ParseError
	if errors.Is(err, io.EOF) || errors.As(err, &parseErr) {
		return pipeline.NewSourceError(msgMissingHeader, nil)
	}
	return pipeline.NewSourceError("CSV read failed", err)
}

func resolveColumns(header []string) (columns, error) {
	cols := columns{name: -1, sku: -1, description: -1}
	seen := 0
	for i, raw := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff")))
		if key == "" {
			continue
		}
		seen++
		switch key {
		case ColumnName:
			if cols.name < 0 {
				cols.name = i
			}
		case ColumnSKU:
			if cols.sku < 0 {
				cols.sku = i
			}
		case ColumnDescription:
			if cols.description < 0 {
				cols.description = i
			}
		}
	}
	if seen == 0 {
		return cols, &HeaderError{}
	}
	var missing []string
	if cols.name < 0 {
		missing = append(missing, ColumnName)
	}
	if cols.sku < 0 {
		missing = append(missing, ColumnSKU)
	}
	if cols.description < 0 {
		missing = append(missing, ColumnDescription)
	}
	if len(missing) > 0 {
		return cols, &HeaderError{Missing: missing}
	}
	return cols, nil
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
