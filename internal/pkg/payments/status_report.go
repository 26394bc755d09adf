package payments

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	reportReferenceColumn = "Merchant Reference Code"
	reportStatusColumn    = "Status"
)

var ErrMalformedStatusReport = errors.New("malformed subscription status report")

// ParseStatusReport reads the processor's subscription export. The export
// starts with a few report description lines; rows begin after the header
// that names the reference and status columns.
func ParseStatusReport(r io.Reader) ([]StatusUpdate, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	refCol, statusCol := -1, -1
	for refCol < 0 {
		record, err := reader.Read()
		if err == io.EOF {
			return nil, fmt.Errorf("%w: no %q header", ErrMalformedStatusReport, reportReferenceColumn)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedStatusReport, err)
		}
		for i, name := range record {
			switch strings.TrimSpace(name) {
			case reportReferenceColumn:
				refCol = i
			case reportStatusColumn:
				statusCol = i
			}
		}
		if refCol >= 0 && statusCol < 0 {
			return nil, fmt.Errorf("%w: no %q column", ErrMalformedStatusReport, reportStatusColumn)
		}
	}

	var rows []StatusUpdate
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedStatusReport, err)
		}
		if len(record) <= refCol || len(record) <= statusCol {
			return nil, fmt.Errorf("%w: short row %v", ErrMalformedStatusReport, record)
		}
		ref := strings.TrimSpace(record[refCol])
		if ref == "" {
			continue
		}
		rows = append(rows, StatusUpdate{
			ReferenceNumber: ref,
			Status:          NormalizeStatus(record[statusCol]),
		})
	}
	return rows, nil
}

// NormalizeStatus fixes the capitalization of a status name; the processor
// exports statuses in upper case.
func NormalizeStatus(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
