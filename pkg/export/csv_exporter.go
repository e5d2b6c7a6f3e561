// Package export renders roster datasets into the download formats the
// report pipeline offers. A Dataset is header-ordered so CSV columns and
// PDF table cells come out in the same order the service declared them.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// Dataset is one roster table: ordered headers plus rows keyed by header.
// A row missing a key renders as an empty cell.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// records flattens the dataset into header order.
func (d Dataset) records() [][]string {
	out := make([][]string, 0, len(d.Rows)+1)
	out = append(out, d.Headers)
	for _, row := range d.Rows {
		record := make([]string, len(d.Headers))
		for i, header := range d.Headers {
			record[i] = row[header]
		}
		out = append(out, record)
	}
	return out
}

// CSVExporter writes rosters as CSV, the format the secretariat loads into
// spreadsheets.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render encodes the dataset, headers first.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.WriteAll(data.records()); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}
