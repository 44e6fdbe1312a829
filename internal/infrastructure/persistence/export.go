package persistence

import (
	"bytes"
	"encoding/csv"

	"github.com/erp/console/internal/domain/catalog"
	"github.com/erp/console/internal/domain/listing"
)

// utf8BOM lets spreadsheet applications detect the encoding
const utf8BOM = "\ufeff"

// RenderCSV writes rows as CSV with one column per declared entity column,
// preceded by the record id.
func RenderCSV(cfg catalog.EntityConfig, rows []listing.Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(utf8BOM)
	w := csv.NewWriter(&buf)

	header := make([]string, 0, len(cfg.Columns)+1)
	header = append(header, "ID")
	for _, col := range cfg.Columns {
		label := col.Label
		if label == "" {
			label = col.Field
		}
		header = append(header, label)
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	record := make([]string, len(header))
	for _, r := range rows {
		record[0] = r.ID
		for i, col := range cfg.Columns {
			v, _ := r.Get(col.Field)
			record[i+1] = listing.ValueString(v)
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
