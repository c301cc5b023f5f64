package processor

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"beacon-locator/internal/emitter"
)

// Record is the document produced for one replayed batch.
type Record struct {
	Batch    int              `json:"batch"`
	Source   string           `json:"source"`
	Document emitter.Document `json:"document"`
}

// ExportJSON writes one record per line.
func ExportJSON(w io.Writer, records []Record) error {
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to encode batch %d: %w", r.Batch, err)
		}
	}
	return nil
}

// ExportCSV writes one row per fix, for spreadsheet analysis.
func ExportCSV(w io.Writer, records []Record) error {
	writer := csv.NewWriter(w)

	if err := writer.Write([]string{"batch", "source", "bdaddr", "x_px", "y_px", "heading", "accel_timeout"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, r := range records {
		for _, fix := range r.Document.Chairs {
			row := []string{
				strconv.Itoa(r.Batch),
				r.Source,
				fix.TagID,
				strconv.FormatInt(fix.Loc[0], 10),
				strconv.FormatInt(fix.Loc[1], 10),
				strconv.FormatFloat(fix.Heading, 'f', 2, 64),
				strconv.Itoa(fix.AccelTimeout),
			}
			if err := writer.Write(row); err != nil {
				return fmt.Errorf("failed to write CSV row: %w", err)
			}
		}
	}

	writer.Flush()
	return writer.Error()
}
