package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Replay processes every batch in r in order. r holds a sequence of JSON
// values, either a single batch or one batch per line. Batches are numbered
// from 1 within source.
func (p *Processor) Replay(r io.Reader, source string) ([]Record, error) {
	dec := json.NewDecoder(r)
	var records []Record
	for n := 1; ; n++ {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return records, fmt.Errorf("%s: batch %d: %w", source, n, err)
		}
		records = append(records, Record{
			Batch:    n,
			Source:   source,
			Document: p.ProcessPayload(raw),
		})
	}
}
