package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Coderopp/vc-thesis-scraper/pkg/types"
)

// csvColumns is the fixed output column order.
var csvColumns = []string{"VC Name", "Title", "URL", "Content", "Date"}

// CSVSink writes one row per record to a CSV file, RFC 4180 escaped. The
// Date column is the empty string when no publication date was found.
type CSVSink struct {
	path string
}

// NewCSVSink creates a CSV sink writing to path.
func NewCSVSink(path string) *CSVSink {
	return &CSVSink{path: path}
}

// Name implements Sink.
func (s *CSVSink) Name() string { return "csv" }

// Write implements Sink. The file is truncated and rewritten each run; the
// CSV is a run artifact, not an append log.
func (s *CSVSink) Write(ctx context.Context, records []types.ArticleRecord) error {
	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	fh, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("create csv file: %w", err)
	}
	defer fh.Close()

	w := csv.NewWriter(fh)
	if err := w.Write(csvColumns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		row := []string{rec.Firm, rec.Title, rec.URL, rec.Content, rec.Published}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
