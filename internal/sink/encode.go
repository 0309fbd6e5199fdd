package sink

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/profile-validator/internal/validator"
)

// Format names an output encoding.
type Format string

// Output encodings.
const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts "csv" or "json", case-insensitively.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case FormatCSV, "":
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported output format %q", raw)
	}
}

// Extension returns the file extension for f, including the dot.
func (f Format) Extension() string {
	if f == FormatJSON {
		return ".json"
	}
	return ".csv"
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/csv"
}

// CSVHeader is the column order of the tabular output.
var CSVHeader = []string{"Key", "Target", "Verdict", "Reason", "Status_Code", "Credential", "Timestamp"}

// Document is the structured output: run metadata plus every result.
type Document struct {
	RunID       string             `json:"run_id"`
	GeneratedAt time.Time          `json:"generated_at"`
	Summary     validator.Summary  `json:"summary"`
	Settings    map[string]any     `json:"settings,omitempty"`
	Results     []validator.Result `json:"results"`
}

// Meta carries the run-level fields written alongside results.
type Meta struct {
	RunID    string
	Settings map[string]any
	Now      func() time.Time
}

func (m Meta) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

// Encode writes results to w in format f.
func Encode(w io.Writer, f Format, meta Meta, results []validator.Result) error {
	switch f {
	case FormatJSON:
		return encodeJSON(w, meta, results)
	default:
		return encodeCSV(w, results)
	}
}

func encodeCSV(w io.Writer, results []validator.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range results {
		status := ""
		if r.StatusCode != 0 {
			status = strconv.Itoa(r.StatusCode)
		}
		record := []string{
			r.Key,
			r.Target,
			string(r.Verdict),
			r.Reason,
			status,
			r.Credential,
			r.Timestamp.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func encodeJSON(w io.Writer, meta Meta, results []validator.Result) error {
	if results == nil {
		results = []validator.Result{}
	}
	doc := Document{
		RunID:       meta.RunID,
		GeneratedAt: meta.now(),
		Summary:     validator.Summarize(results),
		Settings:    meta.Settings,
		Results:     results,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode json document: %w", err)
	}
	return nil
}
