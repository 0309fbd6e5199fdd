// Package input loads work items from CSV or line-delimited files.
package input

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/profile-validator/internal/validator"
)

// Format names an input file layout.
type Format string

// Supported formats. FormatAuto picks by file extension.
const (
	FormatAuto Format = ""
	FormatCSV  Format = "csv"
	FormatText Format = "text"
)

// Default CSV column names.
const (
	DefaultKeyField    = "Expert ID"
	DefaultTargetField = "Linkedin Profile"
)

// Options controls parsing and filtering.
type Options struct {
	Format      Format
	KeyField    string
	TargetField string
	// HostFilter keeps only targets on this host or its subdomains.
	HostFilter string
}

func (o Options) withDefaults() Options {
	if o.KeyField == "" {
		o.KeyField = DefaultKeyField
	}
	if o.TargetField == "" {
		o.TargetField = DefaultTargetField
	}
	o.HostFilter = strings.ToLower(strings.TrimSpace(o.HostFilter))
	return o
}

// Load reads every acceptable row from path. A missing file is a
// configuration error wrapping validator.ErrInputNotFound.
func Load(path string, opts Options) ([]validator.WorkItem, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, validator.NewConfigurationError("input.path", fmt.Errorf("%w: %s", validator.ErrInputNotFound, path))
		}
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	format := opts.Format
	if format == FormatAuto {
		format = detect(path)
	}
	switch format {
	case FormatCSV:
		return ReadCSV(f, opts)
	case FormatText:
		return ReadText(f, opts)
	default:
		return nil, validator.NewConfigurationError("input.format", fmt.Errorf("unsupported format %q", format))
	}
}

func detect(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".lst":
		return FormatText
	default:
		return FormatCSV
	}
}

// ReadCSV parses a headed CSV file. Rows missing either field, with an
// unusable target, or failing the host filter are skipped. Row numbers count
// accepted rows from 1.
func ReadCSV(r io.Reader, opts Options) ([]validator.WorkItem, error) {
	opts = opts.withDefaults()
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	keyIdx, targetIdx := -1, -1
	for i, name := range header {
		name = normalizeHeader(name)
		switch {
		case strings.EqualFold(name, opts.KeyField):
			keyIdx = i
		case strings.EqualFold(name, opts.TargetField):
			targetIdx = i
		}
	}
	if keyIdx < 0 || targetIdx < 0 {
		return nil, validator.NewConfigurationError("input.key_field",
			fmt.Errorf("csv header must contain %q and %q", opts.KeyField, opts.TargetField))
	}

	var items []validator.WorkItem
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if keyIdx >= len(record) || targetIdx >= len(record) {
			continue
		}
		key := strings.TrimSpace(record[keyIdx])
		target := strings.TrimSpace(record[targetIdx])
		if key == "" || !acceptTarget(target, opts.HostFilter) {
			continue
		}
		items = append(items, validator.WorkItem{Key: key, Target: target, Row: len(items) + 1})
	}
	return items, nil
}

// ReadText parses one target per line; blank lines and lines starting with
// '#' are ignored. A line of the form "key,target" carries its own key,
// otherwise the target doubles as the key.
func ReadText(r io.Reader, opts Options) ([]validator.WorkItem, error) {
	opts = opts.withDefaults()
	scanner := bufio.NewScanner(r)
	var items []validator.WorkItem
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, target := line, line
		if k, t, ok := strings.Cut(line, ","); ok && !strings.Contains(k, "://") {
			key, target = strings.TrimSpace(k), strings.TrimSpace(t)
		}
		if key == "" || !acceptTarget(target, opts.HostFilter) {
			continue
		}
		items = append(items, validator.WorkItem{Key: key, Target: target, Row: len(items) + 1})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read text input: %w", err)
	}
	return items, nil
}

func normalizeHeader(name string) string {
	return strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
}

func acceptTarget(target, hostFilter string) bool {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if hostFilter == "" {
		return true
	}
	host := strings.ToLower(u.Hostname())
	return host == hostFilter || strings.HasSuffix(host, "."+hostFilter)
}
