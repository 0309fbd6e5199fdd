package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/profile-validator/internal/validator"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleResults() []validator.Result {
	return []validator.Result{
		{Key: "1", Target: "https://www.linkedin.com/in/a", Verdict: validator.VerdictValid, Reason: "profile found", StatusCode: 200, Credential: "account_1", Timestamp: fixedNow},
		{Key: "2", Target: "https://www.linkedin.com/in/b,c", Verdict: validator.VerdictInvalid, Reason: "404 - profile not found", StatusCode: 404, Credential: "account_2", Timestamp: fixedNow},
		{Key: "3", Target: "https://www.linkedin.com/in/d", Verdict: validator.VerdictError, Reason: validator.ReasonCredentialsExhausted, Credential: validator.NoCredential, Timestamp: fixedNow},
	}
}

func TestEncodeCSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, FormatCSV, Meta{}, sampleResults()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	require.Equal(t, CSVHeader, records[0])
	require.Equal(t, []string{"2", "https://www.linkedin.com/in/b,c", "invalid", "404 - profile not found", "404", "account_2", "2025-03-01T12:00:00Z"}, records[2])
	require.Equal(t, "", records[3][4], "missing status code stays empty")
	require.Equal(t, "none", records[3][5])
}

func TestEncodeJSONDocument(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	meta := Meta{RunID: "run-1", Settings: map[string]any{"concurrency": 3}, Now: func() time.Time { return fixedNow }}
	require.NoError(t, Encode(&buf, FormatJSON, meta, sampleResults()))

	var doc Document
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	require.Equal(t, "run-1", doc.RunID)
	require.Equal(t, validator.Summary{Total: 3, Valid: 1, Invalid: 1, Errors: 1}, doc.Summary)
	require.Len(t, doc.Results, 3)
	require.EqualValues(t, 3, doc.Settings["concurrency"])

	buf.Reset()
	require.NoError(t, Encode(&buf, FormatJSON, meta, nil))
	require.Contains(t, buf.String(), `"results": []`)
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	f, err := ParseFormat(" JSON ")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, f)
	require.Equal(t, ".json", f.Extension())

	f, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatCSV, f)

	_, err = ParseFormat("xml")
	require.Error(t, err)
}

func TestFileFlushRewritesWholeFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", "results.csv")
	f, err := NewFile(FileConfig{Path: path, Format: FormatCSV}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	results := sampleResults()
	require.NoError(t, f.Flush(ctx, results[:1]))
	require.NoError(t, f.Flush(ctx, results))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, 4, strings.Count(string(data), "\n"))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files are left behind")
	require.NoError(t, f.Close())
}

func TestNewFileRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := NewFile(FileConfig{}, nil)
	require.True(t, validator.IsConfigurationError(err))
}

type recordingSink struct {
	appended []validator.Result
	flushed  [][]validator.Result
	closed   bool
	err      error
}

func (s *recordingSink) Append(_ context.Context, r validator.Result) error {
	s.appended = append(s.appended, r)
	return s.err
}

func (s *recordingSink) Flush(_ context.Context, rs []validator.Result) error {
	s.flushed = append(s.flushed, append([]validator.Result(nil), rs...))
	return s.err
}

func (s *recordingSink) Close() error {
	s.closed = true
	return s.err
}

func TestMultiFansOutAndJoinsErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	ok := &recordingSink{}
	bad := &recordingSink{err: boom}
	m := NewMulti(ok, nil, bad)
	require.Equal(t, 2, m.Len())

	ctx := context.Background()
	r := sampleResults()[0]
	require.ErrorIs(t, m.Append(ctx, r), boom)
	require.ErrorIs(t, m.Flush(ctx, []validator.Result{r}), boom)
	require.ErrorIs(t, m.Close(), boom)

	require.Equal(t, []validator.Result{r}, ok.appended)
	require.Len(t, ok.flushed, 1)
	require.True(t, ok.closed)
	require.True(t, bad.closed, "a failing sink does not short-circuit the others")
}
