package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/zeebo/xxh3"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
	"golang.org/x/xerrors"
)

const utf8BOM = "\ufeff"

// Validator confirms that a source file is readable tabular data before
// anything is uploaded.
type Validator struct {
	// Encoding is the text encoding of CSV sources. Nil means UTF-8.
	Encoding encoding.Encoding

	// Columns are the column names the warehouse table expects, used only
	// to warn about differing headers.
	Columns []string
}

// NewValidator builds a validator for CSV sources in the named encoding,
// e.g. "shift_jis". An empty name means UTF-8.
func NewValidator(encodingName string, columns []string) (*Validator, error) {
	v := &Validator{Columns: columns}

	if encodingName == "" {
		return v, nil
	}

	enc, err := htmlindex.Get(encodingName)
	if err != nil {
		return nil, xerrors.Errorf("unknown source encoding %q: %w", encodingName, err)
	}
	v.Encoding = enc

	return v, nil
}

// ValidatedSource is a source that passed validation.
type ValidatedSource struct {
	*Source

	Columns  []string `json:"columns"`
	Rows     int      `json:"rows"`
	Checksum string   `json:"checksum"`

	// records is kept only when the staged bytes differ from the file's.
	records [][]string
}

// Open returns the bytes to stage: the file itself for UTF-8 CSV sources,
// otherwise the parsed records encoded as UTF-8 CSV.
func (s *ValidatedSource) Open() (io.ReadCloser, error) {
	if s.records == nil {
		f, err := os.Open(s.Path)
		if err != nil {
			return nil, xerrors.Errorf("failed to open %s: %w", s.Path, err)
		}
		return f, nil
	}

	buf := &bytes.Buffer{}
	if err := csv.NewWriter(buf).WriteAll(s.records); err != nil {
		return nil, xerrors.Errorf("failed to write csv: %w", err)
	}

	return io.NopCloser(buf), nil
}

// Validate parses src and reports its header columns and data row count.
func (v *Validator) Validate(ctx context.Context, src *Source) (*ValidatedSource, error) {
	l := log.Ctx(ctx)

	body, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, xerrors.Errorf("failed to read %s: %w", src.Path, err)
	}

	parse, err := parserFor(src.Format)
	if err != nil {
		return nil, err
	}

	var r io.Reader = bytes.NewReader(body)
	decoded := src.Format == FormatCSV && v.Encoding != nil
	if decoded {
		r = transform.NewReader(r, v.Encoding.NewDecoder())
	}

	records, err := parse(ctx, r)
	if err != nil {
		return nil, xerrors.Errorf("failed to parse %s: %w", src.Path, err)
	}

	if len(records) == 0 {
		return nil, xerrors.Errorf("%s: %w", src.Path, ErrMissingHeader)
	}

	header := records[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}

	for i, name := range header {
		if strings.TrimSpace(name) == "" {
			return nil, xerrors.Errorf("%s: blank column name at position %d: %w", src.Path, i, ErrMissingHeader)
		}
	}

	for i, rec := range records {
		for j, field := range rec {
			if !utf8.ValidString(field) {
				return nil, xerrors.Errorf("%s: line %d, column %d: %w", src.Path, i+1, j+1, ErrUnreadableEncoding)
			}
		}
	}

	vs := &ValidatedSource{
		Source:   src,
		Columns:  append([]string(nil), header...),
		Rows:     len(records) - 1,
		Checksum: fmt.Sprintf("%016x", xxh3.Hash(body)),
	}
	if decoded || src.Format != FormatCSV {
		vs.records = records
	}

	if v.Columns != nil && !equalColumns(vs.Columns, v.Columns) {
		l.Warn().
			Strs("columns", vs.Columns).
			Strs("expected", v.Columns).
			Msg("source header differs from table schema, columns are loaded by position")
	}

	l.Info().
		Str("path", src.Path).
		Int("rows", vs.Rows).
		Int("columns", len(vs.Columns)).
		Str("checksum", vs.Checksum).
		Msg("source validated")

	return vs, nil
}

func equalColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
