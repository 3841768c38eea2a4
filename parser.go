package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"io"

	"github.com/extrame/xls"
	"gitlab.com/osaki-lab/iowrapper"
	"golang.org/x/xerrors"
)

// Parser parses a tabular file into records, header included.
type Parser func(context.Context, io.Reader) ([][]string, error)

var errNoSheet = errors.New("no sheet found")

// CSVParser provides a parser to parse CSV files.
// Every record must have as many fields as the header.
func CSVParser() Parser {
	return func(_ context.Context, r io.Reader) ([][]string, error) {
		records, err := csv.NewReader(r).ReadAll()
		if err != nil {
			return nil, xerrors.Errorf("%v: %w", err, ErrMalformedSource)
		}

		return records, nil
	}
}

// XLSParser provides a parser to parse the first sheet of XLS workbooks.
// Short rows are padded with empty cells to the widest row.
func XLSParser() Parser {
	return func(_ context.Context, r io.Reader) ([][]string, error) {
		wb, err := xls.OpenReader(iowrapper.NewSeeker(r), "utf-8")
		if err != nil {
			return nil, xerrors.Errorf("failed to open xls file: %v: %w", err, ErrMalformedSource)
		}

		sheet := wb.GetSheet(0)
		if sheet == nil {
			return nil, xerrors.Errorf("%v: %w", errNoSheet, ErrMalformedSource)
		}

		return readSheet(&xlsSheet{sheet: sheet}), nil
	}
}

// sheet is a worksheet read row by row.
type sheet interface {
	lastRow() int
	row(i int) ([]string, bool)
}

type xlsSheet struct {
	sheet *xls.WorkSheet
}

func (s *xlsSheet) lastRow() int {
	return int(s.sheet.MaxRow)
}

// row recovers from the panics xls raises on rows missing from the file.
func (s *xlsSheet) row(i int) (record []string, ok bool) {
	defer func() {
		if recover() != nil {
			record, ok = nil, false
		}
	}()

	r := s.sheet.Row(i)
	if r == nil {
		return nil, false
	}

	record = []string{}
	for c := 0; c < r.LastCol(); c++ {
		record = append(record, r.Col(c))
	}

	return record, true
}

func readSheet(s sheet) [][]string {
	records := [][]string{}
	width := 0

	for i := 0; i <= s.lastRow(); i++ {
		record, ok := s.row(i)
		if !ok {
			continue
		}

		if len(record) > width {
			width = len(record)
		}
		records = append(records, record)
	}

	for i, rec := range records {
		for len(rec) < width {
			rec = append(rec, "")
		}
		records[i] = rec
	}

	return records
}

func parserFor(f Format) (Parser, error) {
	switch f {
	case FormatCSV:
		return CSVParser(), nil
	case FormatXLS:
		return XLSParser(), nil
	default:
		return nil, xerrors.Errorf("no parser for format %q", f)
	}
}
