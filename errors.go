package pipeline

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cloud.google.com/go/bigquery"
	"golang.org/x/xerrors"
	"google.golang.org/api/googleapi"
)

var (
	// ErrNoSourceFile is returned when no tabular file can be found to ingest.
	ErrNoSourceFile = errors.New("no source file found")

	// ErrMissingHeader is returned when a source file has no header row.
	ErrMissingHeader = errors.New("source file has no header row")

	// ErrMalformedSource is returned when a source file cannot be parsed as tabular data.
	ErrMalformedSource = errors.New("malformed source file")

	// ErrUnreadableEncoding is returned when a source file is not valid text
	// in its configured encoding.
	ErrUnreadableEncoding = errors.New("unreadable source encoding")

	// ErrDatasetNotFound marks load failures caused by a missing dataset.
	ErrDatasetNotFound = errors.New("dataset not found")
)

// CredentialError is returned when none of the candidate credential files exists.
type CredentialError struct {
	Tried []string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("could not resolve credentials, tried paths: [%s]", strings.Join(e.Tried, ", "))
}

// LoadError is returned when a bulk load into the warehouse fails.
type LoadError struct {
	Table string

	// DatasetMissing reports that the destination dataset does not exist.
	// Such errors match ErrDatasetNotFound.
	DatasetMissing bool

	// Remediation is a hint for operators, empty when the failure has no
	// known remedy.
	Remediation string

	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load into %s: %v", e.Table, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func (e *LoadError) Is(target error) bool {
	return target == ErrDatasetNotFound && e.DatasetMissing
}

// QueryError is returned when one of the quality aggregates fails.
type QueryError struct {
	Check string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("quality check %s failed: %v", e.Check, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	if xerrors.As(err, &gerr) {
		return gerr.Code == http.StatusNotFound
	}
	return false
}

func isAlreadyExists(err error) bool {
	var gerr *googleapi.Error
	if xerrors.As(err, &gerr) {
		return gerr.Code == http.StatusConflict
	}
	return false
}

// isMissingDataset matches both API errors and job status errors that report
// the destination dataset as absent.
func isMissingDataset(err error) bool {
	var gerr *googleapi.Error
	if xerrors.As(err, &gerr) {
		return gerr.Code == http.StatusNotFound && strings.Contains(strings.ToLower(gerr.Message), "dataset")
	}

	var berr *bigquery.Error
	if xerrors.As(err, &berr) {
		return berr.Reason == "notFound" && strings.Contains(strings.ToLower(berr.Message), "dataset")
	}

	return false
}
