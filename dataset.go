package pipeline

import (
	"context"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
)

const (
	defaultDatasetDescription   = "Analytics dataset for raw and processed user events"
	defaultDatasetCreateTimeout = 30 * time.Second
)

// DatasetProvisioner makes sure the destination dataset exists.
type DatasetProvisioner struct {
	Dataset     string
	Location    string
	Description string

	// CreateTimeout bounds the create call, 30 seconds when zero.
	CreateTimeout time.Duration

	wh warehouse
}

// Ensure creates the dataset when it is missing and reports whether it did.
// A concurrent creator winning the race is not an error.
func (p *DatasetProvisioner) Ensure(ctx context.Context) (bool, error) {
	l := log.Ctx(ctx).With().Str("dataset", p.Dataset).Logger()

	_, err := p.wh.datasetMetadata(ctx, p.Dataset)
	if err == nil {
		l.Info().Msg("dataset already exists")
		return false, nil
	}
	if !isNotFound(err) {
		return false, xerrors.Errorf("failed to get dataset %s: %w", p.Dataset, err)
	}

	timeout := p.CreateTimeout
	if timeout == 0 {
		timeout = defaultDatasetCreateTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	l.Info().Str("location", p.Location).Msg("creating dataset")

	md := &bigquery.DatasetMetadata{
		Location:    p.Location,
		Description: p.Description,
	}
	if err := p.wh.createDataset(cctx, p.Dataset, md); err != nil {
		if isAlreadyExists(err) {
			l.Info().Msg("dataset was created concurrently")
			return false, nil
		}
		return false, xerrors.Errorf("failed to create dataset %s: %w", p.Dataset, err)
	}

	l.Info().Str("location", p.Location).Msg("dataset created")

	return true, nil
}
