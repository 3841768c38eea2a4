package pipeline

import (
	"context"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// loadSpec describes a bulk load from object storage into a table.
type loadSpec struct {
	SourceURI        string
	Table            string
	Schema           bigquery.Schema
	SkipLeadingRows  int64
	WriteDisposition bigquery.TableWriteDisposition

	// AllowQuotedNewlines accepts quoted fields spanning lines, as the
	// validator does.
	AllowQuotedNewlines bool
}

// warehouse is the subset of BigQuery the pipeline talks to.
type warehouse interface {
	datasetMetadata(ctx context.Context, dataset string) (*bigquery.DatasetMetadata, error)
	createDataset(ctx context.Context, dataset string, md *bigquery.DatasetMetadata) error

	// load blocks until the load job reaches a terminal state.
	load(ctx context.Context, dataset string, spec loadSpec) error
	tableRows(ctx context.Context, dataset, table string) (uint64, error)
	query(ctx context.Context, sql string) ([]map[string]bigquery.Value, error)
}

type defaultWarehouse struct {
	bq *bigquery.Client
}

func newDefaultWarehouse(ctx context.Context, project, location string, opts ...option.ClientOption) (*defaultWarehouse, error) {
	bq, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, xerrors.Errorf("failed to build bigquery client for %s: %w", project, err)
	}
	bq.Location = location

	return &defaultWarehouse{bq: bq}, nil
}

func (w *defaultWarehouse) datasetMetadata(ctx context.Context, dataset string) (*bigquery.DatasetMetadata, error) {
	return w.bq.Dataset(dataset).Metadata(ctx)
}

func (w *defaultWarehouse) createDataset(ctx context.Context, dataset string, md *bigquery.DatasetMetadata) error {
	return w.bq.Dataset(dataset).Create(ctx, md)
}

func (w *defaultWarehouse) load(ctx context.Context, dataset string, spec loadSpec) error {
	l := log.Ctx(ctx)

	ref := bigquery.NewGCSReference(spec.SourceURI)
	ref.SourceFormat = bigquery.CSV
	ref.SkipLeadingRows = spec.SkipLeadingRows
	ref.Schema = spec.Schema
	ref.AutoDetect = false
	ref.AllowQuotedNewlines = spec.AllowQuotedNewlines

	loader := w.bq.Dataset(dataset).Table(spec.Table).LoaderFrom(ref)
	loader.WriteDisposition = spec.WriteDisposition
	loader.CreateDisposition = bigquery.CreateIfNeeded

	job, err := loader.Run(ctx)
	if err != nil {
		l.Error().Err(err).Msg("failed to run bigquery load job")
		return err
	}
	l.Debug().Str("job_id", job.ID()).Msg("load job started")

	status, err := job.Wait(ctx)
	if err != nil {
		l.Error().Err(err).Str("job_id", job.ID()).Msg("failed to wait job")
		return err
	}

	if status.Err() != nil {
		for _, e := range status.Errors {
			l.Error().Str("reason", e.Reason).Str("location", e.Location).Msg(e.Message)
		}
		return status.Err()
	}

	return nil
}

func (w *defaultWarehouse) tableRows(ctx context.Context, dataset, table string) (uint64, error) {
	md, err := w.bq.Dataset(dataset).Table(table).Metadata(ctx)
	if err != nil {
		return 0, err
	}

	return md.NumRows, nil
}

func (w *defaultWarehouse) query(ctx context.Context, sql string) ([]map[string]bigquery.Value, error) {
	it, err := w.bq.Query(sql).Read(ctx)
	if err != nil {
		return nil, err
	}

	rows := []map[string]bigquery.Value{}
	for {
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	return rows, nil
}

func (w *defaultWarehouse) close() error {
	return w.bq.Close()
}
