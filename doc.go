/*

Package pipeline is a daily batch pipeline that ingests a CSV (or XLS) file
of user events into BigQuery through Cloud Storage.

A run validates the newest file in the data directory, uploads it under a
timestamped key, makes sure the dataset exists, replaces the contents of the
raw_user_events table with a load job, computes data quality aggregates and
finally builds the tagged dbt models.

Getting started

	cfg, err := pipeline.LoadConfig("")
	if err != nil {
		panic(err)
	}

	p, err := pipeline.New(ctx, cfg, pipeline.WithPrettyLogging(), pipeline.WithLogLevel("debug"))
	if err != nil {
		panic(err)
	}
	defer p.Close()

	report, err := p.Run(ctx, pipeline.LogicalDate(time.Now(), time.UTC))

Configuration comes from environment variables such as GCP_PROJECT_ID,
BIGQUERY_DATASET, GCS_BUCKET and BIGQUERY_LOCATION, optionally layered over a
YAML file. See LoadConfig.

Concurrent runs

Provisioning and loading are serialised between runs of the same Pipeline.
Runs in different processes are not: the load truncates the table, so the
last load to finish wins.

*/
package pipeline
