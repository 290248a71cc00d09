package archive

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

// BigQueryRecorder streams run rows into dataset.table.
type BigQueryRecorder struct {
	client  *bigquery.Client
	dataset string
	table   string
}

func NewBigQueryRecorder(ctx context.Context, projectID, dataset, table, credentialsFile string) (*BigQueryRecorder, error) {
	client, err := bigquery.NewClient(ctx, projectID, clientOptions(credentialsFile)...)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryRecorder: bigquery client: %w", err)
	}
	return &BigQueryRecorder{client: client, dataset: dataset, table: table}, nil
}

// RecordRun inserts row. The run id doubles as the insert id so retried jobs
// do not duplicate rows.
func (r *BigQueryRecorder) RecordRun(ctx context.Context, row *RunRow) error {
	inserter := r.client.Dataset(r.dataset).Table(r.table).Inserter()
	saver := &bigquery.StructSaver{Struct: row, InsertID: row.RunID}
	if err := inserter.Put(ctx, saver); err != nil {
		return fmt.Errorf("RecordRun: inserting row: %w", err)
	}
	return nil
}

func (r *BigQueryRecorder) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
