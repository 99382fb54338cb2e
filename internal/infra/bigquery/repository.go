// Package bigquery stores record collections in a BigQuery table and
// implements remote.Adapter on top of it.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/finsync/internal/domain"
	"github.com/dvloznov/finsync/internal/remote"
)

// BigQueryRecordRepository is the remote.Adapter backed by the
// {project}.{dataset}.records table. It holds a shared BigQuery client.
type BigQueryRecordRepository struct {
	client           *bigquery.Client
	projectID        string
	datasetID        string
	defaultPrincipal string
}

// NewBigQueryRecordRepository creates the client and makes sure the records
// table exists.
func NewBigQueryRecordRepository(ctx context.Context, projectID, datasetID, defaultPrincipal string) (*BigQueryRecordRepository, error) {
	if projectID == "" || datasetID == "" {
		return nil, fmt.Errorf("NewBigQueryRecordRepository: project and dataset are required")
	}
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryRecordRepository: creating client: %w", err)
	}
	if err := EnsureRecordsTableWithClient(ctx, client, projectID, datasetID); err != nil {
		client.Close()
		return nil, fmt.Errorf("NewBigQueryRecordRepository: %w", err)
	}
	return &BigQueryRecordRepository{
		client:           client,
		projectID:        projectID,
		datasetID:        datasetID,
		defaultPrincipal: defaultPrincipal,
	}, nil
}

// Close closes the BigQuery client connection.
func (r *BigQueryRecordRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *BigQueryRecordRepository) Principal(ctx context.Context) (string, bool) {
	return remote.ResolvePrincipal(ctx, r.defaultPrincipal)
}

func (r *BigQueryRecordRepository) Load(ctx context.Context, kind domain.Kind, principal string) (domain.Collection, error) {
	return LoadRecordsWithClient(ctx, r.client, r.projectID, r.datasetID, kind, principal)
}

func (r *BigQueryRecordRepository) ReplaceAll(ctx context.Context, kind domain.Kind, principal string, c domain.Collection) error {
	return ReplaceRecordsWithClient(ctx, r.client, r.projectID, r.datasetID, kind, principal, c)
}

func (r *BigQueryRecordRepository) Insert(ctx context.Context, kind domain.Kind, principal string, rec domain.Record) error {
	return InsertRecordWithClient(ctx, r.client, r.projectID, r.datasetID, kind, principal, rec)
}

func (r *BigQueryRecordRepository) Delete(ctx context.Context, kind domain.Kind, principal, id string) error {
	return DeleteRecordWithClient(ctx, r.client, r.projectID, r.datasetID, kind, principal, id)
}

var _ remote.Adapter = (*BigQueryRecordRepository)(nil)
