package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/finsync/internal/domain"
)

const recordsTable = "records"

func qualifiedTable(projectID, datasetID string) string {
	return "`" + projectID + "." + datasetID + "." + recordsTable + "`"
}

// EnsureRecordsTableWithClient creates the records table from the inferred
// RecordRow schema when it does not exist yet.
func EnsureRecordsTableWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID string) error {
	table := client.DatasetInProject(projectID, datasetID).Table(recordsTable)
	_, err := table.Metadata(ctx)
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Code != http.StatusNotFound {
		return fmt.Errorf("EnsureRecordsTable: reading metadata: %w", err)
	}

	schema, err := bigquery.InferSchema(RecordRow{})
	if err != nil {
		return fmt.Errorf("EnsureRecordsTable: inferring schema: %w", err)
	}
	if err := table.Create(ctx, &bigquery.TableMetadata{
		Schema: schema,
		Clustering: &bigquery.Clustering{
			Fields: []string{"principal_id", "kind"},
		},
	}); err != nil {
		return fmt.Errorf("EnsureRecordsTable: creating table: %w", err)
	}
	return nil
}

// LoadRecordsWithClient returns the principal's collection of kind ordered by position.
func LoadRecordsWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID string, kind domain.Kind, principal string) (domain.Collection, error) {
	q := client.Query(`
		SELECT principal_id, kind, record_id, position, payload, updated_ts
		FROM ` + qualifiedTable(projectID, datasetID) + `
		WHERE principal_id = @principal_id AND kind = @kind
		ORDER BY position, record_id
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "principal_id", Value: principal},
		{Name: "kind", Value: string(kind)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("LoadRecords: query read: %w: %v", domain.ErrBackendUnreachable, err)
	}

	var rows []*RecordRow
	for {
		var r RecordRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("LoadRecords: iter next: %w", err)
		}
		rows = append(rows, &r)
	}
	return collectionFromRows(rows)
}

// ReplaceRecordsWithClient deletes every row of kind for principal and
// inserts c, as one multi-statement transaction.
func ReplaceRecordsWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID string, kind domain.Kind, principal string, c domain.Collection) error {
	rows, err := rowsFromCollection(kind, principal, c, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ReplaceRecords: %w", err)
	}
	table := qualifiedTable(projectID, datasetID)
	q := client.Query(`
		BEGIN TRANSACTION;
		DELETE FROM ` + table + `
		WHERE principal_id = @principal_id AND kind = @kind;
		INSERT INTO ` + table + ` (principal_id, kind, record_id, position, payload, updated_ts)
		SELECT @principal_id, @kind, r.record_id, r.position, r.payload, CURRENT_TIMESTAMP()
		FROM UNNEST(@rows) AS r;
		COMMIT TRANSACTION;
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "principal_id", Value: principal},
		{Name: "kind", Value: string(kind)},
		{Name: "rows", Value: paramsFromRows(rows)},
	}
	if _, err := runDML(ctx, q); err != nil {
		return fmt.Errorf("ReplaceRecords: %w", err)
	}
	return nil
}

// InsertRecordWithClient appends one record after the current last position.
func InsertRecordWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID string, kind domain.Kind, principal string, rec domain.Record) error {
	rows, err := rowsFromCollection(kind, principal, domain.Collection{rec}, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("InsertRecord: %w", err)
	}
	table := qualifiedTable(projectID, datasetID)
	q := client.Query(`
		INSERT INTO ` + table + ` (principal_id, kind, record_id, position, payload, updated_ts)
		SELECT @principal_id, @kind, @record_id,
			(SELECT COALESCE(MAX(position), -1) + 1 FROM ` + table + `
			 WHERE principal_id = @principal_id AND kind = @kind),
			@payload, CURRENT_TIMESTAMP()
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "principal_id", Value: principal},
		{Name: "kind", Value: string(kind)},
		{Name: "record_id", Value: rows[0].RecordID},
		{Name: "payload", Value: rows[0].Payload},
	}
	if _, err := runDML(ctx, q); err != nil {
		return fmt.Errorf("InsertRecord: %w", err)
	}
	return nil
}

// DeleteRecordWithClient removes one record; domain.ErrRecordNotFound when no row matched.
func DeleteRecordWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID string, kind domain.Kind, principal, id string) error {
	q := client.Query(`
		DELETE FROM ` + qualifiedTable(projectID, datasetID) + `
		WHERE principal_id = @principal_id AND kind = @kind AND record_id = @record_id
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "principal_id", Value: principal},
		{Name: "kind", Value: string(kind)},
		{Name: "record_id", Value: id},
	}
	affected, err := runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("DeleteRecord: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("DeleteRecord: %s %s: %w", kind, id, domain.ErrRecordNotFound)
	}
	return nil
}

// runDML runs q, waits for the job and returns the affected row count when
// BigQuery reports one.
func runDML(ctx context.Context, q *bigquery.Query) (int64, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("run query: %w: %v", domain.ErrBackendUnreachable, err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("wait for job: %w", err)
	}

	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job error: %w", err)
	}

	if stats, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
		return stats.NumDMLAffectedRows, nil
	}
	return -1, nil
}
