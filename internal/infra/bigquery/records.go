package bigquery

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dvloznov/finsync/internal/domain"
)

// RecordRow represents one record of one principal's collection in BigQuery.
type RecordRow struct {
	PrincipalID string    `bigquery:"principal_id"` // REQUIRED
	Kind        string    `bigquery:"kind"`         // REQUIRED
	RecordID    string    `bigquery:"record_id"`    // REQUIRED
	Position    int64     `bigquery:"position"`     // REQUIRED
	Payload     string    `bigquery:"payload"`      // REQUIRED JSON-encoded record
	UpdatedTS   time.Time `bigquery:"updated_ts"`   // REQUIRED
}

// recordParam is the STRUCT element of the @rows array parameter.
type recordParam struct {
	RecordID string `bigquery:"record_id"`
	Position int64  `bigquery:"position"`
	Payload  string `bigquery:"payload"`
}

// rowsFromCollection encodes c as rows in collection order.
func rowsFromCollection(kind domain.Kind, principal string, c domain.Collection, now time.Time) ([]*RecordRow, error) {
	rows := make([]*RecordRow, 0, len(c))
	for i, rec := range c {
		payload, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("rowsFromCollection: encoding record %s: %w", rec.ID(), err)
		}
		rows = append(rows, &RecordRow{
			PrincipalID: principal,
			Kind:        string(kind),
			RecordID:    rec.ID(),
			Position:    int64(i),
			Payload:     string(payload),
			UpdatedTS:   now,
		})
	}
	return rows, nil
}

func paramsFromRows(rows []*RecordRow) []recordParam {
	out := make([]recordParam, len(rows))
	for i, r := range rows {
		out[i] = recordParam{RecordID: r.RecordID, Position: r.Position, Payload: r.Payload}
	}
	return out
}

// collectionFromRows decodes rows already ordered by position.
func collectionFromRows(rows []*RecordRow) (domain.Collection, error) {
	c := make(domain.Collection, 0, len(rows))
	for _, r := range rows {
		var rec domain.Record
		if err := json.Unmarshal([]byte(r.Payload), &rec); err != nil {
			return nil, fmt.Errorf("collectionFromRows: record %s: %w: %v", r.RecordID, domain.ErrParse, err)
		}
		c = append(c, rec)
	}
	return c, nil
}
