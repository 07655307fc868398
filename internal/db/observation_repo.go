package db

import (
	"context"
	"time"

	"peakload/internal/types"
)

// ObservationRepository reads daily outbound volumes from the
// outbound_volume(day date, volume bigint) table.
type ObservationRepository struct {
	db DBTX
}

// NewObservationRepository creates a repository backed by db.
func NewObservationRepository(db DBTX) *ObservationRepository {
	return &ObservationRepository{db: db}
}

const listObservationsSQL = `SELECT day, volume
FROM outbound_volume
WHERE ($1::date IS NULL OR day >= $1::date)
  AND ($2::date IS NULL OR day <= $2::date)
ORDER BY day`

// List returns the observations between from and to inclusive, ordered by
// day. A zero bound is open. Rows are returned as stored; duplicate and
// negative checks belong to the series validator.
func (r *ObservationRepository) List(ctx context.Context, from, to time.Time) ([]types.Observation, error) {
	rows, err := r.db.Query(ctx, listObservationsSQL, dateArg(from), dateArg(to))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query outbound volume", err)
	}
	defer rows.Close()

	var out []types.Observation
	for rows.Next() {
		var (
			day    time.Time
			volume int64
		)
		if err := rows.Scan(&day, &volume); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan outbound volume row", err)
		}
		out = append(out, types.Observation{
			Date:   time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC),
			Volume: volume,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read outbound volume", err)
	}
	return out, nil
}

func dateArg(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
