package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"impactweather/internal/types"
)

// LocationRepository provides data access for the tracked_locations table,
// the server-side counterpart of a user's favorite places.
//
// Expected schema:
//
//	CREATE TABLE tracked_locations (
//	    id         UUID PRIMARY KEY,
//	    name       TEXT NOT NULL,
//	    lat        DOUBLE PRECISION NOT NULL,
//	    lon        DOUBLE PRECISION NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type LocationRepository struct {
	db DBTX
}

// NewLocationRepository creates a new LocationRepository backed by the given
// database connection (pool or transaction).
func NewLocationRepository(db DBTX) *LocationRepository {
	return &LocationRepository{db: db}
}

const locationColumns = `l.id, l.name, l.lat, l.lon, l.created_at`

func scanLocation(row pgx.Row) (*types.TrackedLocation, error) {
	var loc types.TrackedLocation
	err := row.Scan(&loc.ID, &loc.Name, &loc.Lat, &loc.Lon, &loc.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &loc, nil
}

// List returns tracked locations ordered oldest first, capped at limit.
func (r *LocationRepository) List(ctx context.Context, limit int) ([]types.TrackedLocation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+locationColumns+`
		 FROM tracked_locations l
		 ORDER BY l.created_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list tracked locations", err)
	}
	defer rows.Close()

	var locations []types.TrackedLocation
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan tracked location", err)
		}
		locations = append(locations, *loc)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read tracked locations", err)
	}
	return locations, nil
}

// Add inserts a new tracked location and returns it with the generated ID.
func (r *LocationRepository) Add(ctx context.Context, name string, lat, lon float64) (*types.TrackedLocation, error) {
	id := uuid.NewString()
	row := r.db.QueryRow(ctx,
		`INSERT INTO tracked_locations (id, name, lat, lon)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, name, lat, lon, created_at`,
		id, name, lat, lon,
	)

	loc, err := scanLocation(row)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to add tracked location", err)
	}
	return loc, nil
}

// Delete removes a tracked location by ID. Returns a not-found error when no
// row matches.
func (r *LocationRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM tracked_locations WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete tracked location", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundLocation, "tracked location not found", nil)
	}
	return nil
}

// GetByID retrieves a tracked location by ID.
func (r *LocationRepository) GetByID(ctx context.Context, id string) (*types.TrackedLocation, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+locationColumns+`
		 FROM tracked_locations l
		 WHERE l.id = $1`,
		id,
	)

	loc, err := scanLocation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundLocation, "tracked location not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve tracked location", err)
	}
	return loc, nil
}
