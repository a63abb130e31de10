package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"ridetrack/internal/domain"
	"ridetrack/internal/repository"
)

const driverColumns = `id, COALESCE(name, ''), status, COALESCE(rating, 0), vehicle_type, vehicle_capacity`

// DriverRepository is a PostgreSQL implementation of repository.DriverRepository.
type DriverRepository struct {
	q Querier
}

// NewDriverRepository creates a new PostgreSQL driver repository.
func NewDriverRepository(db *sql.DB) *DriverRepository {
	return &DriverRepository{q: db}
}

// GetByID retrieves a driver by ID.
func (r *DriverRepository) GetByID(ctx context.Context, id string) (*domain.Driver, error) {
	query := `SELECT ` + driverColumns + ` FROM drivers WHERE id = $1`

	driver, err := scanDriver(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return driver, nil
}

// GetByIDs retrieves drivers in a single round trip.
func (r *DriverRepository) GetByIDs(ctx context.Context, ids []string) ([]*domain.Driver, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + driverColumns + ` FROM drivers WHERE id = ANY($1) ORDER BY id`
	rows, err := r.q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	drivers := make([]*domain.Driver, 0, len(ids))
	for rows.Next() {
		driver, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		drivers = append(drivers, driver)
	}
	return drivers, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDriver(row rowScanner) (*domain.Driver, error) {
	var driver domain.Driver
	if err := row.Scan(
		&driver.ID,
		&driver.Name,
		&driver.Status,
		&driver.Rating,
		&driver.Vehicle.Type,
		&driver.Vehicle.Capacity,
	); err != nil {
		return nil, err
	}
	return &driver, nil
}
