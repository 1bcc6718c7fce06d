package repository

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rshare/ride-booking-system/shared/catalog"
	"github.com/rshare/ride-booking-system/shared/models"
)

//go:embed schema.sql
var schema string

// CatalogRepository serves vehicle offers from Postgres. Rows describe
// recurring daily departures; Search places them on the requested date.
type CatalogRepository struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

var _ catalog.Catalog = (*CatalogRepository)(nil)

// NewCatalogRepository creates a new repository
func NewCatalogRepository(pool *pgxpool.Pool, loc *time.Location) *CatalogRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &CatalogRepository{pool: pool, loc: loc}
}

// Migrate creates the catalog tables if they do not exist
func (r *CatalogRepository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// offerRow is one vehicle_offers row
type offerRow struct {
	ID               string
	CarType          string
	DriverName       string
	Rating           float64
	FarePerSeat      int64
	DepartureMinutes int
	DurationMinutes  int
}

type seatRow struct {
	VehicleID string
	SeatID    string
	Available bool
}

// Search returns the offers serving the trip's route, or every offer with no
// route restriction
func (r *CatalogRepository) Search(ctx context.Context, trip models.TripRequest) ([]models.VehicleOffer, error) {
	day, err := time.ParseInLocation(models.DateLayout, trip.Date, r.loc)
	if err != nil {
		return nil, fmt.Errorf("invalid trip date %q: %w", trip.Date, err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, car_type, driver_name, rating, fare_per_seat, departure_minutes, duration_minutes
		FROM vehicle_offers
		WHERE active
		  AND (source IS NULL OR lower(source) = lower($1))
		  AND (destination IS NULL OR lower(destination) = lower($2))
		ORDER BY position ASC, id ASC
	`, trip.Source, trip.Destination)
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicle offers: %w", err)
	}
	defer rows.Close()

	var offers []offerRow
	var ids []string
	for rows.Next() {
		var o offerRow
		if err := rows.Scan(&o.ID, &o.CarType, &o.DriverName, &o.Rating, &o.FarePerSeat, &o.DepartureMinutes, &o.DurationMinutes); err != nil {
			return nil, fmt.Errorf("failed to scan vehicle offer: %w", err)
		}
		offers = append(offers, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vehicle offers: %w", err)
	}
	if len(offers) == 0 {
		return []models.VehicleOffer{}, nil
	}

	seatRows, err := r.pool.Query(ctx, `
		SELECT vehicle_id, seat_id, available
		FROM vehicle_seats
		WHERE vehicle_id = ANY($1)
		ORDER BY vehicle_id, position ASC
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query seats: %w", err)
	}
	defer seatRows.Close()

	var seats []seatRow
	for seatRows.Next() {
		var s seatRow
		if err := seatRows.Scan(&s.VehicleID, &s.SeatID, &s.Available); err != nil {
			return nil, fmt.Errorf("failed to scan seat: %w", err)
		}
		seats = append(seats, s)
	}
	if err := seatRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read seats: %w", err)
	}

	return assembleOffers(offers, seats, day, trip), nil
}

func assembleOffers(offers []offerRow, seats []seatRow, day time.Time, trip models.TripRequest) []models.VehicleOffer {
	byVehicle := make(map[string][]models.Seat, len(offers))
	for _, s := range seats {
		byVehicle[s.VehicleID] = append(byVehicle[s.VehicleID], models.Seat{ID: s.SeatID, Available: s.Available})
	}

	out := make([]models.VehicleOffer, 0, len(offers))
	for _, o := range offers {
		departure := day.Add(time.Duration(o.DepartureMinutes) * time.Minute)
		out = append(out, models.VehicleOffer{
			ID:            o.ID,
			CarType:       o.CarType,
			DriverName:    o.DriverName,
			Rating:        o.Rating,
			FarePerSeat:   o.FarePerSeat,
			DepartureTime: departure,
			ArrivalTime:   departure.Add(time.Duration(o.DurationMinutes) * time.Minute),
			Seats:         byVehicle[o.ID],
			RouteSummary:  catalog.RouteSummary(trip),
			Date:          trip.Date,
		})
	}
	return out
}

// SeedIfEmpty loads offers into an empty catalog. Departure times are
// stored as minutes after midnight.
func (r *CatalogRepository) SeedIfEmpty(ctx context.Context, offers []models.VehicleOffer) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var count int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM vehicle_offers`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count vehicle offers: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for i, o := range offers {
		local := o.DepartureTime.In(r.loc)
		batch.Queue(`
			INSERT INTO vehicle_offers (id, car_type, driver_name, rating, fare_per_seat, departure_minutes, duration_minutes, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, o.ID, o.CarType, o.DriverName, o.Rating, o.FarePerSeat,
			local.Hour()*60+local.Minute(), int(o.ArrivalTime.Sub(o.DepartureTime).Minutes()), i)
		for j, s := range o.Seats {
			batch.Queue(`
				INSERT INTO vehicle_seats (vehicle_id, seat_id, available, position)
				VALUES ($1, $2, $3, $4)
			`, o.ID, s.ID, s.Available, j)
		}
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("failed to seed vehicle offers: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit seed: %w", err)
	}
	return len(offers), nil
}
