package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/marketplace-dispatch/internal/models"
)

// PostgresStore persists requests and providers. All contended mutations go
// through single-statement conditional UPDATEs; RowsAffected tells the caller
// whether the gate held.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) CreateRequest(ctx context.Context, r *models.ServiceRequest) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO requests(id, requester_id, kind, origin_lat, origin_lon, dest_lat, dest_lon, capability, status, provider_id, fare_estimate, payment_ref, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		r.ID, r.RequesterID, r.Kind, r.Origin.Lat, r.Origin.Lon, r.Destination.Lat, r.Destination.Lon,
		r.Capability, r.Status, nullable(r.ProviderID), r.FareEstimate, nullable(r.PaymentRef), r.CreatedAt)
	return err
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (*models.ServiceRequest, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, requester_id, kind, origin_lat, origin_lon, dest_lat, dest_lon, capability, status, COALESCE(provider_id,''), fare_estimate, COALESCE(payment_ref,''), created_at, COALESCE(closed_at, 'epoch'::timestamptz)
		 FROM requests WHERE id=$1`, id)
	var r models.ServiceRequest
	err := row.Scan(&r.ID, &r.RequesterID, &r.Kind, &r.Origin.Lat, &r.Origin.Lon, &r.Destination.Lat, &r.Destination.Lon,
		&r.Capability, &r.Status, &r.ProviderID, &r.FareEstimate, &r.PaymentRef, &r.CreatedAt, &r.ClosedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *PostgresStore) ClaimRequest(ctx context.Context, id, providerID string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE requests SET status=$1, provider_id=$2, updated_at=now() WHERE id=$3 AND status=$4`,
		models.StatusAccepted, providerID, id, models.StatusPending)
	if err != nil {
		return false, err
	}
	return oneRow(res)
}

func (p *PostgresStore) TransitionRequest(ctx context.Context, id string, from, to models.RequestStatus) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if to.Terminal() {
		res, err = p.db.ExecContext(ctx,
			`UPDATE requests SET status=$1, closed_at=now(), updated_at=now() WHERE id=$2 AND status=$3`, to, id, from)
	} else {
		res, err = p.db.ExecContext(ctx,
			`UPDATE requests SET status=$1, updated_at=now() WHERE id=$2 AND status=$3`, to, id, from)
	}
	if err != nil {
		return false, err
	}
	return oneRow(res)
}

func (p *PostgresStore) CreateProvider(ctx context.Context, pr *models.Provider) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO providers(id, name, lat, lon, capability, available, state, rating, last_seen)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		pr.ID, pr.Name, pr.Loc.Lat, pr.Loc.Lon, pr.Capability, pr.Available, pr.State, pr.Rating, pr.LastSeen)
	return err
}

func (p *PostgresStore) GetProvider(ctx context.Context, id string) (*models.Provider, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, name, lat, lon, capability, available, state, COALESCE(assigned_request_id,''), rating, last_seen
		 FROM providers WHERE id=$1`, id)
	var pr models.Provider
	err := row.Scan(&pr.ID, &pr.Name, &pr.Loc.Lat, &pr.Loc.Lon, &pr.Capability, &pr.Available,
		&pr.State, &pr.AssignedRequestID, &pr.Rating, &pr.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

func (p *PostgresStore) AssignProvider(ctx context.Context, id, requestID string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE providers SET state=$1, available=false, assigned_request_id=$2 WHERE id=$3 AND state <> $1`,
		models.ProviderAssigned, requestID, id)
	if err != nil {
		return false, err
	}
	return oneRow(res)
}

func (p *PostgresStore) ReleaseProvider(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE providers SET state=$1, available=true, assigned_request_id=NULL WHERE id=$2`,
		models.ProviderIdle, id)
	return err
}

func (p *PostgresStore) SetAvailability(ctx context.Context, id string, available bool) error {
	_, err := p.db.ExecContext(ctx, `UPDATE providers SET available=$1 WHERE id=$2`, available, id)
	return err
}

func (p *PostgresStore) UpdateLocation(ctx context.Context, id string, loc models.Coord) error {
	_, err := p.db.ExecContext(ctx, `UPDATE providers SET lat=$1, lon=$2, last_seen=$3 WHERE id=$4`,
		loc.Lat, loc.Lon, time.Now(), id)
	return err
}

func oneRow(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
