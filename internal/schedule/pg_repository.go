package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository loads assembled shifts. The relational store is the single
// source of truth; callers never see raw break payloads.
type Repository interface {
	// ListShifts returns shifts for one therapist whose windows overlap
	// [from, to), ordered by start.
	ListShifts(ctx context.Context, therapistID uuid.UUID, from, to time.Time) ([]Shift, error)
	// ListShiftsForShop batch-fetches shifts for every therapist at a
	// shop in one query pass, for listing endpoints.
	ListShiftsForShop(ctx context.Context, shopID uuid.UUID, from, to time.Time) ([]Shift, error)
}

type PgRepository struct {
	pool *pgxpool.Pool

	mu  sync.Mutex
	tzs map[string]*time.Location
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, tzs: make(map[string]*time.Location)}
}

const shiftColumns = `
	sh.id, sh.therapist_id, sh.shop_id, sh.shift_date, sh.start_at, sh.end_at,
	sh.availability_status, sh.break_slots, sh.created_at, sh.updated_at,
	s.timezone
`

func (r *PgRepository) ListShifts(ctx context.Context, therapistID uuid.UUID, from, to time.Time) ([]Shift, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts sh
		JOIN shops s ON s.id = sh.shop_id
		WHERE sh.therapist_id = $1
		  AND sh.start_at < $3
		  AND sh.end_at > $2
		ORDER BY sh.start_at
	`, therapistID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list shifts: %w", err)
	}
	defer rows.Close()

	return r.collectShifts(rows)
}

func (r *PgRepository) ListShiftsForShop(ctx context.Context, shopID uuid.UUID, from, to time.Time) ([]Shift, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts sh
		JOIN shops s ON s.id = sh.shop_id
		WHERE sh.shop_id = $1
		  AND sh.start_at < $3
		  AND sh.end_at > $2
		ORDER BY sh.therapist_id, sh.start_at
	`, shopID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list shop shifts: %w", err)
	}
	defer rows.Close()

	return r.collectShifts(rows)
}

func (r *PgRepository) collectShifts(rows pgx.Rows) ([]Shift, error) {
	var out []Shift
	for rows.Next() {
		sh, err := r.scanShift(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sh)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PgRepository) scanShift(row pgx.Row) (*Shift, error) {
	var (
		sh       Shift
		rawDate  time.Time
		breaks   []byte
		tzName   string
	)

	err := row.Scan(
		&sh.ID,
		&sh.TherapistID,
		&sh.ShopID,
		&rawDate,
		&sh.StartAt,
		&sh.EndAt,
		&sh.Status,
		&breaks,
		&sh.CreatedAt,
		&sh.UpdatedAt,
		&tzName,
	)
	if err != nil {
		return nil, err
	}

	loc, err := r.location(tzName)
	if err != nil {
		return nil, err
	}

	local := rawDate.In(loc)
	sh.Date = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	parsed, err := ParseBreaks(breaks, sh.Date, loc)
	if err != nil {
		return nil, fmt.Errorf("shift %s: %w", sh.ID, err)
	}
	sh.Breaks = parsed

	return &sh, nil
}

func (r *PgRepository) location(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if loc, ok := r.tzs[name]; ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	r.tzs[name] = loc
	return loc, nil
}
