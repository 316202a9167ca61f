package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/serenispa/reservation-engine/internal/schedule"
)

type PgDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

// hoursPayload is the business_hours JSON column shape.
type hoursPayload struct {
	Weekly    map[string][]schedule.Segment `json:"weekly"`
	Overrides map[string][]schedule.Segment `json:"overrides"`
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func (d *PgDirectory) GetShop(ctx context.Context, id uuid.UUID) (*Shop, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT id, name, timezone, room_count, buffer_minutes,
		       booking_deadline_minutes, max_extension_minutes,
		       extension_step_minutes, business_hours
		FROM shops
		WHERE id = $1
	`, id)

	var (
		s        Shop
		tzName   string
		rawHours []byte
	)
	err := row.Scan(
		&s.ID,
		&s.Name,
		&tzName,
		&s.RoomCount,
		&s.BufferMinutes,
		&s.BookingDeadlineMinutes,
		&s.Rules.MaxExtensionMinutes,
		&s.Rules.ExtensionStepMinutes,
		&rawHours,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrShopNotFound
		}
		return nil, err
	}
	s.Rules.BaseBufferMinutes = s.BufferMinutes

	loc := time.UTC
	if tzName != "" {
		loc, err = time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("shop %s: load timezone %q: %w", s.ID, tzName, err)
		}
	}
	s.Location = loc

	hours, err := parseHours(rawHours, loc)
	if err != nil {
		return nil, fmt.Errorf("shop %s: %w", s.ID, err)
	}
	s.Hours = hours

	return &s, nil
}

func parseHours(raw []byte, loc *time.Location) (*schedule.BusinessHours, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var payload hoursPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode business hours: %w", err)
	}
	if len(payload.Weekly) == 0 && len(payload.Overrides) == 0 {
		return nil, nil
	}

	bh := &schedule.BusinessHours{
		Location:  loc,
		Weekly:    make(map[time.Weekday][]schedule.Segment),
		Overrides: payload.Overrides,
	}
	for name, segs := range payload.Weekly {
		wd, ok := weekdayNames[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q in business hours", name)
		}
		bh.Weekly[wd] = segs
	}
	return bh, nil
}

func (d *PgDirectory) GetTherapist(ctx context.Context, id uuid.UUID) (*Therapist, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT id, shop_id, name, display_order
		FROM therapists
		WHERE id = $1
	`, id)

	var t Therapist
	if err := row.Scan(&t.ID, &t.ShopID, &t.Name, &t.DisplayOrder); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTherapistNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (d *PgDirectory) ListByShop(ctx context.Context, shopID uuid.UUID) ([]Therapist, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, shop_id, name, display_order
		FROM therapists
		WHERE shop_id = $1
		ORDER BY display_order, id
	`, shopID)
	if err != nil {
		return nil, fmt.Errorf("list therapists: %w", err)
	}
	defer rows.Close()

	var out []Therapist
	for rows.Next() {
		var t Therapist
		if err := rows.Scan(&t.ID, &t.ShopID, &t.Name, &t.DisplayOrder); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
