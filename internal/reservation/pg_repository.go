package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same
// repository code runs inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool   *pgxpool.Pool
	db     querier
	logger zerolog.Logger
}

func NewPgRepository(pool *pgxpool.Pool, logger zerolog.Logger) *PgRepository {
	return &PgRepository{
		pool:   pool,
		db:     pool,
		logger: logger.With().Str("component", "reservation_repo").Logger(),
	}
}

const reservationColumns = `
	id, shop_id, therapist_id, start_at, end_at,
	duration_minutes, planned_extension_minutes, buffer_minutes,
	reserved_until, idempotency_key, status, user_id, guest_token, notes,
	created_at, updated_at
`

func scanReservation(row pgx.Row) (*Reservation, error) {
	var r Reservation
	err := row.Scan(
		&r.ID,
		&r.ShopID,
		&r.TherapistID,
		&r.StartAt,
		&r.EndAt,
		&r.DurationMinutes,
		&r.PlannedExtensionMinutes,
		&r.BufferMinutes,
		&r.ReservedUntil,
		&r.IdempotencyKey,
		&r.Status,
		&r.UserID,
		&r.GuestToken,
		&r.Notes,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	return &r, nil
}

func collectReservations(rows pgx.Rows) ([]Reservation, error) {
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// activePredicate mirrors Reservation.ActiveAt in SQL. %[1]s is the
// evaluation instant and %[2]s is now - DefaultHoldTTL for holds
// missing reserved_until.
const activePredicate = `
	(status IN ('pending', 'confirmed')
	 OR (status = 'reserved'
	     AND ((reserved_until IS NOT NULL AND reserved_until > %[1]s)
	          OR (reserved_until IS NULL AND created_at > %[2]s))))
`

func (p *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	row := p.db.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE id = $1
	`, id)
	return scanReservation(row)
}

func (p *PgRepository) GetByIdempotencyKey(ctx context.Context, key string) (*Reservation, error) {
	row := p.db.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE idempotency_key = $1
	`, key)
	return scanReservation(row)
}

func (p *PgRepository) ListActiveOverlapping(ctx context.Context, therapistID uuid.UUID, windowStart, windowEnd, now time.Time, lock bool) ([]Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE therapist_id = $1
		  AND start_at < $3
		  AND end_at > $2
		  AND ` + fmt.Sprintf(activePredicate, "$4", "$5") + `
		ORDER BY start_at`
	args := []any{therapistID, windowStart, windowEnd, now, now.Add(-DefaultHoldTTL)}

	if lock {
		rows, err := p.db.Query(ctx, query+` FOR UPDATE`, args...)
		if err == nil {
			return collectReservations(rows)
		}
		// Some storage setups cannot take a row lock here (read replica,
		// lock timeout). Degrade to an unlocked check instead of failing
		// the request.
		p.logger.Warn().Err(err).
			Str("therapist_id", therapistID.String()).
			Msg("row lock unavailable, falling back to unlocked overlap check")
	}

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active overlapping: %w", err)
	}
	return collectReservations(rows)
}

func (p *PgRepository) ListForTherapistRange(ctx context.Context, therapistID uuid.UUID, from, to time.Time) ([]Reservation, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE therapist_id = $1
		  AND start_at < $3
		  AND end_at > $2
		  AND status IN ('reserved', 'pending', 'confirmed')
		ORDER BY start_at
	`, therapistID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list therapist reservations: %w", err)
	}
	return collectReservations(rows)
}

func (p *PgRepository) ListForShopRange(ctx context.Context, shopID uuid.UUID, from, to time.Time) ([]Reservation, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE shop_id = $1
		  AND start_at < $3
		  AND end_at > $2
		  AND status IN ('reserved', 'pending', 'confirmed')
		ORDER BY therapist_id, start_at
	`, shopID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list shop reservations: %w", err)
	}
	return collectReservations(rows)
}

func (p *PgRepository) CountOverlappingActive(ctx context.Context, shopID uuid.UUID, windowStart, windowEnd, now time.Time, lock bool) (int, error) {
	args := []any{shopID, windowStart, windowEnd, now, now.Add(-DefaultHoldTTL)}

	if lock {
		// Counting under FOR UPDATE requires selecting the rows.
		query := `
			SELECT id
			FROM reservations
			WHERE shop_id = $1
			  AND start_at < $3
			  AND end_at > $2
			  AND ` + fmt.Sprintf(activePredicate, "$4", "$5") + `
			FOR UPDATE`
		rows, err := p.db.Query(ctx, query, args...)
		if err == nil {
			defer rows.Close()
			count := 0
			for rows.Next() {
				count++
			}
			return count, rows.Err()
		}
		p.logger.Warn().Err(err).
			Str("shop_id", shopID.String()).
			Msg("row lock unavailable, falling back to unlocked capacity count")
	}

	query := `
		SELECT count(*)
		FROM reservations
		WHERE shop_id = $1
		  AND start_at < $3
		  AND end_at > $2
		  AND ` + fmt.Sprintf(activePredicate, "$4", "$5")

	var count int
	if err := p.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count overlapping active: %w", err)
	}
	return count, nil
}

// LockTherapist serializes booking transactions per therapist with a
// transaction-scoped advisory lock. hashtextextended folds the UUID
// into the bigint key space; the lock releases automatically at commit
// or rollback.
func (p *PgRepository) LockTherapist(ctx context.Context, therapistID uuid.UUID) error {
	_, err := p.db.Exec(ctx, `
		SELECT pg_advisory_xact_lock(hashtextextended($1, 0))
	`, therapistID.String())
	if err != nil {
		return fmt.Errorf("acquire therapist booking lock: %w", err)
	}
	return nil
}

func (p *PgRepository) Insert(ctx context.Context, r *Reservation) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}

	row := p.db.QueryRow(ctx, `
		INSERT INTO reservations (
			id, shop_id, therapist_id, start_at, end_at,
			duration_minutes, planned_extension_minutes, buffer_minutes,
			reserved_until, idempotency_key, status, user_id, guest_token, notes,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now(), now())
		RETURNING created_at, updated_at
	`,
		r.ID, r.ShopID, r.TherapistID, r.StartAt, r.EndAt,
		r.DurationMinutes, r.PlannedExtensionMinutes, r.BufferMinutes,
		r.ReservedUntil, r.IdempotencyKey, r.Status, r.UserID, r.GuestToken, r.Notes,
	)

	if err := row.Scan(&r.CreatedAt, &r.UpdatedAt); err != nil {
		return translateInsertError(err)
	}
	return nil
}

// translateInsertError maps storage constraint violations to domain
// errors so callers never see raw pg errors for expected contention.
func translateInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			if strings.Contains(pgErr.ConstraintName, "idempotency") {
				return ErrDuplicateIdempotencyKey
			}
			return ErrOverlapConstraint
		case pgerrcode.ExclusionViolation:
			return ErrOverlapConstraint
		}
	}
	return fmt.Errorf("insert reservation: %w", err)
}

func (p *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Reservation, error) {
	row := p.db.QueryRow(ctx, `
		UPDATE reservations
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+reservationColumns+`
	`, id, to, from)
	return scanReservation(row)
}

func (p *PgRepository) FindStaleHolds(ctx context.Context, now time.Time, fallbackTTL time.Duration, limit int) ([]Reservation, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := p.db.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE status = 'reserved'
		  AND ((reserved_until IS NOT NULL AND reserved_until <= $1)
		       OR (reserved_until IS NULL AND created_at <= $2))
		ORDER BY created_at
		LIMIT $3
	`, now, now.Add(-fallbackTTL), limit)
	if err != nil {
		return nil, fmt.Errorf("find stale holds: %w", err)
	}
	return collectReservations(rows)
}

func (p *PgRepository) List(ctx context.Context, f Filter) ([]Reservation, int, error) {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	builder := psql.Select(
		"id", "shop_id", "therapist_id", "start_at", "end_at",
		"duration_minutes", "planned_extension_minutes", "buffer_minutes",
		"reserved_until", "idempotency_key", "status", "user_id", "guest_token", "notes",
		"created_at", "updated_at",
		"count(*) OVER() AS total_count",
	).From("reservations")

	if f.ShopID != uuid.Nil {
		builder = builder.Where(squirrel.Eq{"shop_id": f.ShopID})
	}
	if f.TherapistID != uuid.Nil {
		builder = builder.Where(squirrel.Eq{"therapist_id": f.TherapistID})
	}
	if f.Status != "" {
		builder = builder.Where(squirrel.Eq{"status": f.Status})
	}
	if !f.From.IsZero() {
		builder = builder.Where(squirrel.Gt{"end_at": f.From})
	}
	if !f.To.IsZero() {
		builder = builder.Where(squirrel.Lt{"start_at": f.To})
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	builder = builder.OrderBy("start_at").Limit(uint64(limit)).Offset(uint64(offset))

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	var (
		out   []Reservation
		total int
	)
	for rows.Next() {
		var r Reservation
		err := rows.Scan(
			&r.ID, &r.ShopID, &r.TherapistID, &r.StartAt, &r.EndAt,
			&r.DurationMinutes, &r.PlannedExtensionMinutes, &r.BufferMinutes,
			&r.ReservedUntil, &r.IdempotencyKey, &r.Status, &r.UserID, &r.GuestToken, &r.Notes,
			&r.CreatedAt, &r.UpdatedAt,
			&total,
		)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

func (p *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO reservation_events (event_type, reservation_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.ReservationID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert reservation event: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (p *PgRepository) WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txRepo := &PgRepository{pool: p.pool, db: tx, logger: p.logger}
	if err := fn(ctx, txRepo); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
