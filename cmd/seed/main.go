package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/serenispa/reservation-engine/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	shopIDs, err := seedShops(context.Background(), pool, 5)
	if err != nil {
		log.Fatalf("seed shops: %v", err)
	}
	therapistIDs, err := seedTherapists(context.Background(), pool, shopIDs, 8)
	if err != nil {
		log.Fatalf("seed therapists: %v", err)
	}
	if err := seedShifts(context.Background(), pool, therapistIDs, 14); err != nil {
		log.Fatalf("seed shifts: %v", err)
	}

	log.Println("seed complete")
}

var timezones = []string{
	"Asia/Tokyo",
	"Asia/Tokyo",
	"Asia/Tokyo",
	"America/New_York",
	"Europe/London",
}

func defaultHours() []byte {
	hours := map[string]any{
		"weekly": map[string][]map[string]string{
			"monday":    {{"open": "10:00", "close": "20:00"}},
			"tuesday":   {{"open": "10:00", "close": "20:00"}},
			"wednesday": {{"open": "10:00", "close": "20:00"}},
			"thursday":  {{"open": "10:00", "close": "20:00"}},
			"friday":    {{"open": "10:00", "close": "22:00"}},
			"saturday":  {{"open": "09:00", "close": "22:00"}},
			"sunday":    {{"open": "09:00", "close": "19:00"}},
		},
	}
	data, _ := json.Marshal(hours)
	return data
}

func seedShops(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d shops", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		tz := timezones[i%len(timezones)]

		_, err := tx.Exec(ctx, `
			INSERT INTO shops (
				id, name, timezone, room_count, buffer_minutes,
				booking_deadline_minutes, max_extension_minutes,
				extension_step_minutes, business_hours, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		`, id, gofakeit.Company()+" Spa", tz,
			gofakeit.Number(2, 6), 10, 30, 60, 15, defaultHours())
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("shops seeded")
	return ids, nil
}

func seedTherapists(ctx context.Context, pool *pgxpool.Pool, shopIDs []uuid.UUID, perShop int) ([]uuid.UUID, error) {
	log.Printf("seeding %d therapists per shop", perShop)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var ids []uuid.UUID
	for _, shopID := range shopIDs {
		for i := 0; i < perShop; i++ {
			id := uuid.New()
			_, err := tx.Exec(ctx, `
				INSERT INTO therapists (id, shop_id, name, display_order, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, id, shopID, gofakeit.Name(), i)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("therapists seeded")
	return ids, nil
}

func seedShifts(ctx context.Context, pool *pgxpool.Pool, therapistIDs []uuid.UUID, days int) error {
	log.Printf("seeding %d days of shifts for %d therapists", days, len(therapistIDs))

	const batchSize = 500

	type shiftRow struct {
		therapistID uuid.UUID
		shopID      uuid.UUID
		date        time.Time
		start       time.Time
		end         time.Time
		breaks      []byte
	}

	shopByTherapist := make(map[uuid.UUID]uuid.UUID)
	rows, err := pool.Query(ctx, `SELECT id, shop_id FROM therapists`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var tID, sID uuid.UUID
		if err := rows.Scan(&tID, &sID); err != nil {
			rows.Close()
			return err
		}
		shopByTherapist[tID] = sID
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	var pending []shiftRow
	today := time.Now().Truncate(24 * time.Hour)
	for _, tID := range therapistIDs {
		for d := 0; d < days; d++ {
			// Roughly one day off per week.
			if gofakeit.Number(0, 6) == 0 {
				continue
			}
			day := today.AddDate(0, 0, d)
			start := day.Add(time.Duration(gofakeit.Number(9, 11)) * time.Hour)
			end := start.Add(time.Duration(gofakeit.Number(7, 9)) * time.Hour)
			lunch := start.Add(3 * time.Hour)
			breaks, _ := json.Marshal([]map[string]string{{
				"start_at": lunch.Format(time.RFC3339),
				"end_at":   lunch.Add(time.Hour).Format(time.RFC3339),
			}})

			pending = append(pending, shiftRow{
				therapistID: tID,
				shopID:      shopByTherapist[tID],
				date:        day,
				start:       start,
				end:         end,
				breaks:      breaks,
			})
		}
	}

	for offset := 0; offset < len(pending); offset += batchSize {
		endIdx := offset + batchSize
		if endIdx > len(pending) {
			endIdx = len(pending)
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for _, sh := range pending[offset:endIdx] {
			_, err := tx.Exec(ctx, `
				INSERT INTO shifts (
					id, therapist_id, shop_id, shift_date, start_at, end_at,
					availability_status, break_slots, created_at, updated_at
				)
				VALUES ($1, $2, $3, $4, $5, $6, 'available', $7, now(), now())
			`, uuid.New(), sh.therapistID, sh.shopID, sh.date, sh.start, sh.end, sh.breaks)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("shifts seeded: %d/%d", endIdx, len(pending))
	}

	log.Println("shifts seeded")
	return nil
}
