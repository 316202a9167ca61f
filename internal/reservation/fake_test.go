package reservation

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/serenispa/reservation-engine/internal/directory"
	"github.com/serenispa/reservation-engine/internal/notify"
	redisclient "github.com/serenispa/reservation-engine/internal/redis"
	"github.com/serenispa/reservation-engine/internal/schedule"
)

// fakeRepo is an in-memory Repository mirroring the Postgres
// implementation's contract, including its constraint behavior on
// Insert.
type fakeRepo struct {
	mu     sync.Mutex
	rows   map[uuid.UUID]*Reservation
	events []EventLog
	now    func() time.Time

	insertErr error // forced error for the next Insert, one-shot

	// Advisory-lock emulation: one mutex per therapist, held for the
	// duration of the transaction that acquired it. lockWaiters counts
	// goroutines currently blocked acquiring a therapist lock.
	therapistLocks sync.Map
	lockWaiters    int32
}

func newFakeRepo(now func() time.Time) *fakeRepo {
	return &fakeRepo{rows: make(map[uuid.UUID]*Reservation), now: now}
}

func (f *fakeRepo) clone(r *Reservation) *Reservation {
	c := *r
	return &c
}

func (f *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (*Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return nil, ErrReservationNotFound
	}
	return f.clone(r), nil
}

func (f *fakeRepo) GetByIdempotencyKey(_ context.Context, key string) (*Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.IdempotencyKey != nil && *r.IdempotencyKey == key {
			return f.clone(r), nil
		}
	}
	return nil, ErrReservationNotFound
}

func (f *fakeRepo) ListActiveOverlapping(_ context.Context, therapistID uuid.UUID, windowStart, windowEnd, now time.Time, _ bool) ([]Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Reservation
	for _, r := range f.rows {
		if r.TherapistID != therapistID {
			continue
		}
		if r.StartAt.Before(windowEnd) && r.EndAt.After(windowStart) && r.ActiveAt(now) {
			out = append(out, *f.clone(r))
		}
	}
	sortByStart(out)
	return out, nil
}

func (f *fakeRepo) ListForTherapistRange(_ context.Context, therapistID uuid.UUID, from, to time.Time) ([]Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Reservation
	for _, r := range f.rows {
		if r.TherapistID != therapistID || r.Status.Terminal() {
			continue
		}
		if r.StartAt.Before(to) && r.EndAt.After(from) {
			out = append(out, *f.clone(r))
		}
	}
	sortByStart(out)
	return out, nil
}

func (f *fakeRepo) ListForShopRange(_ context.Context, shopID uuid.UUID, from, to time.Time) ([]Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Reservation
	for _, r := range f.rows {
		if r.ShopID != shopID || r.Status.Terminal() {
			continue
		}
		if r.StartAt.Before(to) && r.EndAt.After(from) {
			out = append(out, *f.clone(r))
		}
	}
	sortByStart(out)
	return out, nil
}

func (f *fakeRepo) CountOverlappingActive(_ context.Context, shopID uuid.UUID, windowStart, windowEnd, now time.Time, _ bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, r := range f.rows {
		if r.ShopID != shopID {
			continue
		}
		if r.StartAt.Before(windowEnd) && r.EndAt.After(windowStart) && r.ActiveAt(now) {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) Insert(_ context.Context, r *Reservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.insertErr != nil {
		err := f.insertErr
		f.insertErr = nil
		return err
	}

	if r.IdempotencyKey != nil {
		for _, existing := range f.rows {
			if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *r.IdempotencyKey {
				return ErrDuplicateIdempotencyKey
			}
		}
	}
	// The exclusion constraint only covers pending/confirmed rows.
	if r.Status == StatusPending || r.Status == StatusConfirmed {
		for _, existing := range f.rows {
			if existing.TherapistID != r.TherapistID {
				continue
			}
			if existing.Status != StatusPending && existing.Status != StatusConfirmed {
				continue
			}
			if existing.StartAt.Before(r.EndAt) && existing.EndAt.After(r.StartAt) {
				return ErrOverlapConstraint
			}
		}
	}

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.CreatedAt = f.now()
	r.UpdatedAt = r.CreatedAt
	f.rows[r.ID] = f.clone(r)
	return nil
}

func (f *fakeRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) (*Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok || r.Status != from {
		return nil, ErrReservationNotFound
	}
	r.Status = to
	r.UpdatedAt = f.now()
	return f.clone(r), nil
}

func (f *fakeRepo) FindStaleHolds(_ context.Context, now time.Time, fallbackTTL time.Duration, limit int) ([]Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Reservation
	for _, r := range f.rows {
		if r.Status != StatusReserved {
			continue
		}
		stale := false
		if r.ReservedUntil != nil {
			stale = !r.ReservedUntil.After(now)
		} else {
			stale = !r.CreatedAt.Add(fallbackTTL).After(now)
		}
		if stale {
			out = append(out, *f.clone(r))
		}
	}
	sortByStart(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) List(_ context.Context, filter Filter) ([]Reservation, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Reservation
	for _, r := range f.rows {
		if filter.ShopID != uuid.Nil && r.ShopID != filter.ShopID {
			continue
		}
		if filter.TherapistID != uuid.Nil && r.TherapistID != filter.TherapistID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, *f.clone(r))
	}
	sortByStart(out)
	return out, len(out), nil
}

func (f *fakeRepo) InsertEvent(_ context.Context, ev EventLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

// LockTherapist on the bare repo is a no-op: the real advisory lock is
// transaction-scoped, so only fakeTx serializes.
func (f *fakeRepo) LockTherapist(context.Context, uuid.UUID) error { return nil }

func (f *fakeRepo) WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	tx := &fakeTx{fakeRepo: f}
	defer tx.releaseLocks()
	return fn(ctx, tx)
}

// fakeTx mirrors the transaction-scoped part of the Postgres contract:
// therapist locks acquired through it are held until the transaction
// ends, whether it commits or rolls back.
type fakeTx struct {
	*fakeRepo
	held []*sync.Mutex
}

func (t *fakeTx) LockTherapist(_ context.Context, therapistID uuid.UUID) error {
	v, _ := t.therapistLocks.LoadOrStore(therapistID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	atomic.AddInt32(&t.lockWaiters, 1)
	mu.Lock()
	atomic.AddInt32(&t.lockWaiters, -1)
	t.held = append(t.held, mu)
	return nil
}

func (t *fakeTx) releaseLocks() {
	for _, mu := range t.held {
		mu.Unlock()
	}
	t.held = nil
}

func (f *fakeRepo) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.EventType)
	}
	return out
}

func sortByStart(rs []Reservation) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].StartAt.Before(rs[j].StartAt) })
}

// fakeShifts serves a static shift roster.
type fakeShifts struct {
	shifts []schedule.Shift
}

func (f *fakeShifts) ListShifts(_ context.Context, therapistID uuid.UUID, from, to time.Time) ([]schedule.Shift, error) {
	var out []schedule.Shift
	for _, sh := range f.shifts {
		if sh.TherapistID != therapistID {
			continue
		}
		if sh.StartAt.Before(to) && sh.EndAt.After(from) {
			out = append(out, sh)
		}
	}
	return out, nil
}

// fakeLocker runs the critical section inline; set blocked to simulate
// losing the lock race.
type fakeLocker struct {
	blocked bool
	err     error
}

func (f *fakeLocker) WithTherapistLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	if f.err != nil {
		return f.err
	}
	if f.blocked {
		return redisclient.ErrLockNotAcquired
	}
	return fn(ctx)
}

// fakeDirectory serves shops and therapists from maps.
type fakeDirectory struct {
	shops      map[uuid.UUID]*directory.Shop
	therapists map[uuid.UUID]*directory.Therapist
}

func (f *fakeDirectory) GetShop(_ context.Context, id uuid.UUID) (*directory.Shop, error) {
	s, ok := f.shops[id]
	if !ok {
		return nil, directory.ErrShopNotFound
	}
	return s, nil
}

func (f *fakeDirectory) GetTherapist(_ context.Context, id uuid.UUID) (*directory.Therapist, error) {
	t, ok := f.therapists[id]
	if !ok {
		return nil, directory.ErrTherapistNotFound
	}
	return t, nil
}

func (f *fakeDirectory) ListByShop(_ context.Context, shopID uuid.UUID) ([]directory.Therapist, error) {
	var out []directory.Therapist
	for _, t := range f.therapists {
		if t.ShopID == shopID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// fakeDispatcher records notification calls.
type fakeDispatcher struct {
	mu        sync.Mutex
	enqueued  []notify.StatusNotification
	reminders map[uuid.UUID]time.Time
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{reminders: make(map[uuid.UUID]time.Time)}
}

func (f *fakeDispatcher) Enqueue(_ context.Context, n notify.StatusNotification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, n)
}

func (f *fakeDispatcher) ScheduleReminder(_ context.Context, reservationID uuid.UUID, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.reminders[reservationID]; ok && !existing.Before(at) {
		return
	}
	f.reminders[reservationID] = at
}

// fakeInvalidator records cache invalidations.
type fakeInvalidator struct {
	mu    sync.Mutex
	calls []time.Time
}

func (f *fakeInvalidator) Invalidate(_ uuid.UUID, day time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, day)
}
