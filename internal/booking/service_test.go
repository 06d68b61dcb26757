package booking

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bcx0/agenda/internal/config"
	"github.com/bcx0/agenda/internal/notify"
	redisclient "github.com/bcx0/agenda/internal/redis"
	"github.com/bcx0/agenda/internal/tz"
)

// memRepo is an in-memory Repository. A transaction mutex serializes
// WithTx bodies the way row locks would in Postgres, so the service's
// check-then-write sequences stay atomic under concurrent tests.
type memRepo struct {
	mu   sync.Mutex
	txMu sync.Mutex

	clients   map[uuid.UUID]*Client
	settings  Settings
	rules     []WeeklyRule
	overrides []DateOverride
	holds     []RecurringHold
	blocks    []LegacyBlock
	bookings  map[uuid.UUID]*Booking
	nextID    int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		clients:  make(map[uuid.UUID]*Client),
		settings: DefaultSettings(),
		bookings: make(map[uuid.UUID]*Booking),
	}
}

func (r *memRepo) WithTx(ctx context.Context, fn func(Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	return fn(r)
}

func (r *memRepo) GetClientByID(_ context.Context, id uuid.UUID) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return nil, ErrClientNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memRepo) GetSettings(_ context.Context) (Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings, nil
}

func (r *memRepo) UpsertSettings(_ context.Context, s Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = s
	return nil
}

func (r *memRepo) ListWeeklyRules(_ context.Context) ([]WeeklyRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]WeeklyRule(nil), r.rules...), nil
}

func (r *memRepo) ReplaceWeeklyRulesForDay(_ context.Context, dayOfWeek int, ranges []MinuteRange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.rules[:0]
	for _, rule := range r.rules {
		if rule.DayOfWeek != dayOfWeek {
			kept = append(kept, rule)
		}
	}
	r.rules = kept
	for _, rng := range ranges {
		r.nextID++
		r.rules = append(r.rules, WeeklyRule{ID: r.nextID, DayOfWeek: dayOfWeek, StartMin: rng.StartMin, EndMin: rng.EndMin})
	}
	return nil
}

func (r *memRepo) DeleteWeeklyRulesForDay(ctx context.Context, dayOfWeek int) error {
	return r.ReplaceWeeklyRulesForDay(ctx, dayOfWeek, nil)
}

func (r *memRepo) ListOverridesInRange(_ context.Context, from, to time.Time) ([]DateOverride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []DateOverride
	for _, o := range r.overrides {
		if !o.Date.Before(from) && o.Date.Before(to) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *memRepo) CreateOverride(_ context.Context, o *DateOverride) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	o.ID = r.nextID
	r.overrides = append(r.overrides, *o)
	return nil
}

func (r *memRepo) DeleteOverride(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.overrides[:0]
	for _, o := range r.overrides {
		if o.ID != id {
			kept = append(kept, o)
		}
	}
	r.overrides = kept
	return nil
}

func (r *memRepo) ReplaceOpenOverridesForDate(_ context.Context, date time.Time, ranges []MinuteRange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.overrides[:0]
	for _, o := range r.overrides {
		if !(o.Kind == "OPEN" && o.Date.Equal(date)) {
			kept = append(kept, o)
		}
	}
	r.overrides = kept
	for _, rng := range ranges {
		r.nextID++
		r.overrides = append(r.overrides, DateOverride{ID: r.nextID, Date: date, StartMin: rng.StartMin, EndMin: rng.EndMin, Kind: "OPEN"})
	}
	return nil
}

func (r *memRepo) ListHolds(_ context.Context) ([]RecurringHold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecurringHold(nil), r.holds...), nil
}

func (r *memRepo) CreateHold(_ context.Context, h *RecurringHold) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	h.ID = r.nextID
	r.holds = append(r.holds, *h)
	return nil
}

func (r *memRepo) DeleteHold(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.holds[:0]
	for _, h := range r.holds {
		if h.ID != id {
			kept = append(kept, h)
		}
	}
	r.holds = kept
	return nil
}

func (r *memRepo) ListBlocksOverlapping(_ context.Context, from, to time.Time) ([]LegacyBlock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LegacyBlock
	for _, b := range r.blocks {
		if b.StartAt.Before(to) && from.Before(b.EndAt) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *memRepo) CreateBlock(_ context.Context, b *LegacyBlock) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	b.ID = r.nextID
	r.blocks = append(r.blocks, *b)
	return nil
}

func (r *memRepo) DeleteBlock(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.blocks[:0]
	for _, b := range r.blocks {
		if b.ID != id {
			kept = append(kept, b)
		}
	}
	r.blocks = kept
	return nil
}

func (r *memRepo) GetBookingByID(_ context.Context, id uuid.UUID) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *memRepo) GetBookingByToken(_ context.Context, token string, now time.Time) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bookings {
		if b.ManageToken != nil && *b.ManageToken == token &&
			b.ManageTokenExpiresAt != nil && b.ManageTokenExpiresAt.After(now) {
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrBookingNotFound
}

func (r *memRepo) ListConfirmedOverlapping(_ context.Context, from, to time.Time, exclude *uuid.UUID) ([]Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Booking
	for _, b := range r.bookings {
		if b.Status != StatusConfirmed {
			continue
		}
		if exclude != nil && b.ID == *exclude {
			continue
		}
		if b.StartAt.Before(to) && from.Before(b.EndAt) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (r *memRepo) ListConfirmedInRange(_ context.Context, from, to time.Time) ([]Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Booking
	for _, b := range r.bookings {
		if b.Status == StatusConfirmed && !b.StartAt.Before(from) && b.StartAt.Before(to) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (r *memRepo) ListUpcomingConfirmed(_ context.Context, now time.Time) ([]Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Booking
	for _, b := range r.bookings {
		if b.Status == StatusConfirmed && b.StartAt.After(now) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

func (r *memRepo) CountActiveInMonth(_ context.Context, clientID uuid.UUID, monthStart, monthEnd time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, b := range r.bookings {
		if b.ClientID == clientID && b.Status != StatusCancelled &&
			!b.StartAt.Before(monthStart) && b.StartAt.Before(monthEnd) {
			count++
		}
	}
	return count, nil
}

func (r *memRepo) UsageByClient(_ context.Context, monthStart, monthEnd time.Time) (map[uuid.UUID]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	usage := make(map[uuid.UUID]int)
	for _, b := range r.bookings {
		if b.Status != StatusCancelled && !b.StartAt.Before(monthStart) && b.StartAt.Before(monthEnd) {
			usage[b.ClientID]++
		}
	}
	return usage, nil
}

func (r *memRepo) CreateBooking(_ context.Context, b *Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	cp := *b
	r.bookings[b.ID] = &cp
	return nil
}

func (r *memRepo) UpdateBookingSlot(_ context.Context, id uuid.UUID, start, end time.Time, reason *string) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	b.StartAt = start
	b.EndAt = end
	b.Status = StatusConfirmed
	if reason != nil {
		b.RescheduleReason = reason
	}
	cp := *b
	return &cp, nil
}

func (r *memRepo) CancelConfirmedBooking(_ context.Context, id uuid.UUID, reason *string) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok || b.Status != StatusConfirmed {
		return nil, ErrBookingNotFound
	}
	b.Status = StatusCancelled
	b.CancelReason = reason
	cp := *b
	return &cp, nil
}

func (r *memRepo) SetManageToken(_ context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return ErrBookingNotFound
	}
	b.ManageToken = &token
	b.ManageTokenExpiresAt = &expiresAt
	return nil
}

func (r *memRepo) ClearExpiredManageTokens(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var cleared int64
	for _, b := range r.bookings {
		if b.ManageToken != nil && b.ManageTokenExpiresAt != nil && !b.ManageTokenExpiresAt.After(now) {
			b.ManageToken = nil
			b.ManageTokenExpiresAt = nil
			cleared++
		}
	}
	return cleared, nil
}

// passLocker runs the critical section without any cross-process lock, so
// the tests exercise the transactional re-check on its own.
type passLocker struct{}

func (passLocker) WithSlotLock(ctx context.Context, _ time.Time, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// busySlotLocker behaves like passLocker except for one slot whose lock is
// held elsewhere.
type busySlotLocker struct {
	busy time.Time
}

func (l busySlotLocker) WithSlotLock(ctx context.Context, slotStart time.Time, fn func(ctx context.Context) error) error {
	if slotStart.Equal(l.busy) {
		return redisclient.ErrLockNotAcquired
	}
	return fn(ctx)
}

type fixture struct {
	svc    *Service
	repo   *memRepo
	zones  *tz.Zones
	client uuid.UUID
	now    time.Time
}

// newFixture wires a service over the in-memory repo with a fixed clock at
// Monday 2026-06-01 08:00 Brussels and weekday rules 09:00-18:00 Mon-Fri.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	zones, err := tz.Load("Europe/Brussels", "America/New_York")
	if err != nil {
		t.Fatalf("load zones: %v", err)
	}

	repo := newMemRepo()
	for day := 1; day <= 5; day++ {
		repo.rules = append(repo.rules, WeeklyRule{DayOfWeek: day, StartMin: 9 * 60, EndMin: 18 * 60})
	}

	clientID := uuid.New()
	repo.clients[clientID] = &Client{
		ID:              clientID,
		Name:            "Ada",
		Email:           "ada@example.com",
		CreditsPerMonth: 4,
		IsActive:        true,
	}

	cfg := config.Config{
		HorizonDays:    30,
		ManageTokenTTL: 7 * 24 * time.Hour,
		ManageWindow:   72 * time.Hour,
	}

	now := time.Date(2026, 6, 1, 8, 0, 0, 0, zones.Primary)
	svc := NewService(repo, passLocker{}, notify.NewLogNotifier(zap.NewNop()), zones, cfg, zap.NewNop())
	svc.now = func() time.Time { return now }

	return &fixture{svc: svc, repo: repo, zones: zones, client: clientID, now: now}
}

// slot returns the [start, end) pair of the hour slot on day offset
// daysAhead at the given local hour.
func (f *fixture) slot(daysAhead, hour int) (time.Time, time.Time) {
	day := f.zones.StartOfDay(f.now).AddDate(0, 0, daysAhead)
	start := f.zones.At(day, hour*60)
	return start, start.Add(time.Hour)
}

func (f *fixture) addClient(credits int, active bool) uuid.UUID {
	id := uuid.New()
	f.repo.clients[id] = &Client{ID: id, Name: "X", Email: "x@example.com", CreditsPerMonth: credits, IsActive: active}
	return id
}

func (f *fixture) book(t *testing.T, clientID uuid.UUID, daysAhead, hour int) *Booking {
	t.Helper()
	start, end := f.slot(daysAhead, hour)
	b, err := f.svc.CreateBooking(context.Background(), clientID, start, end)
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return b
}

func wantReject(t *testing.T, err error, code RejectCode) {
	t.Helper()
	rej, ok := AsRejection(err)
	if !ok {
		t.Fatalf("expected rejection %s, got %v", code, err)
	}
	if rej.Code != code {
		t.Fatalf("expected rejection %s, got %s (%s)", code, rej.Code, rej.Msg)
	}
}

func TestCreateBooking(t *testing.T) {
	f := newFixture(t)
	start, end := f.slot(0, 10)

	b, err := f.svc.CreateBooking(context.Background(), f.client, start, end)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.Status != StatusConfirmed {
		t.Fatalf("status = %s", b.Status)
	}
	if b.ManageToken == nil || len(*b.ManageToken) != 64 {
		t.Fatalf("manage token = %v", b.ManageToken)
	}
	if b.ManageTokenExpiresAt == nil || !b.ManageTokenExpiresAt.Equal(f.now.Add(7*24*time.Hour)) {
		t.Fatalf("token expiry = %v", b.ManageTokenExpiresAt)
	}
}

func TestCreateBooking_Rejections(t *testing.T) {
	f := newFixture(t)
	inactive := f.addClient(4, false)

	blockDay := f.zones.StartOfDay(f.now).AddDate(0, 0, 1)
	f.repo.overrides = append(f.repo.overrides, DateOverride{ID: 900, Date: blockDay, StartMin: 10 * 60, EndMin: 12 * 60, Kind: "BLOCK"})
	f.repo.holds = append(f.repo.holds, RecurringHold{ID: 901, DayOfWeek: 3, StartMin: 14 * 60, EndMin: 15 * 60})

	mon10, mon11 := f.slot(0, 10)
	tue10, tue11 := f.slot(1, 10)
	wed14, wed15 := f.slot(2, 14)
	sat10, sat11 := f.slot(5, 10)
	mon7, mon8 := f.slot(0, 7)

	cases := []struct {
		name   string
		client uuid.UUID
		start  time.Time
		end    time.Time
		code   RejectCode
	}{
		{name: "unknown client", client: uuid.New(), start: mon10, end: mon11, code: RejectNotFound},
		{name: "inactive client", client: inactive, start: mon10, end: mon11, code: RejectInactiveClient},
		{name: "off-grid start", client: f.client, start: mon10.Add(30 * time.Minute), end: mon11.Add(30 * time.Minute), code: RejectInvalidSlot},
		{name: "two-hour slot", client: f.client, start: mon10, end: mon11.Add(time.Hour), code: RejectInvalidSlot},
		{name: "past slot", client: f.client, start: mon7, end: mon8, code: RejectInvalidSlot},
		{name: "weekend", client: f.client, start: sat10, end: sat11, code: RejectOutOfHours},
		{name: "block override", client: f.client, start: tue10, end: tue11, code: RejectBlocked},
		{name: "recurring hold", client: f.client, start: wed14, end: wed15, code: RejectBlocked},
	}

	for _, tc := range cases {
		_, err := f.svc.CreateBooking(context.Background(), tc.client, tc.start, tc.end)
		if err == nil {
			t.Errorf("%s: expected rejection", tc.name)
			continue
		}
		rej, ok := AsRejection(err)
		if !ok || rej.Code != tc.code {
			t.Errorf("%s: got %v, want %s", tc.name, err, tc.code)
		}
	}
}

func TestCreateBooking_Conflict(t *testing.T) {
	f := newFixture(t)
	other := f.addClient(4, true)
	start, end := f.slot(0, 10)

	if _, err := f.svc.CreateBooking(context.Background(), f.client, start, end); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := f.svc.CreateBooking(context.Background(), other, start, end)
	wantReject(t, err, RejectConflict)
}

func TestCreateBooking_QuotaExceeded(t *testing.T) {
	f := newFixture(t)
	limited := f.addClient(1, true)

	s1, e1 := f.slot(0, 10)
	first, err := f.svc.CreateBooking(context.Background(), limited, s1, e1)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	s2, e2 := f.slot(1, 14)
	_, err = f.svc.CreateBooking(context.Background(), limited, s2, e2)
	wantReject(t, err, RejectQuotaExceeded)

	// Only non-cancelled bookings count against the month, so cancelling
	// hands the credit back.
	if err := f.svc.CancelBooking(context.Background(), first.ID, nil, false); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.svc.CreateBooking(context.Background(), limited, s2, e2); err != nil {
		t.Fatalf("create after cancel: %v", err)
	}
}

func TestConcurrentCreate_SingleWinner(t *testing.T) {
	f := newFixture(t)
	start, end := f.slot(0, 10)

	const attempts = 16
	clients := make([]uuid.UUID, attempts)
	for i := range clients {
		clients[i] = f.addClient(4, true)
	}

	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.CreateBooking(context.Background(), clients[i], start, end)
		}(i)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		default:
			rej, ok := AsRejection(err)
			if !ok || rej.Code != RejectConflict {
				t.Fatalf("unexpected error: %v", err)
			}
			conflicts++
		}
	}
	if wins != 1 {
		t.Fatalf("winners = %d, want 1", wins)
	}
	if conflicts != attempts-1 {
		t.Fatalf("conflicts = %d, want %d", conflicts, attempts-1)
	}
}

func TestCancelBooking(t *testing.T) {
	f := newFixture(t)
	other := f.addClient(4, true)
	start, end := f.slot(0, 10)

	b, err := f.svc.CreateBooking(context.Background(), f.client, start, end)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := f.svc.CancelBooking(context.Background(), b.ID, nil, false); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// Idempotent: a second cancel succeeds silently.
	if err := f.svc.CancelBooking(context.Background(), b.ID, nil, false); err != nil {
		t.Fatalf("second cancel: %v", err)
	}

	// The freed slot is bookable again.
	if _, err := f.svc.CreateBooking(context.Background(), other, start, end); err != nil {
		t.Fatalf("rebook freed slot: %v", err)
	}
}

func TestCancelBooking_TerminalStatus(t *testing.T) {
	f := newFixture(t)
	start, end := f.slot(0, 10)

	b, err := f.svc.CreateBooking(context.Background(), f.client, start, end)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.repo.bookings[b.ID].Status = StatusDone

	err = f.svc.CancelBooking(context.Background(), b.ID, nil, false)
	wantReject(t, err, RejectInvalidTransition)
}

func TestCancelBooking_ManageWindow(t *testing.T) {
	f := newFixture(t)
	// 50 hours ahead, inside the 72-hour window.
	start, end := f.slot(2, 10)

	b, err := f.svc.CreateBooking(context.Background(), f.client, start, end)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	err = f.svc.CancelBooking(context.Background(), b.ID, nil, true)
	wantReject(t, err, RejectTooLate)

	// The admin path ignores the window.
	if err := f.svc.CancelBooking(context.Background(), b.ID, nil, false); err != nil {
		t.Fatalf("admin cancel: %v", err)
	}
}

func TestRescheduleBooking(t *testing.T) {
	f := newFixture(t)
	other := f.addClient(4, true)
	oldStart, oldEnd := f.slot(0, 10)
	newStart, newEnd := f.slot(1, 14)

	b, err := f.svc.CreateBooking(context.Background(), f.client, oldStart, oldEnd)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := f.svc.RescheduleBooking(context.Background(), b.ID, newStart, newEnd, nil, false)
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if !updated.StartAt.Equal(newStart) {
		t.Fatalf("start = %s", updated.StartAt)
	}

	// The vacated slot is free again.
	if _, err := f.svc.CreateBooking(context.Background(), other, oldStart, oldEnd); err != nil {
		t.Fatalf("rebook vacated slot: %v", err)
	}
}

func TestRescheduleBooking_DoesNotSpendCredit(t *testing.T) {
	f := newFixture(t)
	limited := f.addClient(1, true)
	oldStart, oldEnd := f.slot(0, 10)
	newStart, newEnd := f.slot(1, 14)

	b, err := f.svc.CreateBooking(context.Background(), limited, oldStart, oldEnd)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.RescheduleBooking(context.Background(), b.ID, newStart, newEnd, nil, false); err != nil {
		t.Fatalf("reschedule at quota limit: %v", err)
	}
}

func TestRescheduleBooking_RestoresConfirmed(t *testing.T) {
	f := newFixture(t)

	b := f.book(t, f.client, 0, 10)
	s1, e1 := f.slot(1, 14)
	s2, e2 := f.slot(2, 14)

	reason := "client asked to move"
	if _, err := f.svc.RescheduleBooking(context.Background(), b.ID, s1, e1, &reason, false); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	// Moving a no-show puts it back on the calendar as confirmed, and a
	// nil reason keeps the previous one.
	f.repo.bookings[b.ID].Status = StatusNoShow

	updated, err := f.svc.RescheduleBooking(context.Background(), b.ID, s2, e2, nil, false)
	if err != nil {
		t.Fatalf("reschedule no-show: %v", err)
	}
	if updated.Status != StatusConfirmed {
		t.Fatalf("status = %s, want CONFIRMED", updated.Status)
	}
	if updated.RescheduleReason == nil || *updated.RescheduleReason != reason {
		t.Fatalf("reschedule reason = %v, want %q kept", updated.RescheduleReason, reason)
	}
}

func TestRescheduleBooking_Rejections(t *testing.T) {
	f := newFixture(t)
	other := f.addClient(4, true)

	s1, e1 := f.slot(0, 10)
	s2, e2 := f.slot(0, 11)
	b, err := f.svc.CreateBooking(context.Background(), f.client, s1, e1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ob, err := f.svc.CreateBooking(context.Background(), other, s2, e2)
	if err != nil {
		t.Fatalf("create other: %v", err)
	}

	// Target slot occupied by someone else.
	_, err = f.svc.RescheduleBooking(context.Background(), b.ID, s2, e2, nil, false)
	wantReject(t, err, RejectConflict)

	// Rescheduling onto its own slot is allowed (self excluded).
	if _, err := f.svc.RescheduleBooking(context.Background(), b.ID, s1, e1, nil, false); err != nil {
		t.Fatalf("reschedule onto own slot: %v", err)
	}

	// Cancelled bookings cannot move.
	if err := f.svc.CancelBooking(context.Background(), ob.ID, nil, false); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, err = f.svc.RescheduleBooking(context.Background(), ob.ID, s2, e2, nil, false)
	wantReject(t, err, RejectInvalidTransition)

	_, err = f.svc.RescheduleBooking(context.Background(), uuid.New(), s2, e2, nil, false)
	wantReject(t, err, RejectNotFound)
}

func TestMaterializeRecurringHold(t *testing.T) {
	f := newFixture(t)
	limited := f.addClient(2, true)
	other := f.addClient(4, true)

	// An existing booking occupies the second Tuesday occurrence.
	takenStart, takenEnd := f.slot(8, 10)
	if _, err := f.svc.CreateBooking(context.Background(), other, takenStart, takenEnd); err != nil {
		t.Fatalf("pre-book: %v", err)
	}

	// Tuesdays 10:00-11:00 over 30 days from Monday June 1: five
	// occurrences, one taken, quota caps the rest at two.
	result, err := f.svc.MaterializeRecurringHold(context.Background(), MaterializeRequest{
		ClientID:    limited,
		DayOfWeek:   2,
		StartMin:    10 * 60,
		EndMin:      11 * 60,
		HorizonDays: 30,
	})
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if result.Created != 2 {
		t.Fatalf("created = %d, want 2", result.Created)
	}
	if result.Skipped != 3 {
		t.Fatalf("skipped = %d, want 3", result.Skipped)
	}

	created, err := f.repo.ListConfirmedInRange(context.Background(), f.now, f.now.AddDate(0, 0, 31))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, b := range created {
		if b.ClientID != limited {
			continue
		}
		if b.RescheduleReason == nil || !strings.HasPrefix(*b.RescheduleReason, "[ADMIN_HOLD]") {
			t.Fatalf("materialized booking missing hold marker: %+v", b.RescheduleReason)
		}
		if f.zones.Weekday(b.StartAt) != 2 {
			t.Fatalf("occurrence on weekday %d", f.zones.Weekday(b.StartAt))
		}
	}
}

func TestMaterializeRecurringHold_QuotaPerOccurrenceMonth(t *testing.T) {
	f := newFixture(t)
	limited := f.addClient(1, true)

	// Tuesdays over 40 days span June and July: one credit per month
	// means exactly one occurrence lands in each.
	result, err := f.svc.MaterializeRecurringHold(context.Background(), MaterializeRequest{
		ClientID:    limited,
		DayOfWeek:   2,
		StartMin:    10 * 60,
		EndMin:      11 * 60,
		HorizonDays: 40,
	})
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if result.Created != 2 {
		t.Fatalf("created = %d, want 2 (one per month)", result.Created)
	}
	if result.Skipped != 4 {
		t.Fatalf("skipped = %d, want 4", result.Skipped)
	}

	months := make(map[string]int)
	for _, b := range f.repo.bookings {
		ms, _ := f.zones.MonthBounds(b.StartAt)
		months[ms.Format("2006-01")]++
	}
	if months["2026-06"] != 1 || months["2026-07"] != 1 {
		t.Fatalf("bookings per month = %v", months)
	}
}

func TestMaterializeRecurringHold_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.MaterializeRecurringHold(context.Background(), MaterializeRequest{ClientID: f.client, DayOfWeek: 8, StartMin: 600, EndMin: 660})
	wantReject(t, err, RejectInvalidSlot)

	_, err = f.svc.MaterializeRecurringHold(context.Background(), MaterializeRequest{ClientID: f.client, DayOfWeek: 2, StartMin: 660, EndMin: 600})
	wantReject(t, err, RejectInvalidSlot)

	_, err = f.svc.MaterializeRecurringHold(context.Background(), MaterializeRequest{ClientID: uuid.New(), DayOfWeek: 2, StartMin: 600, EndMin: 660})
	wantReject(t, err, RejectNotFound)
}

func TestMaterializeRecurringHold_SkipsHeldSlotLock(t *testing.T) {
	f := newFixture(t)

	// Someone else holds the slot lock for the first Tuesday occurrence,
	// as a concurrent CreateBooking would mid-flight.
	firstTuesday, _ := f.slot(1, 10)
	f.svc.locker = busySlotLocker{busy: firstTuesday}

	result, err := f.svc.MaterializeRecurringHold(context.Background(), MaterializeRequest{
		ClientID:    f.client,
		DayOfWeek:   2,
		StartMin:    10 * 60,
		EndMin:      11 * 60,
		HorizonDays: 13,
	})
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if result.Created != 1 {
		t.Fatalf("created = %d, want 1", result.Created)
	}
	if result.Skipped != 1 {
		t.Fatalf("skipped = %d, want 1", result.Skipped)
	}
	for _, b := range f.repo.bookings {
		if b.StartAt.Equal(firstTuesday) {
			t.Fatal("occurrence written despite the held lock")
		}
	}
}

func TestManageTokens(t *testing.T) {
	f := newFixture(t)
	start, end := f.slot(0, 10)

	b, err := f.svc.CreateBooking(context.Background(), f.client, start, end)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// A valid token is reused, not reminted.
	token, err := f.svc.EnsureManageToken(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if token != *b.ManageToken {
		t.Fatal("expected the existing token")
	}

	got, err := f.svc.BookingByToken(context.Background(), token)
	if err != nil {
		t.Fatalf("by token: %v", err)
	}
	if got.ID != b.ID {
		t.Fatalf("resolved booking %s", got.ID)
	}

	// Expire it; resolution fails and ensure mints a fresh one.
	expired := f.now.Add(-time.Minute)
	f.repo.bookings[b.ID].ManageTokenExpiresAt = &expired

	_, err = f.svc.BookingByToken(context.Background(), token)
	wantReject(t, err, RejectNotFound)

	fresh, err := f.svc.EnsureManageToken(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("ensure after expiry: %v", err)
	}
	if fresh == token {
		t.Fatal("expected a new token")
	}
}

func TestSweepExpiredTokens(t *testing.T) {
	f := newFixture(t)

	b1 := f.book(t, f.client, 0, 10)
	b2 := f.book(t, f.client, 1, 10)

	expired := f.now.Add(-time.Minute)
	f.repo.bookings[b1.ID].ManageTokenExpiresAt = &expired

	cleared, err := f.svc.SweepExpiredTokens(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("cleared = %d, want 1", cleared)
	}
	if f.repo.bookings[b1.ID].ManageToken != nil {
		t.Fatal("expired token not cleared")
	}
	if f.repo.bookings[b2.ID].ManageToken == nil {
		t.Fatal("live token must survive the sweep")
	}
}

func TestQuotaStatus(t *testing.T) {
	f := newFixture(t)

	q, err := f.svc.QuotaStatus(context.Background(), f.client)
	if err != nil {
		t.Fatalf("quota: %v", err)
	}
	if q.Used != 0 || q.Limit != 4 {
		t.Fatalf("quota = %+v", q)
	}

	f.book(t, f.client, 0, 10)

	q, err = f.svc.QuotaStatus(context.Background(), f.client)
	if err != nil {
		t.Fatalf("quota: %v", err)
	}
	if q.Used != 1 {
		t.Fatalf("used = %d, want 1", q.Used)
	}

	_, err = f.svc.QuotaStatus(context.Background(), uuid.New())
	wantReject(t, err, RejectNotFound)
}

func TestListSlots(t *testing.T) {
	f := newFixture(t)

	// Narrow the schedule to two Monday slots for a readable assertion.
	f.repo.rules = []WeeklyRule{{DayOfWeek: 1, StartMin: 9 * 60, EndMin: 11 * 60}}
	f.svc.cfg.HorizonDays = 5

	f.book(t, f.client, 0, 9)

	views, err := f.svc.ListSlots(context.Background())
	if err != nil {
		t.Fatalf("list slots: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("slots = %d, want 2", len(views))
	}
	if views[0].Status != "booked" {
		t.Fatalf("first slot status = %s", views[0].Status)
	}
	if views[1].Status != "available" {
		t.Fatalf("second slot status = %s", views[1].Status)
	}
	if views[0].Primary != "09:00" || views[0].Secondary != "03:00" {
		t.Fatalf("times = %s / %s", views[0].Primary, views[0].Secondary)
	}
	if views[0].Mode != ModeVisio {
		t.Fatalf("mode = %s", views[0].Mode)
	}
}

func TestReplaceWeeklyRules_GuardsExistingBookings(t *testing.T) {
	f := newFixture(t)

	// Booked next Monday at 10:00.
	f.book(t, f.client, 7, 10)

	err := f.svc.ReplaceWeeklyRules(context.Background(), 1, []MinuteRange{{StartMin: 14 * 60, EndMin: 18 * 60}})
	wantReject(t, err, RejectConflict)

	// A range ending mid-slot (09:00-10:30) contains the booking's start
	// but not its whole hour; that would strand it just the same.
	err = f.svc.ReplaceWeeklyRules(context.Background(), 1, []MinuteRange{{StartMin: 9 * 60, EndMin: 10*60 + 30}})
	wantReject(t, err, RejectConflict)

	if err := f.svc.ReplaceWeeklyRules(context.Background(), 1, []MinuteRange{{StartMin: 9 * 60, EndMin: 12 * 60}}); err != nil {
		t.Fatalf("replace with covering ranges: %v", err)
	}

	err = f.svc.ReplaceWeeklyRules(context.Background(), 0, []MinuteRange{{StartMin: 9 * 60, EndMin: 12 * 60}})
	wantReject(t, err, RejectInvalidSlot)
}

func TestSetOpenOverridesForDate_GuardsExistingBookings(t *testing.T) {
	f := newFixture(t)
	date := f.zones.StartOfDay(f.now).AddDate(0, 0, 1)

	f.book(t, f.client, 1, 10)

	err := f.svc.SetOpenOverridesForDate(context.Background(), date, []MinuteRange{{StartMin: 14 * 60, EndMin: 16 * 60}})
	wantReject(t, err, RejectConflict)

	// Covering only the booking's start minute is not enough.
	err = f.svc.SetOpenOverridesForDate(context.Background(), date, []MinuteRange{{StartMin: 10 * 60, EndMin: 10*60 + 30}})
	wantReject(t, err, RejectConflict)

	if err := f.svc.SetOpenOverridesForDate(context.Background(), date, []MinuteRange{{StartMin: 10 * 60, EndMin: 16 * 60}}); err != nil {
		t.Fatalf("set covering override: %v", err)
	}

	// The OPEN override now replaces the weekly rules for that day.
	nineStart, nineEnd := f.slot(1, 9)
	_, err = f.svc.CreateBooking(context.Background(), f.addClient(4, true), nineStart, nineEnd)
	wantReject(t, err, RejectOutOfHours)
}

func TestCreateLegacyBlock(t *testing.T) {
	f := newFixture(t)

	start, end := f.slot(1, 10)
	if _, err := f.svc.CreateLegacyBlock(context.Background(), start, end, nil); err != nil {
		t.Fatalf("create block: %v", err)
	}

	// The blocked slot rejects bookings.
	_, err := f.svc.CreateBooking(context.Background(), f.client, start, end)
	wantReject(t, err, RejectBlocked)

	// Outside the Miami working window.
	nightStart, nightEnd := f.slot(1, 22)
	_, err = f.svc.CreateLegacyBlock(context.Background(), nightStart, nightEnd, nil)
	wantReject(t, err, RejectOutOfHours)

	// Overlapping a confirmed booking.
	bs, be := f.slot(2, 10)
	if _, err := f.svc.CreateBooking(context.Background(), f.client, bs, be); err != nil {
		t.Fatalf("create booking: %v", err)
	}
	_, err = f.svc.CreateLegacyBlock(context.Background(), bs, be, nil)
	wantReject(t, err, RejectConflict)
}

func TestUpdateSettings(t *testing.T) {
	f := newFixture(t)

	err := f.svc.UpdateSettings(context.Background(), Settings{Location: "MARS", DefaultMode: ModeVisio})
	wantReject(t, err, RejectInvalidSlot)

	err = f.svc.UpdateSettings(context.Background(), Settings{Location: LocationBelgium, DefaultMode: ModePresentiel, PresentielLocation: "Bruxelles"})
	if err != nil {
		t.Fatalf("update settings: %v", err)
	}

	got, err := f.svc.Settings(context.Background())
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if got.Location != LocationBelgium || got.DefaultMode != ModePresentiel {
		t.Fatalf("settings = %+v", got)
	}
}

func TestQuotaUsage(t *testing.T) {
	f := newFixture(t)
	other := f.addClient(4, true)

	f.book(t, f.client, 0, 10)
	f.book(t, f.client, 1, 10)
	f.book(t, other, 2, 10)

	usage, err := f.svc.QuotaUsage(context.Background())
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if usage[f.client] != 2 || usage[other] != 1 {
		t.Fatalf("usage = %v", usage)
	}
}
