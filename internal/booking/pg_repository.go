package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so every query
// method works identically inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
	q    querier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, q: pool}
}

func (r *PgRepository) WithTx(ctx context.Context, fn func(Repository) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PgRepository{pool: r.pool, q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Helpers

func scanClient(row pgx.Row) (*Client, error) {
	var c Client
	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Email,
		&c.CreditsPerMonth,
		&c.IsActive,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}
	return &c, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(
		&b.ID,
		&b.ClientID,
		&b.StartAt,
		&b.EndAt,
		&b.Status,
		&b.Mode,
		&b.ManageToken,
		&b.ManageTokenExpiresAt,
		&b.CancelReason,
		&b.RescheduleReason,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return &b, nil
}

const bookingColumns = `id, client_id, start_at, end_at, status, mode,
	manage_token, manage_token_expires_at, cancel_reason, reschedule_reason,
	created_at, updated_at`

func collectBookings(rows pgx.Rows) ([]Booking, error) {
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Clients and settings

func (r *PgRepository) GetClientByID(ctx context.Context, id uuid.UUID) (*Client, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, email, credits_per_month, is_active, created_at, updated_at
		FROM clients
		WHERE id = $1
	`, id)
	return scanClient(row)
}

func (r *PgRepository) GetSettings(ctx context.Context) (Settings, error) {
	var s Settings
	err := r.q.QueryRow(ctx, `
		SELECT location, default_mode, presentiel_location, presentiel_note
		FROM settings
		WHERE id = 1
	`).Scan(&s.Location, &s.DefaultMode, &s.PresentielLocation, &s.PresentielNote)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DefaultSettings(), nil
		}
		return Settings{}, err
	}
	return s, nil
}

func (r *PgRepository) UpsertSettings(ctx context.Context, s Settings) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO settings (id, location, default_mode, presentiel_location, presentiel_note)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET location = EXCLUDED.location,
		    default_mode = EXCLUDED.default_mode,
		    presentiel_location = EXCLUDED.presentiel_location,
		    presentiel_note = EXCLUDED.presentiel_note
	`, s.Location, s.DefaultMode, s.PresentielLocation, s.PresentielNote)
	if err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	return nil
}

// Weekly rules

func (r *PgRepository) ListWeeklyRules(ctx context.Context) ([]WeeklyRule, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, day_of_week, start_min, end_min
		FROM weekly_rules
		ORDER BY day_of_week, start_min
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []WeeklyRule
	for rows.Next() {
		var wr WeeklyRule
		if err := rows.Scan(&wr.ID, &wr.DayOfWeek, &wr.StartMin, &wr.EndMin); err != nil {
			return nil, err
		}
		result = append(result, wr)
	}
	return result, rows.Err()
}

func (r *PgRepository) ReplaceWeeklyRulesForDay(ctx context.Context, dayOfWeek int, ranges []MinuteRange) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM weekly_rules WHERE day_of_week = $1`, dayOfWeek); err != nil {
		return fmt.Errorf("delete weekly rules: %w", err)
	}
	for _, rg := range ranges {
		_, err := r.q.Exec(ctx, `
			INSERT INTO weekly_rules (day_of_week, start_min, end_min)
			VALUES ($1, $2, $3)
		`, dayOfWeek, rg.StartMin, rg.EndMin)
		if err != nil {
			return fmt.Errorf("insert weekly rule: %w", err)
		}
	}
	return nil
}

func (r *PgRepository) DeleteWeeklyRulesForDay(ctx context.Context, dayOfWeek int) error {
	_, err := r.q.Exec(ctx, `DELETE FROM weekly_rules WHERE day_of_week = $1`, dayOfWeek)
	return err
}

// Date overrides

func (r *PgRepository) ListOverridesInRange(ctx context.Context, from, to time.Time) ([]DateOverride, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, date, start_min, end_min, kind, note
		FROM date_overrides
		WHERE date >= $1 AND date < $2
		ORDER BY date, start_min
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []DateOverride
	for rows.Next() {
		var o DateOverride
		if err := rows.Scan(&o.ID, &o.Date, &o.StartMin, &o.EndMin, &o.Kind, &o.Note); err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func (r *PgRepository) CreateOverride(ctx context.Context, o *DateOverride) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO date_overrides (date, start_min, end_min, kind, note)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, o.Date, o.StartMin, o.EndMin, o.Kind, o.Note).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("create override: %w", err)
	}
	return nil
}

func (r *PgRepository) DeleteOverride(ctx context.Context, id int64) error {
	_, err := r.q.Exec(ctx, `DELETE FROM date_overrides WHERE id = $1`, id)
	return err
}

func (r *PgRepository) ReplaceOpenOverridesForDate(ctx context.Context, date time.Time, ranges []MinuteRange) error {
	if _, err := r.q.Exec(ctx, `
		DELETE FROM date_overrides WHERE kind = 'OPEN' AND date = $1
	`, date); err != nil {
		return fmt.Errorf("delete open overrides: %w", err)
	}
	for _, rg := range ranges {
		_, err := r.q.Exec(ctx, `
			INSERT INTO date_overrides (date, start_min, end_min, kind)
			VALUES ($1, $2, $3, 'OPEN')
		`, date, rg.StartMin, rg.EndMin)
		if err != nil {
			return fmt.Errorf("insert open override: %w", err)
		}
	}
	return nil
}

// Recurring holds

func (r *PgRepository) ListHolds(ctx context.Context) ([]RecurringHold, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, day_of_week, start_min, end_min, client_id, note
		FROM recurring_holds
		ORDER BY day_of_week, start_min
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []RecurringHold
	for rows.Next() {
		var h RecurringHold
		if err := rows.Scan(&h.ID, &h.DayOfWeek, &h.StartMin, &h.EndMin, &h.ClientID, &h.Note); err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	return result, rows.Err()
}

func (r *PgRepository) CreateHold(ctx context.Context, h *RecurringHold) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO recurring_holds (day_of_week, start_min, end_min, client_id, note)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, h.DayOfWeek, h.StartMin, h.EndMin, h.ClientID, h.Note).Scan(&h.ID)
	if err != nil {
		return fmt.Errorf("create hold: %w", err)
	}
	return nil
}

func (r *PgRepository) DeleteHold(ctx context.Context, id int64) error {
	_, err := r.q.Exec(ctx, `DELETE FROM recurring_holds WHERE id = $1`, id)
	return err
}

// Legacy blocks

func (r *PgRepository) ListBlocksOverlapping(ctx context.Context, from, to time.Time) ([]LegacyBlock, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, start_at, end_at, reason
		FROM legacy_blocks
		WHERE start_at < $2 AND end_at > $1
		ORDER BY start_at
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []LegacyBlock
	for rows.Next() {
		var b LegacyBlock
		if err := rows.Scan(&b.ID, &b.StartAt, &b.EndAt, &b.Reason); err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func (r *PgRepository) CreateBlock(ctx context.Context, b *LegacyBlock) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO legacy_blocks (start_at, end_at, reason)
		VALUES ($1, $2, $3)
		RETURNING id
	`, b.StartAt, b.EndAt, b.Reason).Scan(&b.ID)
	if err != nil {
		return fmt.Errorf("create block: %w", err)
	}
	return nil
}

func (r *PgRepository) DeleteBlock(ctx context.Context, id int64) error {
	_, err := r.q.Exec(ctx, `DELETE FROM legacy_blocks WHERE id = $1`, id)
	return err
}

// Bookings

func (r *PgRepository) GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.q.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	return scanBooking(row)
}

func (r *PgRepository) GetBookingByToken(ctx context.Context, token string, now time.Time) (*Booking, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE manage_token = $1
		  AND manage_token_expires_at > $2
	`, token, now)
	return scanBooking(row)
}

func (r *PgRepository) ListConfirmedOverlapping(ctx context.Context, from, to time.Time, exclude *uuid.UUID) ([]Booking, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'CONFIRMED'
		  AND start_at < $2 AND end_at > $1
		  AND ($3::uuid IS NULL OR id <> $3)
	`, from, to, exclude)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) ListConfirmedInRange(ctx context.Context, from, to time.Time) ([]Booking, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'CONFIRMED'
		  AND start_at >= $1 AND start_at < $2
		ORDER BY start_at
	`, from, to)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) ListUpcomingConfirmed(ctx context.Context, now time.Time) ([]Booking, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'CONFIRMED'
		  AND start_at >= $1
		ORDER BY start_at
	`, now)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) CountActiveInMonth(ctx context.Context, clientID uuid.UUID, monthStart, monthEnd time.Time) (int, error) {
	var count int
	err := r.q.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM bookings
		WHERE client_id = $1
		  AND status <> 'CANCELLED'
		  AND start_at >= $2 AND start_at < $3
	`, clientID, monthStart, monthEnd).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count bookings in month: %w", err)
	}
	return count, nil
}

func (r *PgRepository) UsageByClient(ctx context.Context, monthStart, monthEnd time.Time) (map[uuid.UUID]int, error) {
	rows, err := r.q.Query(ctx, `
		SELECT client_id, COUNT(*)
		FROM bookings
		WHERE status <> 'CANCELLED'
		  AND start_at >= $1 AND start_at < $2
		GROUP BY client_id
	`, monthStart, monthEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	usage := make(map[uuid.UUID]int)
	for rows.Next() {
		var id uuid.UUID
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		usage[id] = count
	}
	return usage, rows.Err()
}

func (r *PgRepository) CreateBooking(ctx context.Context, b *Booking) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	row := r.q.QueryRow(ctx, `
		INSERT INTO bookings (id, client_id, start_at, end_at, status, mode,
			manage_token, manage_token_expires_at, reschedule_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING `+bookingColumns+`
	`, b.ID, b.ClientID, b.StartAt, b.EndAt, b.Status, b.Mode,
		b.ManageToken, b.ManageTokenExpiresAt, b.RescheduleReason)

	created, err := scanBooking(row)
	if err != nil {
		return fmt.Errorf("create booking: %w", err)
	}
	*b = *created
	return nil
}

func (r *PgRepository) UpdateBookingSlot(ctx context.Context, id uuid.UUID, start, end time.Time, reason *string) (*Booking, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE bookings
		SET start_at = $2,
		    end_at = $3,
		    status = 'CONFIRMED',
		    reschedule_reason = COALESCE($4, reschedule_reason),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+bookingColumns, id, start, end, reason)
	return scanBooking(row)
}

// CancelConfirmedBooking transitions CONFIRMED -> CANCELLED in one
// conditional update; ErrBookingNotFound means the row was not CONFIRMED
// when the update ran.
func (r *PgRepository) CancelConfirmedBooking(ctx context.Context, id uuid.UUID, reason *string) (*Booking, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE bookings
		SET status = 'CANCELLED',
		    cancel_reason = COALESCE($2, cancel_reason),
		    updated_at = now()
		WHERE id = $1
		  AND status = 'CONFIRMED'
		RETURNING `+bookingColumns, id, reason)
	return scanBooking(row)
}

func (r *PgRepository) SetManageToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE bookings
		SET manage_token = $2,
		    manage_token_expires_at = $3,
		    updated_at = now()
		WHERE id = $1
	`, id, token, expiresAt)
	if err != nil {
		return fmt.Errorf("set manage token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBookingNotFound
	}
	return nil
}

func (r *PgRepository) ClearExpiredManageTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE bookings
		SET manage_token = NULL,
		    manage_token_expires_at = NULL,
		    updated_at = now()
		WHERE manage_token IS NOT NULL
		  AND manage_token_expires_at < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("clear expired manage tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
