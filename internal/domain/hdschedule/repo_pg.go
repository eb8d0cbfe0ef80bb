package hdschedule

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type appointmentRepoPG struct{ db queryable }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{db: pool}
}

const apptCols = `id, phn, patient_name, to_char(appt_date, 'YYYY-MM-DD'), slot_id, notes, created_at`

func (r *appointmentRepoPG) scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PHN, &a.PatientName, &a.Date, &a.SlotID, &a.Notes, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts the appointment. The unique index on (appt_date, slot_id)
// is the authoritative double-booking guard; its violation is reported as
// ErrSlotTaken.
func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	err := r.db.QueryRow(ctx, `
		INSERT INTO hd_appointment (id, phn, patient_name, appt_date, slot_id, notes)
		VALUES ($1, $2, $3, $4::date, $5, $6)
		RETURNING created_at`,
		a.ID, a.PHN, a.PatientName, a.Date, a.SlotID, a.Notes).Scan(&a.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrSlotTaken
	}
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scanAppointment(r.db.QueryRow(ctx, `SELECT `+apptCols+` FROM hd_appointment WHERE id = $1`, id))
}

func (r *appointmentRepoPG) ListByDate(ctx context.Context, date string) ([]*Appointment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+apptCols+` FROM hd_appointment WHERE appt_date = $1::date ORDER BY slot_id`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*Appointment{}
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) Delete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scanAppointment(r.db.QueryRow(ctx, `DELETE FROM hd_appointment WHERE id = $1 RETURNING `+apptCols, id))
}
