package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/astroniennn/com7-queue-flow/internal/models"
	"github.com/astroniennn/com7-queue-flow/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	changeConsumer = "realtime"
	zeroChangeID   = "00000000-0000-0000-0000-000000000000"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) RegisterTicket(ctx context.Context, input store.RegisterTicketInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, unavailable(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if input.RequestID != "" {
		// Assign to the function-scope err so the deferred rollback
		// still fires when the lookup fails.
		existing, found, lookupErr := findTicketByRequestID(ctx, tx, input.RequestID)
		if lookupErr != nil {
			err = lookupErr
			return models.Ticket{}, err
		}
		if found {
			if err = tx.Commit(ctx); err != nil {
				return models.Ticket{}, unavailable(err)
			}
			return existing, nil
		}
	}

	var serviceName string
	var estimate int
	row := tx.QueryRow(ctx, `
		SELECT name, estimated_wait_minutes
		FROM services
		WHERE service_id = $1 AND active
	`, input.ServiceID)
	if err = row.Scan(&serviceName, &estimate); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrServiceNotFound
			return models.Ticket{}, err
		}
		return models.Ticket{}, unavailable(err)
	}

	registeredAt := input.RegisteredAt
	if registeredAt.IsZero() {
		registeredAt = time.Now().UTC()
	}

	ticket := models.Ticket{
		Name:                 input.Name,
		Phone:                input.Phone,
		ServiceID:            input.ServiceID,
		ServiceType:          serviceName,
		Status:               models.StatusWaiting,
		EstimatedWaitMinutes: estimate,
	}
	row = tx.QueryRow(ctx, `
		INSERT INTO tickets (request_id, name, phone, service_id, service_type, status, registered_at, estimated_wait_minutes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING ticket_number, registered_at
	`, nullIfEmpty(input.RequestID), input.Name, input.Phone, input.ServiceID, serviceName, models.StatusWaiting, registeredAt, estimate)
	if err = row.Scan(&ticket.TicketNumber, &ticket.RegisteredAt); err != nil {
		return models.Ticket{}, unavailable(err)
	}

	if err = insertChange(ctx, tx, models.Ticket{}, ticket, registeredAt); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, unavailable(err)
	}
	return ticket, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketNumber int) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT ticket_number, name, phone, service_id, service_type, status, registered_at, completed_at, estimated_wait_minutes
		FROM tickets
		WHERE ticket_number = $1
	`, ticketNumber)
	return scanTicket(row)
}

func (s *Store) FindTicketByPhone(ctx context.Context, phone string) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT ticket_number, name, phone, service_id, service_type, status, registered_at, completed_at, estimated_wait_minutes
		FROM tickets
		WHERE phone = $1 AND status IN ('waiting', 'almost', 'serving')
		ORDER BY ticket_number DESC
		LIMIT 1
	`, phone)
	return scanTicket(row)
}

func (s *Store) CountWaitingBefore(ctx context.Context, ticketNumber int) (int, error) {
	var count int
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM tickets
		WHERE status = $1 AND ticket_number < $2
	`, models.StatusWaiting, ticketNumber)
	if err := row.Scan(&count); err != nil {
		return 0, unavailable(err)
	}
	return count, nil
}

func (s *Store) ApplyAction(ctx context.Context, input store.StatusActionInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, unavailable(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		SELECT ticket_number, name, phone, service_id, service_type, status, registered_at, completed_at, estimated_wait_minutes
		FROM tickets
		WHERE ticket_number = $1
		FOR UPDATE
	`, input.TicketNumber)
	old, err := scanTicket(row)
	if err != nil {
		return models.Ticket{}, err
	}

	if !store.ValidTransition(input.Action, old.Status) {
		err = store.ErrInvalidState
		return models.Ticket{}, err
	}
	target, _ := store.TargetStatus(input.Action)

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	updated := old
	updated.Status = target
	if target == models.StatusCompleted {
		updated.CompletedAt = &occurredAt
		_, err = tx.Exec(ctx, `
			UPDATE tickets SET status = $1, completed_at = $2 WHERE ticket_number = $3
		`, target, occurredAt, input.TicketNumber)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE tickets SET status = $1 WHERE ticket_number = $2
		`, target, input.TicketNumber)
	}
	if err != nil {
		return models.Ticket{}, unavailable(err)
	}

	if err = insertChange(ctx, tx, old, updated, occurredAt); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, unavailable(err)
	}
	return updated, nil
}

func (s *Store) ListTickets(ctx context.Context, status models.Status) ([]models.Ticket, error) {
	query := `
		SELECT ticket_number, name, phone, service_id, service_type, status, registered_at, completed_at, estimated_wait_minutes
		FROM tickets
	`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY ticket_number ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return tickets, nil
}

func (s *Store) ListServices(ctx context.Context, activeOnly bool) ([]models.Service, error) {
	query := `
		SELECT service_id, name, estimated_wait_minutes, active
		FROM services
	`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY name ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var services []models.Service
	for rows.Next() {
		var service models.Service
		if err := rows.Scan(&service.ServiceID, &service.Name, &service.EstimatedWaitMinutes, &service.Active); err != nil {
			return nil, unavailable(err)
		}
		services = append(services, service)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return services, nil
}

func (s *Store) CreateService(ctx context.Context, input store.ServiceInput) (models.Service, error) {
	service := models.Service{
		ServiceID:            uuid.NewString(),
		Name:                 input.Name,
		EstimatedWaitMinutes: input.EstimatedWaitMinutes,
		Active:               input.Active,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO services (service_id, name, estimated_wait_minutes, active)
		VALUES ($1,$2,$3,$4)
	`, service.ServiceID, service.Name, service.EstimatedWaitMinutes, service.Active)
	if err != nil {
		return models.Service{}, unavailable(err)
	}
	return service, nil
}

func (s *Store) UpdateService(ctx context.Context, serviceID string, input store.ServiceInput) (models.Service, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE services SET name = $1, estimated_wait_minutes = $2, active = $3
		WHERE service_id = $4
	`, input.Name, input.EstimatedWaitMinutes, input.Active, serviceID)
	if err != nil {
		return models.Service{}, unavailable(err)
	}
	if tag.RowsAffected() == 0 {
		return models.Service{}, store.ErrServiceNotFound
	}
	return models.Service{
		ServiceID:            serviceID,
		Name:                 input.Name,
		EstimatedWaitMinutes: input.EstimatedWaitMinutes,
		Active:               input.Active,
	}, nil
}

func (s *Store) DeleteService(ctx context.Context, serviceID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE services SET active = FALSE WHERE service_id = $1
	`, serviceID)
	if err != nil {
		return unavailable(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrServiceNotFound
	}
	return nil
}

func (s *Store) ListSounds(ctx context.Context) ([]models.NotificationSound, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sound_id, name, file_path, is_default
		FROM notification_sounds
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var sounds []models.NotificationSound
	for rows.Next() {
		var sound models.NotificationSound
		if err := rows.Scan(&sound.SoundID, &sound.Name, &sound.FilePath, &sound.IsDefault); err != nil {
			return nil, unavailable(err)
		}
		sounds = append(sounds, sound)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return sounds, nil
}

func (s *Store) GetStatsSummary(ctx context.Context, dayStart time.Time) (store.StatsSummary, error) {
	var summary store.StatsSummary
	var avgService sql.NullFloat64
	row := s.pool.QueryRow(ctx, `
		SELECT
			SUM(CASE WHEN status = 'waiting' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'serving' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'completed' AND completed_at >= $1 THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'cancelled' AND registered_at >= $1 THEN 1 ELSE 0 END),
			AVG(CASE WHEN completed_at IS NOT NULL THEN EXTRACT(EPOCH FROM (completed_at - registered_at)) / 60.0 END)
		FROM tickets
	`, dayStart)
	var waiting, serving, completed, cancelled sql.NullInt64
	if err := row.Scan(&waiting, &serving, &completed, &cancelled, &avgService); err != nil {
		return store.StatsSummary{}, unavailable(err)
	}
	summary.Waiting = int(waiting.Int64)
	summary.Serving = int(serving.Int64)
	summary.CompletedToday = int(completed.Int64)
	summary.CancelledToday = int(cancelled.Int64)
	if avgService.Valid {
		summary.AvgServiceMinutes = avgService.Float64
	}

	row = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) / GREATEST(EXTRACT(EPOCH FROM (NOW() - $1)) / 3600.0, 1.0)
		FROM tickets
		WHERE registered_at >= $1
	`, dayStart)
	if err := row.Scan(&summary.AvgRegisteredPerHour); err != nil {
		return store.StatsSummary{}, unavailable(err)
	}
	return summary, nil
}

func (s *Store) ListChanges(ctx context.Context, offset store.ChangeOffset, limit int) ([]store.Change, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset.LastChangeTime.IsZero() {
		offset.LastChangeTime = time.Unix(0, 0).UTC()
	}
	if offset.LastChangeID == "" {
		offset.LastChangeID = zeroChangeID
	}
	rows, err := s.pool.Query(ctx, `
		SELECT change_id, ticket_number, old_json, new_json, created_at
		FROM ticket_changes
		WHERE (created_at, change_id) > ($1, $2)
		ORDER BY created_at ASC, change_id ASC
		LIMIT $3
	`, offset.LastChangeTime, offset.LastChangeID, limit)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var changes []store.Change
	for rows.Next() {
		var change store.Change
		var oldRaw, newRaw []byte
		if err := rows.Scan(&change.ChangeID, &change.TicketNumber, &oldRaw, &newRaw, &change.CreatedAt); err != nil {
			return nil, unavailable(err)
		}
		if len(oldRaw) > 0 {
			if err := json.Unmarshal(oldRaw, &change.Old); err != nil {
				return nil, err
			}
		}
		if err := json.Unmarshal(newRaw, &change.New); err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return changes, nil
}

func (s *Store) GetChangeOffset(ctx context.Context) (store.ChangeOffset, error) {
	var offset store.ChangeOffset
	row := s.pool.QueryRow(ctx, `
		SELECT last_change_time, last_change_id
		FROM change_offsets
		WHERE consumer = $1
	`, changeConsumer)
	if err := row.Scan(&offset.LastChangeTime, &offset.LastChangeID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ChangeOffset{}, nil
		}
		return store.ChangeOffset{}, unavailable(err)
	}
	return offset, nil
}

func (s *Store) UpdateChangeOffset(ctx context.Context, offset store.ChangeOffset) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO change_offsets (consumer, last_change_time, last_change_id)
		VALUES ($1,$2,$3)
		ON CONFLICT (consumer) DO UPDATE
		SET last_change_time = EXCLUDED.last_change_time, last_change_id = EXCLUDED.last_change_id
	`, changeConsumer, offset.LastChangeTime, offset.LastChangeID)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func findTicketByRequestID(ctx context.Context, tx pgx.Tx, requestID string) (models.Ticket, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT ticket_number, name, phone, service_id, service_type, status, registered_at, completed_at, estimated_wait_minutes
		FROM tickets
		WHERE request_id = $1
	`, requestID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, store.ErrTicketNotFound) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func insertChange(ctx context.Context, tx pgx.Tx, old, updated models.Ticket, createdAt time.Time) error {
	var oldRaw []byte
	if old.TicketNumber != 0 {
		raw, err := json.Marshal(old)
		if err != nil {
			return err
		}
		oldRaw = raw
	}
	newRaw, err := json.Marshal(updated)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO ticket_changes (change_id, ticket_number, old_json, new_json, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, uuid.NewString(), updated.TicketNumber, oldRaw, newRaw, createdAt)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTicket(row rowScanner) (models.Ticket, error) {
	var ticket models.Ticket
	var completedAtNull sql.NullTime
	var rawStatus string
	if err := row.Scan(&ticket.TicketNumber, &ticket.Name, &ticket.Phone, &ticket.ServiceID, &ticket.ServiceType, &rawStatus, &ticket.RegisteredAt, &completedAtNull, &ticket.EstimatedWaitMinutes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, unavailable(err)
	}
	status, err := models.ParseStatus(rawStatus)
	if err != nil {
		return models.Ticket{}, err
	}
	ticket.Status = status
	if completedAtNull.Valid {
		completedAt := completedAtNull.Time
		ticket.CompletedAt = &completedAt
	}
	return ticket, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}
