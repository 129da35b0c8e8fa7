package db

import (
	"context"
	"database/sql"

	"trust-payments/models"
)

// DLQStore persists failed notification events in dlq_messages.
type DLQStore struct {
	db *sql.DB
}

func NewDLQStore(conn *sql.DB) *DLQStore {
	return &DLQStore{db: conn}
}

func (s *DLQStore) Store(ctx context.Context, topic, key string, value []byte, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dlq_messages (message_id, topic, key, value, error_message, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3::jsonb, $4, NOW())
		ON CONFLICT (message_id) DO NOTHING`,
		topic, key, value, errMsg)
	return mapErr(err, "dlq message")
}

const dlqColumns = `id, message_id, topic, COALESCE(key, ''), value, COALESCE(error_message, ''),
	retry_count, max_retries, resolved, COALESCE(notes, ''), created_at`

func scanDLQ(row rowScanner) (*models.DLQMessage, error) {
	var m models.DLQMessage
	var value []byte
	err := row.Scan(&m.ID, &m.MessageID, &m.Topic, &m.Key, &value, &m.ErrorMessage,
		&m.RetryCount, &m.MaxRetries, &m.Resolved, &m.Notes, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.Value = value
	return &m, nil
}

func (s *DLQStore) query(ctx context.Context, q string, args ...interface{}) ([]models.DLQMessage, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err, "dlq messages")
	}
	defer rows.Close()

	var out []models.DLQMessage
	for rows.Next() {
		m, err := scanDLQ(rows)
		if err != nil {
			return nil, mapErr(err, "dlq messages")
		}
		out = append(out, *m)
	}
	return out, mapErr(rows.Err(), "dlq messages")
}

// Unresolved lists unresolved messages, newest first.
func (s *DLQStore) Unresolved(ctx context.Context, limit int) ([]models.DLQMessage, error) {
	return s.query(ctx, `SELECT `+dlqColumns+` FROM dlq_messages
		WHERE resolved = FALSE ORDER BY created_at DESC LIMIT $1`, limit)
}

// Retryable lists unresolved messages still under their retry budget, oldest first.
func (s *DLQStore) Retryable(ctx context.Context, limit int) ([]models.DLQMessage, error) {
	return s.query(ctx, `SELECT `+dlqColumns+` FROM dlq_messages
		WHERE resolved = FALSE AND retry_count < max_retries ORDER BY created_at ASC LIMIT $1`, limit)
}

func (s *DLQStore) Get(ctx context.Context, messageID string) (*models.DLQMessage, error) {
	if err := checkID(messageID, "dlq message"); err != nil {
		return nil, err
	}
	m, err := scanDLQ(s.db.QueryRowContext(ctx, `SELECT `+dlqColumns+` FROM dlq_messages WHERE message_id = $1`, messageID))
	if err != nil {
		return nil, mapErr(err, "dlq message")
	}
	return m, nil
}

// MarkRetried bumps the retry count and resolves the message if the retry
// succeeded.
func (s *DLQStore) MarkRetried(ctx context.Context, messageID string, resolved bool, note string) error {
	var err error
	if resolved {
		_, err = s.db.ExecContext(ctx, `
			UPDATE dlq_messages
			SET retry_count = retry_count + 1, last_retry_at = NOW(), resolved = TRUE, resolved_at = NOW(), notes = $2
			WHERE message_id = $1`, messageID, note)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE dlq_messages
			SET retry_count = retry_count + 1, last_retry_at = NOW()
			WHERE message_id = $1`, messageID)
	}
	return mapErr(err, "dlq message")
}

func (s *DLQStore) Resolve(ctx context.Context, messageID, notes string) error {
	if err := checkID(messageID, "dlq message"); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE dlq_messages SET resolved = TRUE, resolved_at = NOW(), notes = $2
		WHERE message_id = $1`, messageID, notes)
	ok, err := affected(res, err, "dlq message")
	if err != nil {
		return err
	}
	if !ok {
		return mapErr(sql.ErrNoRows, "dlq message")
	}
	return nil
}

func (s *DLQStore) Stats(ctx context.Context) (models.DLQStats, error) {
	var st models.DLQStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE resolved = FALSE),
			COUNT(*) FILTER (WHERE resolved = TRUE)
		FROM dlq_messages`).Scan(&st.Total, &st.Unresolved, &st.Resolved)
	return st, mapErr(err, "dlq stats")
}
