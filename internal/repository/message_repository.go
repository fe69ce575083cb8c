package repository

import (
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type MessageRepositoryInterface interface {
	// InsertQueuedTx creates the per-recipient message rows inside the
	// caller's transaction so "debit iff messages created" holds.
	InsertQueuedTx(tx *sql.Tx, msgs []*model.Message) error

	// LoadQueuedByIDs applies the idempotency filter: only rows still
	// queued with no provider message id are eligible for sending.
	LoadQueuedByIDs(ids []int) ([]*model.Message, error)

	// ListQueuedIDs returns every still-queued id of a campaign, for
	// re-enqueueing batches that never made it to the broker.
	ListQueuedIDs(campaignID int) ([]int, error)

	MarkSent(id int, providerMessageID, batchID string) error
	MarkFailed(id int, reason string) error
	IncrementRetryQueued(ids []int) error

	// FailRemainingQueued terminally fails whatever is still queued in the
	// batch and returns the ids it flipped, so refunds are issued exactly
	// once each.
	FailRemainingQueued(ids []int, reason string) ([]int, error)

	GetByID(id int) (*model.Message, error)
	GetByProviderMessageID(providerMessageID string) (*model.Message, error)

	// MarkDeliveryFailed applies the one allowed sent -> failed transition,
	// keyed by provider message id. Returns false when the row was not in
	// sent state (duplicate callback, unknown id).
	MarkDeliveryFailed(providerMessageID, reason string) (bool, error)

	ListSentByCampaign(campaignID int) ([]*model.Message, error)
	ListSentByBatch(batchID string) ([]*model.Message, error)
	CountByStatus(campaignID int) (map[string]int, error)
}

type MessageRepository struct {
	DB *sql.DB
}

func (r *MessageRepository) InsertQueuedTx(tx *sql.Tx, msgs []*model.Message) error {
	query := `
        INSERT INTO messages (campaign_id, destination, rendered_content, status, retry_count, created_at)
        VALUES ($1, $2, $3, $4, 0, $5)
        RETURNING id
    `
	now := time.Now()
	for _, m := range msgs {
		m.Status = model.MessageStatusQueued
		m.CreatedAt = now
		if err := tx.QueryRow(query, m.CampaignID, m.Destination, m.RenderedContent, m.Status, m.CreatedAt).Scan(&m.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *MessageRepository) LoadQueuedByIDs(ids []int) ([]*model.Message, error) {
	query := `
        SELECT id, campaign_id, destination, rendered_content, batch_id, provider_message_id,
               status, retry_count, last_error, created_at, sent_at, failed_at
        FROM messages
        WHERE id = ANY($1) AND status = 'queued' AND provider_message_id IS NULL
        ORDER BY id
    `
	rows, err := r.DB.Query(query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []*model.Message{}
	for rows.Next() {
		m := &model.Message{}
		var batchID sql.NullString
		if err := rows.Scan(
			&m.ID, &m.CampaignID, &m.Destination, &m.RenderedContent, &batchID, &m.ProviderMessageID,
			&m.Status, &m.RetryCount, &m.LastError, &m.CreatedAt, &m.SentAt, &m.FailedAt,
		); err != nil {
			return nil, err
		}
		m.BatchID = batchID.String
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *MessageRepository) ListQueuedIDs(campaignID int) ([]int, error) {
	query := `
        SELECT id FROM messages
        WHERE campaign_id=$1 AND status='queued' AND provider_message_id IS NULL
        ORDER BY id
    `
	rows, err := r.DB.Query(query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *MessageRepository) MarkSent(id int, providerMessageID, batchID string) error {
	query := `
        UPDATE messages
        SET status='sent', provider_message_id=$1, batch_id=$2, last_error='', sent_at=NOW()
        WHERE id=$3 AND status='queued'
    `
	_, err := r.DB.Exec(query, providerMessageID, batchID, id)
	return err
}

func (r *MessageRepository) MarkFailed(id int, reason string) error {
	query := `
        UPDATE messages
        SET status='failed', last_error=$1, failed_at=NOW()
        WHERE id=$2 AND status='queued'
    `
	_, err := r.DB.Exec(query, reason, id)
	return err
}

func (r *MessageRepository) IncrementRetryQueued(ids []int) error {
	query := `UPDATE messages SET retry_count=retry_count+1 WHERE id = ANY($1) AND status='queued'`
	_, err := r.DB.Exec(query, pq.Array(ids))
	return err
}

func (r *MessageRepository) FailRemainingQueued(ids []int, reason string) ([]int, error) {
	query := `
        UPDATE messages
        SET status='failed', last_error=$1, failed_at=NOW()
        WHERE id = ANY($2) AND status='queued' AND provider_message_id IS NULL
        RETURNING id
    `
	rows, err := r.DB.Query(query, reason, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	failed := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		failed = append(failed, id)
	}
	return failed, rows.Err()
}

func (r *MessageRepository) GetByID(id int) (*model.Message, error) {
	return r.getOne(`WHERE id=$1`, id)
}

func (r *MessageRepository) GetByProviderMessageID(providerMessageID string) (*model.Message, error) {
	return r.getOne(`WHERE provider_message_id=$1`, providerMessageID)
}

func (r *MessageRepository) getOne(where string, arg interface{}) (*model.Message, error) {
	query := `
        SELECT id, campaign_id, destination, rendered_content, batch_id, provider_message_id,
               status, retry_count, last_error, created_at, sent_at, failed_at
        FROM messages ` + where
	m := &model.Message{}
	var batchID sql.NullString
	err := r.DB.QueryRow(query, arg).Scan(
		&m.ID, &m.CampaignID, &m.Destination, &m.RenderedContent, &batchID, &m.ProviderMessageID,
		&m.Status, &m.RetryCount, &m.LastError, &m.CreatedAt, &m.SentAt, &m.FailedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	m.BatchID = batchID.String
	return m, nil
}

func (r *MessageRepository) MarkDeliveryFailed(providerMessageID, reason string) (bool, error) {
	query := `
        UPDATE messages
        SET status='failed', last_error=$1, failed_at=NOW()
        WHERE provider_message_id=$2 AND status='sent'
    `
	res, err := r.DB.Exec(query, reason, providerMessageID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *MessageRepository) ListSentByCampaign(campaignID int) ([]*model.Message, error) {
	return r.list(`WHERE campaign_id=$1 AND status='sent' AND provider_message_id IS NOT NULL`, campaignID)
}

func (r *MessageRepository) ListSentByBatch(batchID string) ([]*model.Message, error) {
	return r.list(`WHERE batch_id=$1 AND status='sent' AND provider_message_id IS NOT NULL`, batchID)
}

func (r *MessageRepository) list(where string, arg interface{}) ([]*model.Message, error) {
	query := `
        SELECT id, campaign_id, destination, rendered_content, batch_id, provider_message_id,
               status, retry_count, last_error, created_at, sent_at, failed_at
        FROM messages ` + where + ` ORDER BY id`
	rows, err := r.DB.Query(query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []*model.Message{}
	for rows.Next() {
		m := &model.Message{}
		var batchID sql.NullString
		if err := rows.Scan(
			&m.ID, &m.CampaignID, &m.Destination, &m.RenderedContent, &batchID, &m.ProviderMessageID,
			&m.Status, &m.RetryCount, &m.LastError, &m.CreatedAt, &m.SentAt, &m.FailedAt,
		); err != nil {
			return nil, err
		}
		m.BatchID = batchID.String
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *MessageRepository) CountByStatus(campaignID int) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM messages WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.Query(query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{"queued": 0, "sent": 0, "failed": 0}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

var _ MessageRepositoryInterface = (*MessageRepository)(nil)
