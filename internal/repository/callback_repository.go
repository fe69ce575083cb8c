package repository

import (
	"database/sql"
	"time"
)

// CallbackRepositoryInterface persists raw delivery callbacks for
// audit/replay before any processing happens.
type CallbackRepositoryInterface interface {
	InsertRaw(source string, payload []byte) error
}

type CallbackRepository struct {
	DB *sql.DB
}

func (r *CallbackRepository) InsertRaw(source string, payload []byte) error {
	query := `INSERT INTO webhook_events (source, payload, received_at) VALUES ($1, $2, $3)`
	_, err := r.DB.Exec(query, source, payload, time.Now())
	return err
}

var _ CallbackRepositoryInterface = (*CallbackRepository)(nil)
