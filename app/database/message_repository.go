package database

import (
	"database/sql"
	"fmt"
)

var _ MessageRepository = (*MessageRepositoryImpl)(nil)

type MessageRepositoryImpl struct {
	db *DB
}

func NewMessageRepository(db *DB) *MessageRepositoryImpl {
	return &MessageRepositoryImpl{db: db}
}

func (r *MessageRepositoryImpl) Insert(m *Message) error {
	_, err := r.db.Exec(`
		INSERT INTO messages (time_key, method, uri, status, blocked, request_size, response_size)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.TimeKey, m.Method, m.URI, m.Status, m.Blocked, m.RequestSize, m.ResponseSize)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (r *MessageRepositoryImpl) GetStats() (*Stats, error) {
	var stats Stats
	var last sql.NullString
	err := r.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN blocked THEN 1 ELSE 0 END), 0),
		       MAX(time_key)
		FROM messages`).Scan(&stats.Total, &stats.Blocked, &last)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	stats.LastTimeKey = last.String
	return &stats, nil
}
