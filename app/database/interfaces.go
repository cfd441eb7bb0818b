package database

// MessageRepository handles audit index operations.
type MessageRepository interface {
	Insert(m *Message) error
	GetStats() (*Stats, error)
}
