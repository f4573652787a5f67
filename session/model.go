package session

// Record is the persisted form of one login session.
type Record struct {
	SessionID string
	UserID    string
	Email     string
	Provider  string
	FullName  string

	RefreshHash [32]byte

	CreatedAt int64
	ExpiresAt int64
}
