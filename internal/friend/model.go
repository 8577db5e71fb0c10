package friend

import "time"

const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

type Request struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"senderId"`
	ReceiverID int64     `json:"receiverId"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`

	// Counterpart is the other user's profile, filled by list queries.
	Counterpart *Profile `json:"user,omitempty"`
}

type Profile struct {
	ID       int64     `json:"id"`
	Username string    `json:"username"`
	Avatar   string    `json:"avatar"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

type SendRequest struct {
	ReceiverID int64 `json:"receiverId"`
}

type Requests struct {
	Incoming []Request `json:"incoming"`
	Sent     []Request `json:"sent"`
}

// orderedPair returns the canonical (smaller, larger) friendship key.
func orderedPair(a, b int64) (int64, int64) {
	if a < b {
		return a, b
	}
	return b, a
}
