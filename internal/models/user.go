package models

import (
	"time"

	"github.com/google/uuid"
)

// User as mirrored from the identity layer
type User struct {
	ID        uuid.UUID
	CreatedAt time.Time
	Username  string

	// Where withdrawals are paid out to. Empty if not set
	PayoutDestination string
	PayoutVerified    bool
}

func (u User) CanReceivePayout() bool {
	return u.PayoutDestination != "" && u.PayoutVerified
}
