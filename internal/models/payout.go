package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Instruction for the payout processor. Reference is the withdrawal transaction id
type PayoutInstruction struct {
	Reference   uuid.UUID       `json:"reference"`
	UserID      uuid.UUID       `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Fee         decimal.Decimal `json:"fee"`
	NetAmount   decimal.Decimal `json:"net_amount"`
	Destination string          `json:"destination"`
}

type PayoutOutcome string

const (
	PayoutSucceeded PayoutOutcome = "completed"
	PayoutFailed    PayoutOutcome = "failed"
)
