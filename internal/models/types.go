package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transfer type ids, matching the transfer_types lookup table.
const (
	TypeRequest int32 = 1
	TypeSend    int32 = 2
)

// Transfer status ids, matching the transfer_statuses lookup table.
const (
	StatusPending  int32 = 1
	StatusApproved int32 = 2
	StatusRejected int32 = 3
)

// User is a registered user. Accounts and credentials hang off it.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Account holds a single user's balance.
type Account struct {
	ID      int64           `json:"id"`
	UserID  int64           `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

// Transfer is the immutable record of a funds movement between two accounts.
// Once the status reaches Approved or Rejected the row never changes again.
type Transfer struct {
	ID            int64           `json:"id"`
	TypeID        int32           `json:"transfer_type_id"`
	StatusID      int32           `json:"transfer_status_id"`
	AccountFromID int64           `json:"account_from"`
	AccountToID   int64           `json:"account_to"`
	Amount        decimal.Decimal `json:"amount"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Direction of a transfer relative to the viewing user.
type Direction string

const (
	DirectionSent     Direction = "Sent"
	DirectionReceived Direction = "Received"
)

// TransferSummary is one line of a user's transfer history: the transfer
// plus the counterparty's username and the direction relative to the viewer.
type TransferSummary struct {
	Transfer
	Counterparty string    `json:"counterparty"`
	Direction    Direction `json:"direction"`
}

// TransferDetail is the fully resolved view of a single transfer, with both
// usernames and the human-readable type/status descriptions joined in.
type TransferDetail struct {
	ID         int64           `json:"id"`
	FromUser   string          `json:"from_user"`
	ToUser     string          `json:"to_user"`
	Type       string          `json:"type"`
	Status     string          `json:"status"`
	Amount     decimal.Decimal `json:"amount"`
	CreatedAt  time.Time       `json:"created_at"`
	TypeID     int32           `json:"-"`
	StatusID   int32           `json:"-"`
	FromUserID int64           `json:"-"`
	ToUserID   int64           `json:"-"`
}

// TransferRequest is the payload from the client: send to (or request from)
// the counterparty user.
type TransferRequest struct {
	CounterpartyUserID int64           `json:"counterparty_user_id"`
	Amount             decimal.Decimal `json:"amount"`
}

// TransferResult is the canonical response for transfer execution.
type TransferResult struct {
	Success      bool   `json:"success"`
	TransferID   int64  `json:"transfer_id,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}
