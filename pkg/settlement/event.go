// Package settlement carries the one-way effects a payout run produces
// (transfers, deposits, resource rentals) to the external settlement layer.
//
// Producers append events to a Sink bound to the current unit of work. Once
// the unit of work commits, a Relay drains the durable outbox to a Publisher.
// Nothing in a run ever waits for settlement.
package settlement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/Mindburn-Labs/treasury/pkg/finance"
)

// Kind names an outbound effect.
type Kind string

const (
	KindTransfer Kind = "transfer"
	KindDeposit  Kind = "deposit"
	KindRentNet  Kind = "rentnet"
	KindRentCPU  Kind = "rentcpu"
)

// Event is a single outbound effect.
type Event struct {
	ID        string        `json:"id"`
	Seq       int64         `json:"seq"` // assigned by the outbox, orders delivery
	RunID     string        `json:"run_id"`
	Kind      Kind          `json:"kind"`
	From      string        `json:"from"`
	To        string        `json:"to,omitempty"`
	Amount    finance.Money `json:"amount"`
	Memo      string        `json:"memo,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Transfer moves amount from one account to another.
func Transfer(from, to string, amount finance.Money, memo string) Event {
	return Event{Kind: KindTransfer, From: from, To: to, Amount: amount, Memo: memo}
}

// Deposit funds the resource market on behalf of from.
func Deposit(from string, amount finance.Money) Event {
	return Event{Kind: KindDeposit, From: from, Amount: amount}
}

// RentNet rents network capacity for receiver.
func RentNet(from, receiver string, amount finance.Money) Event {
	return Event{Kind: KindRentNet, From: from, To: receiver, Amount: amount}
}

// RentCPU rents compute capacity for receiver.
func RentCPU(from, receiver string, amount finance.Money) Event {
	return Event{Kind: KindRentCPU, From: from, To: receiver, Amount: amount}
}

// Sink accepts outbound events. Emit only appends; it never blocks on
// delivery.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// payload is the settlement-relevant part of an event. Seq and CreatedAt are
// bookkeeping and stay out of the digest.
type payload struct {
	ID        string `json:"id"`
	RunID     string `json:"run_id"`
	Kind      Kind   `json:"kind"`
	From      string `json:"from"`
	To        string `json:"to,omitempty"`
	Amount    int64  `json:"amount"`
	Symbol    string `json:"symbol"`
	Precision int    `json:"precision"`
	Memo      string `json:"memo,omitempty"`
}

// Encode returns the RFC 8785 canonical JSON form of ev and its SHA-256
// digest. Settlement consumers use the digest to deduplicate redeliveries.
func Encode(ev Event) ([]byte, string, error) {
	raw, err := json.Marshal(payload{
		ID:        ev.ID,
		RunID:     ev.RunID,
		Kind:      ev.Kind,
		From:      ev.From,
		To:        ev.To,
		Amount:    ev.Amount.Amount,
		Symbol:    ev.Amount.Symbol,
		Precision: ev.Amount.Precision,
		Memo:      ev.Memo,
	})
	if err != nil {
		return nil, "", fmt.Errorf("settlement: marshal event: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, "", fmt.Errorf("settlement: canonicalize event: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return canonical, hex.EncodeToString(sum[:]), nil
}
