package model

import "github.com/taskhub/escrow/internal/money"

// Party identifies one side of a contract in statement exports.
type Party struct {
	ID   string
	Name string
	Role string
}

type StatementLine struct {
	Transaction Transaction
	Milestone   *Milestone
}

// EscrowStatement is the printable ledger view of a single contract:
// its milestones and every transaction that moved money for them.
type EscrowStatement struct {
	Contract     Contract
	Buyer        Party
	Seller       Party
	Milestones   []Milestone
	Lines        []StatementLine
	TotalFunded  money.Money
	TotalPaid    money.Money
	TotalRefunds money.Money
}
