package core

import (
	"math/big"
	"time"

	"vestd/sale"
)

// AuditRecorder receives a row for every committed mutating operation. The
// ledger KV store is the source of truth; recorder failures are logged and
// never roll a committed operation back.
type AuditRecorder interface {
	RecordPurchase(entry AuditPurchase) error
	RecordTransfer(entry AuditTransfer) error
	RecordClaim(entry AuditClaim) error
}

// AuditPurchase covers live purchases and administrative backfills.
type AuditPurchase struct {
	Account      sale.Address
	Referrer     *sale.Address
	Quantity     uint64
	Paid         *big.Int
	EffectiveDay uint64
	Backfill     bool
	BatchID      string
	OccurredAt   time.Time
}

// AuditTransfer covers unit transfers between accounts.
type AuditTransfer struct {
	From       sale.Address
	To         sale.Address
	Quantity   uint64
	Day        uint64
	OccurredAt time.Time
}

// AuditClaim covers pool claims and buyback claims.
type AuditClaim struct {
	Account    sale.Address
	Pool       string
	Paid       *big.Int
	OccurredAt time.Time
}

func (n *Node) recordPurchaseAudit(entry AuditPurchase) {
	if n.recorder == nil {
		return
	}
	if err := n.recorder.RecordPurchase(entry); err != nil {
		n.logger.Error("audit purchase record failed", "account", entry.Account.Hex(), "error", err)
	}
}

func (n *Node) recordTransferAudit(entry AuditTransfer) {
	if n.recorder == nil {
		return
	}
	if err := n.recorder.RecordTransfer(entry); err != nil {
		n.logger.Error("audit transfer record failed", "from", entry.From.Hex(), "error", err)
	}
}

func (n *Node) recordClaimAudit(entry AuditClaim) {
	if n.recorder == nil {
		return
	}
	if err := n.recorder.RecordClaim(entry); err != nil {
		n.logger.Error("audit claim record failed", "account", entry.Account.Hex(), "error", err)
	}
}
