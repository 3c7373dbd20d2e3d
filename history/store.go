package history

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"vestd/core"
)

// Store persists an append-only history of committed operations in a
// relational database. It satisfies core.AuditRecorder.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) a sqlite history database at path and runs
// migrations.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	return NewStore(db)
}

// NewStore wraps an existing gorm handle and runs migrations.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("history: nil db handle")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordPurchase appends a purchase row.
func (s *Store) RecordPurchase(entry core.AuditPurchase) error {
	row := PurchaseRow{
		ID:           uuid.New(),
		Account:      entry.Account.Hex(),
		Quantity:     entry.Quantity,
		EffectiveDay: entry.EffectiveDay,
		Backfill:     entry.Backfill,
		BatchID:      entry.BatchID,
		OccurredAt:   entry.OccurredAt,
	}
	if entry.Referrer != nil {
		row.Referrer = entry.Referrer.Hex()
	}
	if entry.Paid != nil {
		row.Paid = entry.Paid.String()
	}
	return s.db.Create(&row).Error
}

// RecordTransfer appends a transfer row.
func (s *Store) RecordTransfer(entry core.AuditTransfer) error {
	row := TransferRow{
		ID:         uuid.New(),
		FromAddr:   entry.From.Hex(),
		ToAddr:     entry.To.Hex(),
		Quantity:   entry.Quantity,
		Day:        entry.Day,
		OccurredAt: entry.OccurredAt,
	}
	return s.db.Create(&row).Error
}

// RecordClaim appends a claim row.
func (s *Store) RecordClaim(entry core.AuditClaim) error {
	row := ClaimRow{
		ID:         uuid.New(),
		Account:    entry.Account.Hex(),
		Pool:       entry.Pool,
		OccurredAt: entry.OccurredAt,
	}
	if entry.Paid != nil {
		row.Paid = entry.Paid.String()
	}
	return s.db.Create(&row).Error
}

// PurchasesFor returns the purchase rows for an account, oldest first.
func (s *Store) PurchasesFor(account string) ([]PurchaseRow, error) {
	var rows []PurchaseRow
	err := s.db.Where("account = ?", account).Order("occurred_at asc").Find(&rows).Error
	return rows, err
}

// ClaimsFor returns the claim rows for an account, oldest first.
func (s *Store) ClaimsFor(account string) ([]ClaimRow, error) {
	var rows []ClaimRow
	err := s.db.Where("account = ?", account).Order("occurred_at asc").Find(&rows).Error
	return rows, err
}

// BatchRows returns all purchase rows of one bulk backfill batch.
func (s *Store) BatchRows(batchID string) ([]PurchaseRow, error) {
	var rows []PurchaseRow
	err := s.db.Where("batch_id = ?", batchID).Order("occurred_at asc").Find(&rows).Error
	return rows, err
}
