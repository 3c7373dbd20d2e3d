package history

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PurchaseRow records a live purchase or an administrative backfill.
type PurchaseRow struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Account      string    `gorm:"size:42;index"`
	Referrer     string    `gorm:"size:42;index"`
	Quantity     uint64    `gorm:"not null"`
	Paid         string    `gorm:"size:80"`
	EffectiveDay uint64    `gorm:"index"`
	Backfill     bool      `gorm:"index"`
	BatchID      string    `gorm:"size:36;index"`
	OccurredAt   time.Time `gorm:"index"`
	CreatedAt    time.Time
}

// TransferRow records a unit transfer between accounts.
type TransferRow struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	FromAddr   string    `gorm:"size:42;index"`
	ToAddr     string    `gorm:"size:42;index"`
	Quantity   uint64    `gorm:"not null"`
	Day        uint64    `gorm:"index"`
	OccurredAt time.Time `gorm:"index"`
	CreatedAt  time.Time
}

// ClaimRow records a reward or buyback payout.
type ClaimRow struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Account    string    `gorm:"size:42;index"`
	Pool       string    `gorm:"size:16;index"`
	Paid       string    `gorm:"size:80"`
	OccurredAt time.Time `gorm:"index"`
	CreatedAt  time.Time
}

// AutoMigrate performs all schema migrations for the history store.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&PurchaseRow{},
		&TransferRow{},
		&ClaimRow{},
	)
}
