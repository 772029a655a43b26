package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Fund is a custodial wallet account permitted to purchase agent
// access. The wallet address is stored in checksummed form and is
// immutable once created.
type Fund struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	WalletAddress string `gorm:"size:42;uniqueIndex;not null" json:"wallet_address"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Transactions  []Transaction `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// Agent is a marketplace listing for an AI service priced in USDC.
// One listing per payout wallet.
type Agent struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	Name          string          `gorm:"size:255;not null" json:"name"`
	WalletAddress string          `gorm:"size:42;uniqueIndex;not null" json:"wallet_address"`
	Price         decimal.Decimal `gorm:"type:numeric(20,6);not null" json:"price"`
	Description   string          `gorm:"type:text" json:"description,omitempty"`
	ImageURL      string          `gorm:"size:500" json:"image_url,omitempty"`
	IsActive      bool            `gorm:"default:true" json:"is_active"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Transactions  []Transaction `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// Transaction is the immutable settlement record of a completed
// on-chain purchase. TxHash carries the unique index that guarantees a
// given on-chain event is recorded at most once.
type Transaction struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	FundID    uint            `gorm:"index;not null" json:"fund_id"`
	AgentID   uint            `gorm:"index;not null" json:"agent_id"`
	Amount    decimal.Decimal `gorm:"type:numeric(20,6);not null" json:"amount"`
	Fee       decimal.Decimal `gorm:"type:numeric(20,6);not null" json:"fee"`
	TxHash    string          `gorm:"size:66;uniqueIndex;not null" json:"tx_hash"`
	Metadata  string          `gorm:"type:text" json:"metadata,omitempty"`
	Timestamp time.Time       `gorm:"index;autoCreateTime" json:"timestamp"`
}

// ChallengeNonce records consumed authentication nonces so a captured
// signature cannot be replayed. The composite unique index is the
// single-use guarantee.
type ChallengeNonce struct {
	ID            uint   `gorm:"primaryKey"`
	WalletAddress string `gorm:"size:42;uniqueIndex:idx_nonce_wallet;not null"`
	Nonce         string `gorm:"size:128;uniqueIndex:idx_nonce_wallet;not null"`
	ConsumedAt    time.Time
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Fund{},
		&Agent{},
		&Transaction{},
		&ChallengeNonce{},
	)
}
