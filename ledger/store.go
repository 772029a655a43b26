package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"agentpay/models"
)

var (
	// ErrNotFound is returned when a lookup by id, address, or hash
	// misses.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a create would violate a
	// uniqueness constraint.
	ErrConflict = errors.New("record already exists")
)

// TransactionRecord is a settlement row enriched with the owning
// fund's wallet address and the purchased agent's display name.
type TransactionRecord struct {
	ID         uint            `json:"id"`
	FundID     uint            `json:"fund_id"`
	AgentID    uint            `json:"agent_id"`
	Amount     decimal.Decimal `json:"amount"`
	Fee        decimal.Decimal `json:"fee"`
	TxHash     string          `json:"tx_hash"`
	Metadata   string          `json:"metadata,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	FundWallet string          `json:"fund_wallet"`
	AgentName  string          `json:"agent_name"`
}

// AgentUpdate carries the optional fields of a partial agent update.
// Nil fields are left untouched.
type AgentUpdate struct {
	Name        *string
	Price       *decimal.Decimal
	Description *string
	ImageURL    *string
	IsActive    *bool
}

// Store is the durable record of funds, agents, and transactions.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and applies schema
// migrations. A DSN starting with "postgres" selects the postgres
// driver; anything else is treated as a sqlite path.
func Open(dsn string) (*Store, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("database DSN must be configured")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already-open gorm handle. The handle must have been
// opened with TranslateError so uniqueness violations surface as
// gorm.ErrDuplicatedKey.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for process shutdown.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrConflict
	default:
		return err
	}
}

// CreateFund persists a new fund. The unique index on the wallet
// address is the duplicate guard.
func (s *Store) CreateFund(ctx context.Context, fund *models.Fund) error {
	if err := s.db.WithContext(ctx).Create(fund).Error; err != nil {
		return fmt.Errorf("create fund: %w", translate(err))
	}
	return nil
}

// FundByAddress looks up a fund by its checksummed wallet address.
func (s *Store) FundByAddress(ctx context.Context, addr string) (*models.Fund, error) {
	var fund models.Fund
	if err := s.db.WithContext(ctx).First(&fund, "wallet_address = ?", addr).Error; err != nil {
		return nil, fmt.Errorf("fund %s: %w", addr, translate(err))
	}
	return &fund, nil
}

// FundByID looks up a fund by numeric identifier.
func (s *Store) FundByID(ctx context.Context, id uint) (*models.Fund, error) {
	var fund models.Fund
	if err := s.db.WithContext(ctx).First(&fund, id).Error; err != nil {
		return nil, fmt.Errorf("fund %d: %w", id, translate(err))
	}
	return &fund, nil
}

// ListFunds returns funds ordered by creation, respecting pagination
// exactly: limit zero yields an empty slice.
func (s *Store) ListFunds(ctx context.Context, offset, limit int) ([]models.Fund, error) {
	funds := []models.Fund{}
	if limit <= 0 {
		return funds, nil
	}
	err := s.db.WithContext(ctx).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&funds).Error
	if err != nil {
		return nil, fmt.Errorf("list funds: %w", err)
	}
	return funds, nil
}

// DeleteFund removes a fund and, in the same database transaction, all
// settlement records that reference it.
func (s *Store) DeleteFund(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var fund models.Fund
		if err := tx.First(&fund, id).Error; err != nil {
			return err
		}
		if err := tx.Where("fund_id = ?", id).Delete(&models.Transaction{}).Error; err != nil {
			return err
		}
		return tx.Delete(&fund).Error
	})
	if err != nil {
		return fmt.Errorf("delete fund %d: %w", id, translate(err))
	}
	return nil
}

// CreateAgent persists a new marketplace listing. The unique index on
// the owner wallet prevents two listings sharing a payout address.
func (s *Store) CreateAgent(ctx context.Context, agent *models.Agent) error {
	if err := s.db.WithContext(ctx).Create(agent).Error; err != nil {
		return fmt.Errorf("create agent: %w", translate(err))
	}
	return nil
}

// AgentByID looks up a listing by numeric identifier.
func (s *Store) AgentByID(ctx context.Context, id uint) (*models.Agent, error) {
	var agent models.Agent
	if err := s.db.WithContext(ctx).First(&agent, id).Error; err != nil {
		return nil, fmt.Errorf("agent %d: %w", id, translate(err))
	}
	return &agent, nil
}

// AgentByAddress looks up a listing by its owner wallet address.
func (s *Store) AgentByAddress(ctx context.Context, addr string) (*models.Agent, error) {
	var agent models.Agent
	if err := s.db.WithContext(ctx).First(&agent, "wallet_address = ?", addr).Error; err != nil {
		return nil, fmt.Errorf("agent %s: %w", addr, translate(err))
	}
	return &agent, nil
}

// ListAgents returns listings, optionally restricted to active ones.
func (s *Store) ListAgents(ctx context.Context, offset, limit int, activeOnly bool) ([]models.Agent, error) {
	agents := []models.Agent{}
	if limit <= 0 {
		return agents, nil
	}
	query := s.db.WithContext(ctx).Order("id ASC")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	if err := query.Offset(offset).Limit(limit).Find(&agents).Error; err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}

// UpdateAgent applies the non-nil fields of update to an existing
// listing and returns the refreshed row.
func (s *Store) UpdateAgent(ctx context.Context, id uint, update AgentUpdate) (*models.Agent, error) {
	var agent models.Agent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&agent, id).Error; err != nil {
			return err
		}
		changes := map[string]any{}
		if update.Name != nil {
			changes["name"] = *update.Name
		}
		if update.Price != nil {
			changes["price"] = *update.Price
		}
		if update.Description != nil {
			changes["description"] = *update.Description
		}
		if update.ImageURL != nil {
			changes["image_url"] = *update.ImageURL
		}
		if update.IsActive != nil {
			changes["is_active"] = *update.IsActive
		}
		if len(changes) == 0 {
			return nil
		}
		if err := tx.Model(&agent).Updates(changes).Error; err != nil {
			return err
		}
		return tx.First(&agent, id).Error
	})
	if err != nil {
		return nil, fmt.Errorf("update agent %d: %w", id, translate(err))
	}
	return &agent, nil
}

// DeleteAgent removes a listing.
func (s *Store) DeleteAgent(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.Agent{}, id)
	if result.Error != nil {
		return fmt.Errorf("delete agent %d: %w", id, translate(result.Error))
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("delete agent %d: %w", id, ErrNotFound)
	}
	return nil
}

// CreateTransaction inserts a settlement record. The insert itself is
// the duplicate check: concurrent submissions of the same tx hash race
// on the unique index and every loser observes ErrConflict.
func (s *Store) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	if err := s.db.WithContext(ctx).Create(txn).Error; err != nil {
		return fmt.Errorf("create transaction: %w", translate(err))
	}
	return nil
}

const enrichedSelect = "transactions.id, transactions.fund_id, transactions.agent_id, transactions.amount, transactions.fee, transactions.tx_hash, transactions.metadata, transactions.timestamp, funds.wallet_address AS fund_wallet, agents.name AS agent_name"

func (s *Store) enriched(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Select(enrichedSelect).
		Joins("JOIN funds ON funds.id = transactions.fund_id").
		Joins("JOIN agents ON agents.id = transactions.agent_id")
}

// TransactionByID returns a single enriched settlement record.
func (s *Store) TransactionByID(ctx context.Context, id uint) (*TransactionRecord, error) {
	var record TransactionRecord
	err := s.enriched(ctx).Where("transactions.id = ?", id).Take(&record).Error
	if err != nil {
		return nil, fmt.Errorf("transaction %d: %w", id, translate(err))
	}
	return &record, nil
}

// TransactionByHash returns the enriched settlement record carrying
// the given on-chain transaction hash.
func (s *Store) TransactionByHash(ctx context.Context, hash string) (*TransactionRecord, error) {
	var record TransactionRecord
	err := s.enriched(ctx).Where("transactions.tx_hash = ?", hash).Take(&record).Error
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", hash, translate(err))
	}
	return &record, nil
}

// ListTransactions returns enriched settlement records newest first.
func (s *Store) ListTransactions(ctx context.Context, offset, limit int) ([]TransactionRecord, error) {
	records := []TransactionRecord{}
	if limit <= 0 {
		return records, nil
	}
	err := s.enriched(ctx).
		Order("transactions.timestamp DESC, transactions.id DESC").
		Offset(offset).
		Limit(limit).
		Scan(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return records, nil
}

// TransactionsForFund returns a fund's enriched settlement records
// newest first.
func (s *Store) TransactionsForFund(ctx context.Context, fundID uint, offset, limit int) ([]TransactionRecord, error) {
	records := []TransactionRecord{}
	if limit <= 0 {
		return records, nil
	}
	err := s.enriched(ctx).
		Where("transactions.fund_id = ?", fundID).
		Order("transactions.timestamp DESC, transactions.id DESC").
		Offset(offset).
		Limit(limit).
		Scan(&records).Error
	if err != nil {
		return nil, fmt.Errorf("transactions for fund %d: %w", fundID, err)
	}
	return records, nil
}

// ConsumeNonce records a challenge nonce as used. A second consumption
// of the same (wallet, nonce) pair fails with ErrConflict, which is
// what makes captured signatures single-use.
func (s *Store) ConsumeNonce(ctx context.Context, addr, nonce string) error {
	record := models.ChallengeNonce{
		WalletAddress: addr,
		Nonce:         nonce,
		ConsumedAt:    time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("consume nonce: %w", translate(err))
	}
	return nil
}
