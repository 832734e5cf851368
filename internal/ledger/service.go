// Package ledger owns tenant balances. Calls are admitted against a hold on the
// available balance; the balance itself only moves when a usage record is committed.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aman-churiwal/llm-gateway/internal/clock"
	"github.com/aman-churiwal/llm-gateway/internal/models"
	"github.com/aman-churiwal/llm-gateway/internal/repository"
	"github.com/aman-churiwal/llm-gateway/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Hold reserves part of a tenant's available balance for one in-flight call.
type Hold struct {
	ID        string
	TenantID  uuid.UUID
	Amount    decimal.Decimal
	CreatedAt time.Time
}

type Account struct {
	TenantID  uuid.UUID       `json:"tenant_id"`
	Balance   decimal.Decimal `json:"balance"`
	Held      decimal.Decimal `json:"held"`
	Available decimal.Decimal `json:"available"`
}

type account struct {
	mu      sync.Mutex
	loaded  bool
	balance decimal.Decimal
	held    decimal.Decimal
	holds   map[string]decimal.Decimal
}

func (a *account) available() decimal.Decimal {
	return a.balance.Sub(a.held)
}

func (a *account) release(id string) bool {
	amount, ok := a.holds[id]
	if !ok {
		return false
	}
	delete(a.holds, id)
	a.held = a.held.Sub(amount)
	return true
}

type Service struct {
	db    *storage.Database
	clock clock.Clock
	log   *zap.Logger

	accounts sync.Map // uuid.UUID -> *account
}

func NewService(db *storage.Database, clk clock.Clock, log *zap.Logger) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		db:    db,
		clock: clk,
		log:   log.Named("ledger.service"),
	}
}

// Reserve places a hold of projected against the tenant's available balance.
func (s *Service) Reserve(ctx context.Context, tenantID uuid.UUID, projected decimal.Decimal) (Hold, error) {
	if projected.IsNegative() {
		projected = decimal.Zero
	}

	acc := s.account(tenantID)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	if !acc.loaded {
		balance, err := s.readBalance(s.db.DB.WithContext(ctx), tenantID)
		if err != nil {
			return Hold{}, err
		}
		acc.balance = balance
		acc.loaded = true
	}

	if projected.GreaterThan(acc.available()) {
		return Hold{}, fmt.Errorf("%w: projected %s, available %s",
			ErrInsufficientBalance, projected.StringFixed(6), acc.available().StringFixed(6))
	}

	hold := Hold{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Amount:    projected,
		CreatedAt: s.clock.Now(),
	}
	acc.holds[hold.ID] = projected
	acc.held = acc.held.Add(projected)

	return hold, nil
}

// Commit charges rec.TotalCost to the tenant and appends rec in one transaction,
// then releases the hold. If the tenant already committed a record under the same
// idempotency key, that record is returned and nothing is charged.
// On error the hold stays in place for the caller to roll back.
func (s *Service) Commit(ctx context.Context, hold Hold, rec *models.Request) (*models.Request, error) {
	acc := s.account(hold.TenantID)

	acc.mu.Lock()
	_, ok := acc.holds[hold.ID]
	acc.mu.Unlock()
	if !ok {
		return nil, ErrHoldNotFound
	}

	rec.TenantID = hold.TenantID

	var (
		committed  *models.Request
		newBalance decimal.Decimal
	)

	err := s.db.Transaction(ctx, func(tx *gorm.DB) error {
		tenant, err := lockTenant(tx, hold.TenantID)
		if err != nil {
			return err
		}

		if rec.IdempotencyKey != nil {
			existing, err := repository.FindRequestByIdempotencyKey(tx, hold.TenantID, *rec.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				committed = existing
				newBalance = tenant.Balance
				return nil
			}
		}

		newBalance = tenant.Balance.Sub(rec.TotalCost)
		if newBalance.IsNegative() {
			return fmt.Errorf("%w: balance %s, cost %s",
				ErrInsufficientBalance, tenant.Balance.StringFixed(6), rec.TotalCost.StringFixed(6))
		}

		if err := tx.Model(&models.Tenant{}).
			Where("id = ?", hold.TenantID).
			Update("balance", newBalance).Error; err != nil {
			return err
		}

		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		committed = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	acc.mu.Lock()
	acc.release(hold.ID)
	acc.balance = newBalance
	acc.loaded = true
	acc.mu.Unlock()

	if committed != rec {
		s.log.Info("idempotent replay, no charge",
			zap.String("tenant_id", hold.TenantID.String()),
			zap.String("request_id", committed.ID.String()),
		)
	}

	return committed, nil
}

// Rollback releases a hold. Releasing an unknown or already released hold is a no-op.
func (s *Service) Rollback(hold Hold) {
	v, ok := s.accounts.Load(hold.TenantID)
	if !ok {
		return
	}
	acc := v.(*account)

	acc.mu.Lock()
	defer acc.mu.Unlock()
	acc.release(hold.ID)
}

// Credit adds amount to the tenant's balance and returns the new balance.
func (s *Service) Credit(ctx context.Context, tenantID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}

	var newBalance decimal.Decimal
	err := s.db.Transaction(ctx, func(tx *gorm.DB) error {
		tenant, err := lockTenant(tx, tenantID)
		if err != nil {
			return err
		}

		newBalance = tenant.Balance.Add(amount)
		return tx.Model(&models.Tenant{}).
			Where("id = ?", tenantID).
			Update("balance", newBalance).Error
	})
	if err != nil {
		return decimal.Zero, err
	}

	acc := s.account(tenantID)
	acc.mu.Lock()
	acc.balance = newBalance
	acc.loaded = true
	acc.mu.Unlock()

	s.log.Info("balance credited",
		zap.String("tenant_id", tenantID.String()),
		zap.String("amount", amount.StringFixed(6)),
		zap.String("balance", newBalance.StringFixed(6)),
	)

	return newBalance, nil
}

// Balance reads the stored balance and the sum of open holds.
func (s *Service) Balance(ctx context.Context, tenantID uuid.UUID) (Account, error) {
	balance, err := s.readBalance(s.db.DB.WithContext(ctx), tenantID)
	if err != nil {
		return Account{}, err
	}

	acc := s.account(tenantID)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	acc.balance = balance
	acc.loaded = true

	return Account{
		TenantID:  tenantID,
		Balance:   balance,
		Held:      acc.held,
		Available: acc.available(),
	}, nil
}

func (s *Service) account(tenantID uuid.UUID) *account {
	if v, ok := s.accounts.Load(tenantID); ok {
		return v.(*account)
	}
	v, _ := s.accounts.LoadOrStore(tenantID, &account{holds: make(map[string]decimal.Decimal)})
	return v.(*account)
}

func (s *Service) readBalance(db *gorm.DB, tenantID uuid.UUID) (decimal.Decimal, error) {
	var tenant models.Tenant
	err := db.Select("id", "balance").Where("id = ?", tenantID).First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	if err != nil {
		return decimal.Zero, err
	}
	return tenant.Balance, nil
}

func lockTenant(tx *gorm.DB, tenantID uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", tenantID).
		First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}
