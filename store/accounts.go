package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cantina/models"
)

// Accounts is the persistence layer for loyalty accounts. Balance mutations
// lock the account row and append the matching ledger entry inside one
// database transaction, so the cached balance can never drift from the
// ledger history.
type Accounts struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAccounts constructs an account store backed by the provided database.
func NewAccounts(db *gorm.DB, now func() time.Time) *Accounts {
	if now == nil {
		now = time.Now
	}
	return &Accounts{db: db, now: now}
}

// WithTx returns a copy of the store bound to the supplied transaction so a
// caller can compose account writes with its own writes atomically.
func (s *Accounts) WithTx(tx *gorm.DB) *Accounts {
	return &Accounts{db: tx, now: s.now}
}

// Get loads an account by its id.
func (s *Accounts) Get(ctx context.Context, id uuid.UUID) (*models.LoyaltyAccount, error) {
	var account models.LoyaltyAccount
	if err := s.db.WithContext(ctx).First(&account, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetByCustomer loads the account owned by the given customer.
func (s *Accounts) GetByCustomer(ctx context.Context, customerID uuid.UUID) (*models.LoyaltyAccount, error) {
	var account models.LoyaltyAccount
	if err := s.db.WithContext(ctx).First(&account, "customer_id = ?", customerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// Exists reports whether the customer already owns an account. Used as a
// fast pre-check before attempting provisioning; the unique constraint is
// the authoritative arbiter.
func (s *Accounts) Exists(ctx context.Context, customerID uuid.UUID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.LoyaltyAccount{}).
		Where("customer_id = ?", customerID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Create inserts a new account row. A unique constraint violation on the
// customer id is returned as ErrDuplicateAccount so callers can adopt the
// concurrently created row instead of failing.
func (s *Accounts) Create(ctx context.Context, account *models.LoyaltyAccount) error {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	now := s.now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	if account.UpdatedAt.IsZero() {
		account.UpdatedAt = now
	}
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateAccount
		}
		return err
	}
	return nil
}

// ApplyDelta atomically adds delta to the customer's balance and appends the
// matching ledger entry. It returns false without error when the customer
// has no account, so the caller can provision one and retry.
func (s *Accounts) ApplyDelta(ctx context.Context, customerID uuid.UUID, delta int64, reason string, referenceID *uuid.UUID) (bool, error) {
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account models.LoyaltyAccount
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&account, "customer_id = ?", customerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if err := s.mutate(tx, &account, delta, reason, referenceID); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// ApplyDeduction atomically subtracts points from the customer's balance and
// appends a negative ledger entry. It returns false without error when the
// account is missing or the balance does not cover the deduction; the check
// and the decrement happen inside the same transaction so concurrent
// redemptions can never drive the balance negative.
func (s *Accounts) ApplyDeduction(ctx context.Context, customerID uuid.UUID, points int64, reason string, referenceID *uuid.UUID) (bool, error) {
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account models.LoyaltyAccount
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&account, "customer_id = ?", customerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if account.PointsBalance < points {
			return nil
		}
		if err := s.mutate(tx, &account, -points, reason, referenceID); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// mutate applies a signed change to an already locked account row and writes
// the paired ledger entry.
func (s *Accounts) mutate(tx *gorm.DB, account *models.LoyaltyAccount, delta int64, reason string, referenceID *uuid.UUID) error {
	now := s.now()
	account.PointsBalance += delta
	account.UpdatedAt = now
	if err := tx.Save(account).Error; err != nil {
		return err
	}
	entry := models.LoyaltyTransaction{
		ID:           uuid.New(),
		AccountID:    account.ID,
		ChangeAmount: delta,
		Reason:       reason,
		ReferenceID:  referenceID,
		CreatedAt:    now,
	}
	return tx.Create(&entry).Error
}

// SetTier persists a recomputed tier on the account row.
func (s *Accounts) SetTier(ctx context.Context, accountID uuid.UUID, tier models.Tier) error {
	res := s.db.WithContext(ctx).
		Model(&models.LoyaltyAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]any{"tier": tier, "updated_at": s.now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// List returns all accounts.
func (s *Accounts) List(ctx context.Context) ([]models.LoyaltyAccount, error) {
	var accounts []models.LoyaltyAccount
	if err := s.db.WithContext(ctx).Order("created_at").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// ListActive returns accounts that have not been deactivated.
func (s *Accounts) ListActive(ctx context.Context) ([]models.LoyaltyAccount, error) {
	var accounts []models.LoyaltyAccount
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("created_at").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// ListByTier returns active accounts currently cached at the given tier.
func (s *Accounts) ListByTier(ctx context.Context, tier models.Tier) ([]models.LoyaltyAccount, error) {
	var accounts []models.LoyaltyAccount
	err := s.db.WithContext(ctx).
		Where("tier = ? AND is_active = ?", tier, true).
		Order("created_at").
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// Deactivate soft-deletes an account. History stays intact.
func (s *Accounts) Deactivate(ctx context.Context, accountID uuid.UUID) error {
	res := s.db.WithContext(ctx).
		Model(&models.LoyaltyAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]any{"is_active": false, "updated_at": s.now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Delete hard-deletes an account for administrative cleanup, cascading to
// its ledger entries and redemptions in one transaction.
func (s *Accounts) Delete(ctx context.Context, accountID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", accountID).Delete(&models.LoyaltyTransaction{}).Error; err != nil {
			return err
		}
		if err := tx.Where("account_id = ?", accountID).Delete(&models.LoyaltyRedemption{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.LoyaltyAccount{}, "id = ?", accountID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAccountNotFound
		}
		return nil
	})
}
