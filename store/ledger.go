package store

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"cantina/models"
)

// Ledger reads the append-only transaction history. Entries are written by
// Accounts as part of balance mutations; nothing updates or deletes them
// outside of an administrative account purge.
type Ledger struct {
	db *gorm.DB
}

// NewLedger constructs a ledger store backed by the provided database.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// ForAccount returns every ledger entry for the account, newest first.
func (s *Ledger) ForAccount(ctx context.Context, accountID uuid.UUID) ([]models.LoyaltyTransaction, error) {
	var entries []models.LoyaltyTransaction
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Recent returns the most recent entries for the account, newest first.
func (s *Ledger) Recent(ctx context.Context, accountID uuid.UUID, limit int) ([]models.LoyaltyTransaction, error) {
	var entries []models.LoyaltyTransaction
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// TotalEarned sums the positive entries for the account, the
// earned-to-date figure shown on account details.
func (s *Ledger) TotalEarned(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.LoyaltyTransaction{}).
		Where("account_id = ? AND change_amount > 0", accountID).
		Select("COALESCE(SUM(change_amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// NetBalance sums every entry for the account. An account with a consistent
// ledger has NetBalance equal to its cached points balance.
func (s *Ledger) NetBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.LoyaltyTransaction{}).
		Where("account_id = ?", accountID).
		Select("COALESCE(SUM(change_amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
