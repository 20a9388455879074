package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"cantina/models"
)

// Redemptions persists reward spends. Creation happens inside the engine's
// redemption transaction so a redemption row is never visible without its
// paired balance decrement.
type Redemptions struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRedemptions constructs a redemption store backed by the provided database.
func NewRedemptions(db *gorm.DB, now func() time.Time) *Redemptions {
	if now == nil {
		now = time.Now
	}
	return &Redemptions{db: db, now: now}
}

// WithTx returns a copy of the store bound to the supplied transaction.
func (s *Redemptions) WithTx(tx *gorm.DB) *Redemptions {
	return &Redemptions{db: tx, now: s.now}
}

// Create inserts a redemption record.
func (s *Redemptions) Create(ctx context.Context, redemption *models.LoyaltyRedemption) error {
	if redemption.ID == uuid.Nil {
		redemption.ID = uuid.New()
	}
	if redemption.CreatedAt.IsZero() {
		redemption.CreatedAt = s.now()
	}
	if redemption.RewardMetadata == "" {
		redemption.RewardMetadata = "{}"
	}
	return s.db.WithContext(ctx).Create(redemption).Error
}

// ForAccount returns every redemption for the account, newest first.
func (s *Redemptions) ForAccount(ctx context.Context, accountID uuid.UUID) ([]models.LoyaltyRedemption, error) {
	var redemptions []models.LoyaltyRedemption
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Find(&redemptions).Error
	if err != nil {
		return nil, err
	}
	return redemptions, nil
}

// Recent returns the most recent redemptions for the account, newest first.
func (s *Redemptions) Recent(ctx context.Context, accountID uuid.UUID, limit int) ([]models.LoyaltyRedemption, error) {
	var redemptions []models.LoyaltyRedemption
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&redemptions).Error
	if err != nil {
		return nil, err
	}
	return redemptions, nil
}

// TotalRedeemed sums the points spent across all redemptions for the account.
func (s *Redemptions) TotalRedeemed(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.LoyaltyRedemption{}).
		Where("account_id = ?", accountID).
		Select("COALESCE(SUM(points_used), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
