package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Tier is the derived loyalty classification of an account. It is cached on
// the account row and recomputed from the points balance on every mutation.
type Tier string

// Tiers in ascending order of required balance.
const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// Rank returns the position of the tier in the total order, bronze being 0.
// Unknown values rank below bronze so corrupt rows sort first in reports.
func (t Tier) Rank() int {
	switch t {
	case TierBronze:
		return 0
	case TierSilver:
		return 1
	case TierGold:
		return 2
	case TierPlatinum:
		return 3
	}
	return -1
}

// LoyaltyAccount holds the denormalized balance and tier for one customer.
// The row is a cache over the transaction ledger: its balance must equal the
// net of all ledger entries for the account at all times, and it is only
// mutated together with a ledger write in the same database transaction.
type LoyaltyAccount struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	CustomerID    uuid.UUID `gorm:"type:uuid;uniqueIndex"`
	PointsBalance int64     `gorm:"not null;default:0"`
	Tier          Tier      `gorm:"size:16;index"`
	IsActive      bool      `gorm:"not null;default:true"`
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Transactions []LoyaltyTransaction `gorm:"foreignKey:AccountID"`
	Redemptions  []LoyaltyRedemption  `gorm:"foreignKey:AccountID"`
}

// LoyaltyTransaction is one immutable signed point change on an account.
// Positive amounts are earns, negative amounts are redemptions or
// administrative adjustments. Entries are never updated or deleted outside
// of an administrative account purge.
type LoyaltyTransaction struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey"`
	AccountID    uuid.UUID  `gorm:"type:uuid;index"`
	ChangeAmount int64      `gorm:"not null"`
	Reason       string     `gorm:"size:255"`
	ReferenceID  *uuid.UUID `gorm:"type:uuid;index"`
	CreatedAt    time.Time  `gorm:"index"`
}

// LoyaltyRedemption records a spend of points against a reward. Every
// redemption row is paired with a negative ledger entry written in the same
// transaction.
type LoyaltyRedemption struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	AccountID      uuid.UUID `gorm:"type:uuid;index"`
	PointsUsed     int64     `gorm:"not null"`
	RewardType     string    `gorm:"size:128"`
	RewardMetadata string    `gorm:"type:text;default:'{}'"`
	CreatedAt      time.Time `gorm:"index"`
}

// AutoMigrate performs all schema migrations for the loyalty service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&LoyaltyAccount{},
		&LoyaltyTransaction{},
		&LoyaltyRedemption{},
	)
}
