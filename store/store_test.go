package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"cantina/models"
)

func setupStoreTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedAccount(t *testing.T, accounts *Accounts, customerID uuid.UUID) *models.LoyaltyAccount {
	t.Helper()
	account := &models.LoyaltyAccount{CustomerID: customerID, Tier: models.TierBronze, IsActive: true}
	if err := accounts.Create(context.Background(), account); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return account
}

func TestAccountsCreateDuplicate(t *testing.T) {
	db := setupStoreTestDB(t)
	accounts := NewAccounts(db, nil)
	customerID := uuid.New()

	seedAccount(t, accounts, customerID)

	dup := &models.LoyaltyAccount{CustomerID: customerID, Tier: models.TierBronze, IsActive: true}
	err := accounts.Create(context.Background(), dup)
	if !errors.Is(err, ErrDuplicateAccount) {
		t.Fatalf("expected ErrDuplicateAccount, got %v", err)
	}
}

func TestAccountsGetByCustomerMissing(t *testing.T) {
	db := setupStoreTestDB(t)
	accounts := NewAccounts(db, nil)

	if _, err := accounts.GetByCustomer(context.Background(), uuid.New()); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	exists, err := accounts.Exists(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatal("expected exists to be false")
	}
}

func TestAccountsApplyDeltaMissingAccount(t *testing.T) {
	db := setupStoreTestDB(t)
	accounts := NewAccounts(db, nil)

	applied, err := accounts.ApplyDelta(context.Background(), uuid.New(), 50, "order", nil)
	if err != nil {
		t.Fatalf("apply delta: %v", err)
	}
	if applied {
		t.Fatal("expected delta on missing account to be a no-op")
	}
	var count int64
	if err := db.Model(&models.LoyaltyTransaction{}).Count(&count).Error; err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no ledger entries, got %d", count)
	}
}

func TestAccountsApplyDeltaWritesLedger(t *testing.T) {
	db := setupStoreTestDB(t)
	accounts := NewAccounts(db, nil)
	customerID := uuid.New()
	account := seedAccount(t, accounts, customerID)
	ref := uuid.New()

	applied, err := accounts.ApplyDelta(context.Background(), customerID, 50, "order completed", &ref)
	if err != nil {
		t.Fatalf("apply delta: %v", err)
	}
	if !applied {
		t.Fatal("expected delta to apply")
	}

	updated, err := accounts.Get(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if updated.PointsBalance != 50 {
		t.Fatalf("expected balance 50, got %d", updated.PointsBalance)
	}

	var entries []models.LoyaltyTransaction
	if err := db.Find(&entries, "account_id = ?", account.ID).Error; err != nil {
		t.Fatalf("load entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.ChangeAmount != 50 {
		t.Fatalf("expected change amount 50, got %d", entry.ChangeAmount)
	}
	if entry.Reason != "order completed" {
		t.Fatalf("unexpected reason %q", entry.Reason)
	}
	if entry.ReferenceID == nil || *entry.ReferenceID != ref {
		t.Fatalf("expected reference id %s, got %v", ref, entry.ReferenceID)
	}
}

func TestAccountsApplyDeductionOverdraw(t *testing.T) {
	db := setupStoreTestDB(t)
	accounts := NewAccounts(db, nil)
	customerID := uuid.New()
	account := seedAccount(t, accounts, customerID)

	if _, err := accounts.ApplyDelta(context.Background(), customerID, 30, "order", nil); err != nil {
		t.Fatalf("apply delta: %v", err)
	}

	applied, err := accounts.ApplyDeduction(context.Background(), customerID, 50, "redemption: voucher", nil)
	if err != nil {
		t.Fatalf("apply deduction: %v", err)
	}
	if applied {
		t.Fatal("expected overdraw deduction to be refused")
	}

	updated, err := accounts.Get(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if updated.PointsBalance != 30 {
		t.Fatalf("expected balance unchanged at 30, got %d", updated.PointsBalance)
	}
	var count int64
	if err := db.Model(&models.LoyaltyTransaction{}).Where("account_id = ?", account.ID).Count(&count).Error; err != nil {
		t.Fatalf("count entries: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected only the earn entry, got %d entries", count)
	}
}

func TestAccountsApplyDeductionWritesNegativeEntry(t *testing.T) {
	db := setupStoreTestDB(t)
	accounts := NewAccounts(db, nil)
	customerID := uuid.New()
	account := seedAccount(t, accounts, customerID)

	if _, err := accounts.ApplyDelta(context.Background(), customerID, 80, "order", nil); err != nil {
		t.Fatalf("apply delta: %v", err)
	}
	applied, err := accounts.ApplyDeduction(context.Background(), customerID, 30, "redemption: voucher", nil)
	if err != nil {
		t.Fatalf("apply deduction: %v", err)
	}
	if !applied {
		t.Fatal("expected deduction to apply")
	}

	updated, err := accounts.Get(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if updated.PointsBalance != 50 {
		t.Fatalf("expected balance 50, got %d", updated.PointsBalance)
	}
	var entry models.LoyaltyTransaction
	if err := db.First(&entry, "account_id = ? AND change_amount < 0", account.ID).Error; err != nil {
		t.Fatalf("load deduction entry: %v", err)
	}
	if entry.ChangeAmount != -30 {
		t.Fatalf("expected change amount -30, got %d", entry.ChangeAmount)
	}
}

func TestAccountsDeactivate(t *testing.T) {
	db := setupStoreTestDB(t)
	accounts := NewAccounts(db, nil)
	account := seedAccount(t, accounts, uuid.New())

	if err := accounts.Deactivate(context.Background(), account.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	updated, err := accounts.Get(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if updated.IsActive {
		t.Fatal("expected account to be inactive")
	}
	active, err := accounts.ListActive(context.Background())
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active accounts, got %d", len(active))
	}
}

func TestAccountsDeleteCascades(t *testing.T) {
	db := setupStoreTestDB(t)
	accounts := NewAccounts(db, nil)
	redemptions := NewRedemptions(db, nil)
	customerID := uuid.New()
	account := seedAccount(t, accounts, customerID)

	if _, err := accounts.ApplyDelta(context.Background(), customerID, 100, "order", nil); err != nil {
		t.Fatalf("apply delta: %v", err)
	}
	redemption := &models.LoyaltyRedemption{AccountID: account.ID, PointsUsed: 40, RewardType: "voucher"}
	if err := redemptions.Create(context.Background(), redemption); err != nil {
		t.Fatalf("create redemption: %v", err)
	}

	if err := accounts.Delete(context.Background(), account.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := accounts.Get(context.Background(), account.ID); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	var txCount, redCount int64
	if err := db.Model(&models.LoyaltyTransaction{}).Where("account_id = ?", account.ID).Count(&txCount).Error; err != nil {
		t.Fatalf("count entries: %v", err)
	}
	if err := db.Model(&models.LoyaltyRedemption{}).Where("account_id = ?", account.ID).Count(&redCount).Error; err != nil {
		t.Fatalf("count redemptions: %v", err)
	}
	if txCount != 0 || redCount != 0 {
		t.Fatalf("expected history purged, got %d entries and %d redemptions", txCount, redCount)
	}
}

func TestLedgerAggregates(t *testing.T) {
	db := setupStoreTestDB(t)
	base := time.Now().UTC().Truncate(time.Second)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	accounts := NewAccounts(db, clock)
	ledger := NewLedger(db)
	customerID := uuid.New()
	account := seedAccount(t, accounts, customerID)

	for _, delta := range []int64{50, 60} {
		if _, err := accounts.ApplyDelta(context.Background(), customerID, delta, "order", nil); err != nil {
			t.Fatalf("apply delta: %v", err)
		}
	}
	if _, err := accounts.ApplyDeduction(context.Background(), customerID, 30, "redemption: voucher", nil); err != nil {
		t.Fatalf("apply deduction: %v", err)
	}

	earned, err := ledger.TotalEarned(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("total earned: %v", err)
	}
	if earned != 110 {
		t.Fatalf("expected 110 earned, got %d", earned)
	}
	net, err := ledger.NetBalance(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("net balance: %v", err)
	}
	if net != 80 {
		t.Fatalf("expected net 80, got %d", net)
	}

	recent, err := ledger.Recent(context.Background(), account.ID, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent entries, got %d", len(recent))
	}
	if recent[0].ChangeAmount != -30 {
		t.Fatalf("expected newest entry first, got change %d", recent[0].ChangeAmount)
	}

	all, err := ledger.ForAccount(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("for account: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
}

func TestRedemptionsTotal(t *testing.T) {
	db := setupStoreTestDB(t)
	accounts := NewAccounts(db, nil)
	redemptions := NewRedemptions(db, nil)
	account := seedAccount(t, accounts, uuid.New())

	for _, points := range []int64{40, 25} {
		redemption := &models.LoyaltyRedemption{AccountID: account.ID, PointsUsed: points, RewardType: "voucher"}
		if err := redemptions.Create(context.Background(), redemption); err != nil {
			t.Fatalf("create redemption: %v", err)
		}
		if redemption.RewardMetadata != "{}" {
			t.Fatalf("expected default metadata, got %q", redemption.RewardMetadata)
		}
	}

	total, err := redemptions.TotalRedeemed(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("total redeemed: %v", err)
	}
	if total != 65 {
		t.Fatalf("expected 65 redeemed, got %d", total)
	}
}

func TestAccountsListByTier(t *testing.T) {
	db := setupStoreTestDB(t)
	accounts := NewAccounts(db, nil)

	silver := seedAccount(t, accounts, uuid.New())
	if err := accounts.SetTier(context.Background(), silver.ID, models.TierSilver); err != nil {
		t.Fatalf("set tier: %v", err)
	}
	seedAccount(t, accounts, uuid.New())

	got, err := accounts.ListByTier(context.Background(), models.TierSilver)
	if err != nil {
		t.Fatalf("list by tier: %v", err)
	}
	if len(got) != 1 || got[0].ID != silver.ID {
		t.Fatalf("expected only the silver account, got %d rows", len(got))
	}
}
