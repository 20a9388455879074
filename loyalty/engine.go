package loyalty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"cantina/models"
	"cantina/observability"
	"cantina/store"
)

// recentHistoryLimit caps the transaction and redemption slices returned by
// AccountDetails.
const recentHistoryLimit = 10

// errBalanceConsumed signals inside the redemption transaction that a
// concurrent redemption spent the balance between the pre-check and the
// authoritative in-transaction check.
var errBalanceConsumed = errors.New("loyalty: balance consumed concurrently")

// Engine owns the loyalty business rules: account provisioning, point
// earning, point redemption, and tier recomputation. It is safe to call from
// many concurrent requests; per-account atomicity comes from the store's
// row locks and the database's unique constraint on customer id, never from
// in-process state.
type Engine struct {
	db          *gorm.DB
	accounts    *store.Accounts
	ledger      *store.Ledger
	redemptions *store.Redemptions
	logger      *slog.Logger
	metrics     *observability.LoyaltyMetrics
	now         func() time.Time
}

// New constructs a loyalty engine backed by the provided database.
func New(db *gorm.DB, logger *slog.Logger, now func() time.Time) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{
		db:          db,
		accounts:    store.NewAccounts(db, now),
		ledger:      store.NewLedger(db),
		redemptions: store.NewRedemptions(db, now),
		logger:      logger,
		metrics:     observability.Loyalty(),
		now:         now,
	}
}

// AccountDetails aggregates an account with its recent history and the
// read-time earned/redeemed totals.
type AccountDetails struct {
	Account            models.LoyaltyAccount
	RecentTransactions []models.LoyaltyTransaction
	RecentRedemptions  []models.LoyaltyRedemption
	TotalEarned        int64
	TotalRedeemed      int64
}

// EnsureAccount returns the customer's loyalty account, creating it if
// needed. Concurrent callers may both attempt the create; the unique
// constraint arbitrates and the loser adopts the winner's row.
func (e *Engine) EnsureAccount(ctx context.Context, customerID uuid.UUID) (*models.LoyaltyAccount, error) {
	exists, err := e.accounts.Exists(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("check account: %w", err)
	}
	if exists {
		return e.getByCustomer(ctx, customerID)
	}
	account := &models.LoyaltyAccount{
		CustomerID: customerID,
		Tier:       models.TierBronze,
		IsActive:   true,
	}
	switch err := e.accounts.Create(ctx, account); {
	case err == nil:
		e.logger.Info("loyalty account created", "customer_id", customerID, "account_id", account.ID)
		return account, nil
	case errors.Is(err, store.ErrDuplicateAccount):
		// Lost the provisioning race. Adopt the winner's row.
		e.logger.Warn("loyalty account already provisioned", "customer_id", customerID)
		return e.getByCustomer(ctx, customerID)
	default:
		return nil, fmt.Errorf("create account: %w", err)
	}
}

// AddPoints credits points to the customer's account, provisioning it on
// first use, and recomputes the cached tier. It returns the updated account
// snapshot.
func (e *Engine) AddPoints(ctx context.Context, customerID uuid.UUID, points int64, reason string, referenceID *uuid.UUID) (account *models.LoyaltyAccount, err error) {
	defer e.observe("add_points", e.now(), &err)
	defer recoverInto(&err)

	if points <= 0 {
		return nil, ErrInvalidAmount
	}
	applied, err := e.accounts.ApplyDelta(ctx, customerID, points, reason, referenceID)
	if err != nil {
		e.logger.Error("apply delta failed", "customer_id", customerID, "points", points, "err", err)
		return nil, fmt.Errorf("apply delta: %w", err)
	}
	if !applied {
		// First earn for this customer. Provision and retry exactly once.
		if _, err := e.EnsureAccount(ctx, customerID); err != nil {
			return nil, err
		}
		applied, err = e.accounts.ApplyDelta(ctx, customerID, points, reason, referenceID)
		if err != nil {
			e.logger.Error("apply delta retry failed", "customer_id", customerID, "points", points, "err", err)
			return nil, fmt.Errorf("apply delta: %w", err)
		}
		if !applied {
			e.logger.Error("account missing after provisioning", "customer_id", customerID)
			return nil, ErrAccountProvisioningFailed
		}
	}

	account, err = e.getByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if err := e.refreshTier(ctx, account); err != nil {
		return nil, err
	}
	e.metrics.RecordPoints("earned", points)
	e.logger.Info("points added", "customer_id", customerID, "points", points, "reason", reason)
	return account, nil
}

// RedeemPoints spends points against a reward. The account must already
// exist: redemption never auto-provisions. The balance check, the
// decrement, the redemption record, and the tier recomputation form one
// unit of work.
func (e *Engine) RedeemPoints(ctx context.Context, customerID uuid.UUID, points int64, rewardType, rewardMetadata string) (redemption *models.LoyaltyRedemption, err error) {
	defer e.observe("redeem_points", e.now(), &err)
	defer recoverInto(&err)

	if points <= 0 {
		return nil, ErrInvalidAmount
	}
	account, err := e.getByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	// Fast feedback only; the authoritative check runs inside the
	// deduction transaction under the row lock.
	if account.PointsBalance < points {
		return nil, &InsufficientPointsError{Available: account.PointsBalance, Required: points}
	}

	created := models.LoyaltyRedemption{
		AccountID:      account.ID,
		PointsUsed:     points,
		RewardType:     rewardType,
		RewardMetadata: rewardMetadata,
	}
	reason := "redemption: " + rewardType
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err := e.accounts.WithTx(tx).ApplyDeduction(ctx, customerID, points, reason, nil)
		if err != nil {
			return err
		}
		if !applied {
			return errBalanceConsumed
		}
		current, err := e.accounts.WithTx(tx).GetByCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		if tier := TierFor(current.PointsBalance); tier != current.Tier {
			if err := e.accounts.WithTx(tx).SetTier(ctx, current.ID, tier); err != nil {
				return err
			}
		}
		return e.redemptions.WithTx(tx).Create(ctx, &created)
	})
	if err != nil {
		if errors.Is(err, errBalanceConsumed) {
			// A concurrent redemption won. Report the balance it left behind.
			current, lookupErr := e.getByCustomer(ctx, customerID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return nil, &InsufficientPointsError{Available: current.PointsBalance, Required: points}
		}
		e.logger.Error("redemption failed", "customer_id", customerID, "points", points, "reward_type", rewardType, "err", err)
		return nil, fmt.Errorf("redeem points: %w", err)
	}
	e.metrics.RecordPoints("redeemed", points)
	e.logger.Info("points redeemed", "customer_id", customerID, "points", points, "reward_type", rewardType)
	return &created, nil
}

// Balance returns the customer's current points balance.
func (e *Engine) Balance(ctx context.Context, customerID uuid.UUID) (int64, error) {
	account, err := e.getByCustomer(ctx, customerID)
	if err != nil {
		return 0, err
	}
	return account.PointsBalance, nil
}

// GetAccountDetails returns the account with its recent history and lifetime
// earned/redeemed totals. The totals are computed from history at read time,
// so they are always consistent with the ledger.
func (e *Engine) GetAccountDetails(ctx context.Context, customerID uuid.UUID) (*AccountDetails, error) {
	account, err := e.getByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	transactions, err := e.ledger.Recent(ctx, account.ID, recentHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	redemptions, err := e.redemptions.Recent(ctx, account.ID, recentHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load redemptions: %w", err)
	}
	earned, err := e.ledger.TotalEarned(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("sum earned: %w", err)
	}
	redeemed, err := e.redemptions.TotalRedeemed(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("sum redeemed: %w", err)
	}
	return &AccountDetails{
		Account:            *account,
		RecentTransactions: transactions,
		RecentRedemptions:  redemptions,
		TotalEarned:        earned,
		TotalRedeemed:      redeemed,
	}, nil
}

// VerifyBalance recomputes the account's balance from its ledger history and
// compares it with the cached value. An audit hook: it returns an error when
// the two disagree.
func (e *Engine) VerifyBalance(ctx context.Context, customerID uuid.UUID) error {
	account, err := e.getByCustomer(ctx, customerID)
	if err != nil {
		return err
	}
	net, err := e.ledger.NetBalance(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("sum ledger: %w", err)
	}
	if net != account.PointsBalance {
		return fmt.Errorf("loyalty: balance drift for account %s: cached %d, ledger %d", account.ID, account.PointsBalance, net)
	}
	return nil
}

// CreateAccount provisions an account explicitly. Creating an account that
// already exists is not an error; the existing row is returned.
func (e *Engine) CreateAccount(ctx context.Context, customerID uuid.UUID) (*models.LoyaltyAccount, error) {
	return e.EnsureAccount(ctx, customerID)
}

// GetAccount returns the customer's account.
func (e *Engine) GetAccount(ctx context.Context, customerID uuid.UUID) (*models.LoyaltyAccount, error) {
	return e.getByCustomer(ctx, customerID)
}

// ListAccounts returns all accounts, active or not.
func (e *Engine) ListAccounts(ctx context.Context) ([]models.LoyaltyAccount, error) {
	return e.accounts.List(ctx)
}

// ListActiveAccounts returns accounts that have not been deactivated.
func (e *Engine) ListActiveAccounts(ctx context.Context) ([]models.LoyaltyAccount, error) {
	return e.accounts.ListActive(ctx)
}

// ListAccountsByTier returns active accounts cached at the given tier.
func (e *Engine) ListAccountsByTier(ctx context.Context, tier models.Tier) ([]models.LoyaltyAccount, error) {
	return e.accounts.ListByTier(ctx, tier)
}

// DeactivateAccount soft-deletes the customer's account, keeping history.
func (e *Engine) DeactivateAccount(ctx context.Context, customerID uuid.UUID) error {
	account, err := e.getByCustomer(ctx, customerID)
	if err != nil {
		return err
	}
	if err := e.accounts.Deactivate(ctx, account.ID); err != nil {
		return translateStoreErr(err)
	}
	e.logger.Info("loyalty account deactivated", "customer_id", customerID, "account_id", account.ID)
	return nil
}

// DeleteAccount hard-deletes the customer's account and its history. For
// administrative cleanup only.
func (e *Engine) DeleteAccount(ctx context.Context, customerID uuid.UUID) error {
	account, err := e.getByCustomer(ctx, customerID)
	if err != nil {
		return err
	}
	if err := e.accounts.Delete(ctx, account.ID); err != nil {
		return translateStoreErr(err)
	}
	e.logger.Info("loyalty account deleted", "customer_id", customerID, "account_id", account.ID)
	return nil
}

func (e *Engine) getByCustomer(ctx context.Context, customerID uuid.UUID) (*models.LoyaltyAccount, error) {
	account, err := e.accounts.GetByCustomer(ctx, customerID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return account, nil
}

// refreshTier recomputes the tier from the account's balance and persists it
// only when it changed.
func (e *Engine) refreshTier(ctx context.Context, account *models.LoyaltyAccount) error {
	tier := TierFor(account.PointsBalance)
	if tier == account.Tier {
		return nil
	}
	if err := e.accounts.SetTier(ctx, account.ID, tier); err != nil {
		return fmt.Errorf("persist tier: %w", err)
	}
	e.logger.Info("tier changed",
		"account_id", account.ID,
		"customer_id", account.CustomerID,
		"from", account.Tier,
		"to", tier,
		"balance", account.PointsBalance)
	account.Tier = tier
	return nil
}

func (e *Engine) observe(op string, start time.Time, err *error) {
	outcome := "success"
	if *err != nil {
		outcome = "error"
	}
	e.metrics.ObserveOperation(op, outcome, e.now().Sub(start))
}

func translateStoreErr(err error) error {
	if errors.Is(err, store.ErrAccountNotFound) {
		return ErrAccountNotFound
	}
	return err
}

// recoverInto converts a panic escaping an engine operation into an ordinary
// error so a fault in the loyalty path can never take down the caller's own
// request handling.
func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("loyalty: recovered from panic: %v", r)
	}
}
