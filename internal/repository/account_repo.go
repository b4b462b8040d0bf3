package repository

import (
	"context"
	"errors"

	"escrowledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound  = errors.New("账户不存在")
	ErrBalanceNotEnough = errors.New("余额不足")
	ErrOptimisticLock   = errors.New("乐观锁冲突，请重试")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) GetByAccountID(ctx context.Context, accountID int64) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetByAccountIDTx 在指定事务内查询账户，用于事务内读余额记流水
func (r *AccountRepository) GetByAccountIDTx(ctx context.Context, tx *gorm.DB, accountID int64) (*model.Account, error) {
	if tx == nil {
		tx = r.db
	}
	var account model.Account
	err := tx.WithContext(ctx).Where("account_id = ?", accountID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// Deduct 带余额校验与乐观锁版本的扣款
// RowsAffected == 0 时回查区分"余额不足"和"版本冲突"
func (r *AccountRepository) Deduct(ctx context.Context, tx *gorm.DB, accountID int64, amount int64, version int) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("account_id = ? AND balance >= ? AND version = ?", accountID, amount, version).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance - ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		account, err := r.GetByAccountID(ctx, accountID)
		if err != nil {
			return err
		}
		if account.Balance < amount {
			return ErrBalanceNotEnough
		}
		return ErrOptimisticLock
	}

	return nil
}

func (r *AccountRepository) Increase(ctx context.Context, tx *gorm.DB, accountID int64, amount int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

func (r *AccountRepository) GetOrCreate(ctx context.Context, accountID int64) (*model.Account, error) {
	return r.GetOrCreateTx(ctx, r.db, accountID)
}

// GetOrCreateTx 事务内按账户ID取账户，不存在则以零余额建档
// 收款方可能从未出现过（如平台账户首次收手续费），放款前统一建档
func (r *AccountRepository) GetOrCreateTx(ctx context.Context, tx *gorm.DB, accountID int64) (*model.Account, error) {
	if tx == nil {
		tx = r.db
	}

	account, err := r.GetByAccountIDTx(ctx, tx, accountID)
	if err == nil {
		return account, nil
	}

	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	newAccount := &model.Account{
		AccountID: accountID,
		Balance:   0,
	}

	err = tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}},
			DoNothing: true,
		}).
		Create(newAccount).Error

	if err != nil {
		return nil, err
	}

	return r.GetByAccountIDTx(ctx, tx, accountID)
}
