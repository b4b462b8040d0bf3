package settlement

import (
	"context"
	"fmt"

	"escrowledger/internal/model"
	"escrowledger/internal/repository"
	"escrowledger/pkg/idgen"

	"gorm.io/gorm"
)

// Sink 清算下沉接口
// 托管终态转移的每一笔放款（卖方净额 / 平台手续费 / 买方退款）
// 都通过这里划转；划转失败整个操作回滚，托管状态保持不变
type Sink interface {
	Transfer(ctx context.Context, tx *gorm.DB, escrowID, toAccountID, amount int64, legType string) error
}

// AccountSink 账户余额清算实现
// 在调用方的数据库事务内给目标账户加钱并记一条清算流水
type AccountSink struct {
	accountRepo  *repository.AccountRepository
	transferRepo *repository.TransferRepository
}

func NewAccountSink(db *gorm.DB) *AccountSink {
	return &AccountSink{
		accountRepo:  repository.NewAccountRepository(db),
		transferRepo: repository.NewTransferRepository(db),
	}
}

func (s *AccountSink) Transfer(ctx context.Context, tx *gorm.DB, escrowID, toAccountID, amount int64, legType string) error {
	account, err := s.accountRepo.GetOrCreateTx(ctx, tx, toAccountID)
	if err != nil {
		return fmt.Errorf("查询收款账户失败: %w", err)
	}

	if err := s.accountRepo.Increase(ctx, tx, toAccountID, amount); err != nil {
		return fmt.Errorf("入账失败: %w", err)
	}

	transfer := &model.SettlementTransfer{
		TransferNo:    idgen.GenerateTransferNo(),
		EscrowID:      escrowID,
		AccountID:     toAccountID,
		Amount:        amount,
		LegType:       legType,
		BalanceBefore: account.Balance,
		BalanceAfter:  account.Balance + amount,
	}
	if err := s.transferRepo.Create(ctx, tx, transfer); err != nil {
		return fmt.Errorf("记录清算流水失败: %w", err)
	}

	return nil
}
