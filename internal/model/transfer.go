package model

import (
	"time"
)

// ============================================================================
// 清算划转类型常量
// ============================================================================

const (
	TransferLegDeposit = "DEPOSIT" // 入金（创建托管时从买方扣除总额）
	TransferLegRelease = "RELEASE" // 放款（交付或到期索取时付给卖方净额）
	TransferLegFee     = "FEE"     // 手续费（付给平台账户）
	TransferLegRefund  = "REFUND"  // 退款（总额全部退回买方）
)

// ============================================================================
// 清算流水实体
// ============================================================================

// SettlementTransfer 清算流水表
// 每条终态转移产生一到两条放款流水，创建托管产生一条入金流水
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. 每条流水必须关联托管ID —— 便于对账
// 3. 记录划转前后余额 —— 便于校验余额一致性
type SettlementTransfer struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransferNo    string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transfer_no"` // 划转号（全局唯一）
	EscrowID      int64     `gorm:"index;not null" json:"escrow_id"`                          // 关联托管ID
	AccountID     int64     `gorm:"index;not null" json:"account_id"`                         // 收/付款账户
	Amount        int64     `gorm:"not null" json:"amount"`                                   // 金额（正数入账，负数出账）
	LegType       string    `gorm:"type:varchar(20);not null" json:"leg_type"`                // 划转类型
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`                           // 划转前余额
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`                            // 划转后余额
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (SettlementTransfer) TableName() string {
	return "settlement_transfer"
}
