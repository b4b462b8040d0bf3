package model

import (
	"time"
)

const (
	EscrowStateAwaitingDelivery = "AWAITING_DELIVERY"
	EscrowStateCompleted        = "COMPLETED"
	EscrowStateClaimedOnExpire  = "CLAIMED_ON_EXPIRE"
	EscrowStateRefunded         = "REFUNDED"
)

// ValidStateTransitions 托管状态机
// AWAITING_DELIVERY 是唯一的初始状态，三个终态互斥且不可逆：
// 一笔托管只会发生一次转移，之后任何操作都会被拒绝
var ValidStateTransitions = map[string][]string{
	EscrowStateAwaitingDelivery: {EscrowStateCompleted, EscrowStateClaimedOnExpire, EscrowStateRefunded},
}

func CanTransitionTo(currentState, targetState string) bool {
	allowedStates, exists := ValidStateTransitions[currentState]
	if !exists {
		return false
	}
	for _, s := range allowedStates {
		if s == targetState {
			return true
		}
	}
	return false
}

// IsTerminalState 是否终态（COMPLETED / CLAIMED_ON_EXPIRE / REFUNDED）
func IsTerminalState(state string) bool {
	switch state {
	case EscrowStateCompleted, EscrowStateClaimedOnExpire, EscrowStateRefunded:
		return true
	}
	return false
}

// Escrow 托管记录表
// 买方替卖方锁定资金，等待交付、到期索取或退款
//
// 【重要】除 state / clear_at / expire_notified 外，记录落库后不再修改；
// 终态记录永久保留，用于审计与对账
type Escrow struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`                // 托管ID，全局顺序递增，从1开始
	ContentRef     string    `gorm:"type:varchar(128);not null" json:"content_ref"`     // 托管标的标识（如内容哈希），业务方传入
	BuyerID        int64     `gorm:"index;not null" json:"buyer_id"`                    // 买方账户（发起方）
	SellerID       int64     `gorm:"index;not null" json:"seller_id"`                   // 卖方账户
	Amount         int64     `gorm:"not null" json:"amount"`                            // 卖方应得净额（总额扣除手续费）
	Fee            int64     `gorm:"not null" json:"fee"`                               // 平台手续费，amount + fee == 入金总额
	State          string    `gorm:"type:varchar(20);index;not null" json:"state"`      // 托管状态
	ExpireAt       int64     `gorm:"not null" json:"expire_at"`                         // 到期时间（Unix秒），此后卖方可强制索取
	ClearAt        int64     `gorm:"not null;default:0" json:"clear_at"`                // 清算时间（Unix秒），未清算为0
	ExpireNotified bool      `gorm:"not null;default:false" json:"-"`                   // 到期提醒是否已发送（仅供后台任务使用）
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Escrow) TableName() string {
	return "escrow"
}
