package model

import (
	"time"
)

// Account 清算账户表
// 记录各账户的可用余额，是托管清算的资金载体；
// 平台账户（owner）也是一行普通账户，手续费入账到这里
type Account struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID int64     `gorm:"uniqueIndex;not null" json:"account_id"` // 账户ID，业务方传入
	Balance   int64     `gorm:"not null;default:0" json:"balance"`      // 可用余额（最小计价单位）
	Version   int       `gorm:"not null;default:0" json:"version"`      // 乐观锁版本号
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}
