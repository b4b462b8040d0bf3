package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// 托管事件类型，写入 outbox payload 的 event 字段
const (
	EventEscrowCreated = "EscrowCreated"
	EventEscrowUpdated = "EscrowUpdated"
	EventEscrowExpired = "EscrowExpired"
)

// OutboxMessage 事务性发件箱
// 托管事件与状态变更在同一个数据库事务中落库，
// 由后台任务异步投递到 Kafka，实现至少一次送达；
// 事件送达失败不影响托管本身的正确性
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}
