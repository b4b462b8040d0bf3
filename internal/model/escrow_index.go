package model

import (
	"time"
)

// AccountEscrowIndex 账户托管索引表
// 每笔托管创建时追加两行：买方一行、卖方一行，之后永不删除
// seq_no 按账户维度从1递增，保证账户侧枚举按创建顺序稳定返回
//
// 【设计思考】为什么不在查询时扫 escrow 表过滤？
// 空间换时间：账户维度的列表是高频读，索引表让读取与托管总量无关
type AccountEscrowIndex struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID int64     `gorm:"uniqueIndex:uk_account_seq;not null" json:"account_id"` // 账户ID
	SeqNo     int64     `gorm:"uniqueIndex:uk_account_seq;not null" json:"seq_no"`     // 账户内序号，从1开始
	EscrowID  int64     `gorm:"index;not null" json:"escrow_id"`                       // 指向的托管ID
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (AccountEscrowIndex) TableName() string {
	return "account_escrow_index"
}
