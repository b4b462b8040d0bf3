package repository

import (
	"context"

	"escrowledger/internal/model"

	"gorm.io/gorm"
)

type IndexRepository struct {
	db *gorm.DB
}

func NewIndexRepository(db *gorm.DB) *IndexRepository {
	return &IndexRepository{db: db}
}

// Append 向账户索引尾部追加一条记录，账户内序号从1连续递增
// 必须在创建托管的事务内调用；(account_id, seq_no) 唯一索引兜底防并发错排
func (r *IndexRepository) Append(ctx context.Context, tx *gorm.DB, accountID, escrowID int64) error {
	if tx == nil {
		tx = r.db
	}

	var count int64
	err := tx.WithContext(ctx).
		Model(&model.AccountEscrowIndex{}).
		Where("account_id = ?", accountID).
		Count(&count).Error
	if err != nil {
		return err
	}

	entry := &model.AccountEscrowIndex{
		AccountID: accountID,
		SeqNo:     count + 1,
		EscrowID:  escrowID,
	}
	return tx.WithContext(ctx).Create(entry).Error
}

// ListEscrowIDs 按追加顺序返回账户下全部托管ID
func (r *IndexRepository) ListEscrowIDs(ctx context.Context, accountID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.AccountEscrowIndex{}).
		Where("account_id = ?", accountID).
		Order("seq_no ASC").
		Pluck("escrow_id", &ids).Error
	return ids, err
}

func (r *IndexRepository) Count(ctx context.Context, accountID int64) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&model.AccountEscrowIndex{}).
		Where("account_id = ?", accountID).
		Count(&total).Error
	return total, err
}

// ListEscrowIDsPage 账户索引分页（按 seq_no 升序），offset 为零基游标
func (r *IndexRepository) ListEscrowIDsPage(ctx context.Context, accountID int64, offset, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.AccountEscrowIndex{}).
		Where("account_id = ?", accountID).
		Order("seq_no ASC").
		Offset(offset).
		Limit(limit).
		Pluck("escrow_id", &ids).Error
	return ids, err
}
