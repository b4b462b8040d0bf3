package repository

import (
	"context"

	"escrowledger/internal/model"

	"gorm.io/gorm"
)

type TransferRepository struct {
	db *gorm.DB
}

func NewTransferRepository(db *gorm.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

func (r *TransferRepository) Create(ctx context.Context, tx *gorm.DB, transfer *model.SettlementTransfer) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(transfer).Error
}

func (r *TransferRepository) ListByEscrowID(ctx context.Context, escrowID int64) ([]*model.SettlementTransfer, error) {
	var transfers []*model.SettlementTransfer
	err := r.db.WithContext(ctx).
		Where("escrow_id = ?", escrowID).
		Order("id ASC").
		Find(&transfers).Error
	return transfers, err
}

func (r *TransferRepository) ListByAccountID(ctx context.Context, accountID int64, page, pageSize int) ([]*model.SettlementTransfer, int64, error) {
	var transfers []*model.SettlementTransfer
	var total int64

	query := r.db.WithContext(ctx).Model(&model.SettlementTransfer{}).Where("account_id = ?", accountID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transfers).Error

	return transfers, total, err
}
