package repository

import (
	"context"
	"errors"

	"escrowledger/internal/model"

	"gorm.io/gorm"
)

var (
	ErrEscrowStateInvalid = errors.New("托管状态不允许该操作")
)

type EscrowRepository struct {
	db *gorm.DB
}

func NewEscrowRepository(db *gorm.DB) *EscrowRepository {
	return &EscrowRepository{db: db}
}

// Create 插入托管记录，托管ID由数据库自增主键分配（从1开始顺序递增）
// 事务回滚也会消耗ID，保证ID永不复用
func (r *EscrowRepository) Create(ctx context.Context, tx *gorm.DB, escrow *model.Escrow) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(escrow).Error
}

// GetByID 按ID查询托管，不存在时返回 (nil, nil)，由调用方决定如何呈现
func (r *EscrowRepository) GetByID(ctx context.Context, id int64) (*model.Escrow, error) {
	var escrow model.Escrow
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&escrow).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &escrow, nil
}

// TransitionState 状态守卫更新：只有当前状态等于 fromState 时才会生效
//
// 【关键点】WHERE state = ? 加 RowsAffected 判断，保证并发下
// 同一笔托管至多一次转移成功，落败方拿到 ErrEscrowStateInvalid
func (r *EscrowRepository) TransitionState(ctx context.Context, tx *gorm.DB, escrowID int64, fromState, toState string, clearAt int64) error {
	if !model.CanTransitionTo(fromState, toState) {
		return ErrEscrowStateInvalid
	}

	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Escrow{}).
		Where("id = ? AND state = ?", escrowID, fromState).
		Updates(map[string]interface{}{
			"state":    toState,
			"clear_at": clearAt,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrEscrowStateInvalid
	}

	return nil
}

// ListByIDs 按给定ID顺序返回托管记录，用于账户索引的回表查询
func (r *EscrowRepository) ListByIDs(ctx context.Context, ids []int64) ([]*model.Escrow, error) {
	if len(ids) == 0 {
		return []*model.Escrow{}, nil
	}

	var escrows []*model.Escrow
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&escrows).Error
	if err != nil {
		return nil, err
	}

	// IN 查询不保证顺序，按索引顺序重排
	byID := make(map[int64]*model.Escrow, len(escrows))
	for _, e := range escrows {
		byID[e.ID] = e
	}
	ordered := make([]*model.Escrow, 0, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			ordered = append(ordered, e)
		}
	}
	return ordered, nil
}

// ListAll 全表按ID升序返回，仅供平台账户的全局枚举使用
func (r *EscrowRepository) ListAll(ctx context.Context) ([]*model.Escrow, error) {
	var escrows []*model.Escrow
	err := r.db.WithContext(ctx).Order("id ASC").Find(&escrows).Error
	return escrows, err
}

func (r *EscrowRepository) CountAll(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&model.Escrow{}).Count(&total).Error
	return total, err
}

// ListPage 全局分页（按ID升序），offset 为零基游标
func (r *EscrowRepository) ListPage(ctx context.Context, offset, limit int) ([]*model.Escrow, error) {
	var escrows []*model.Escrow
	err := r.db.WithContext(ctx).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&escrows).Error
	return escrows, err
}

// GetExpiredUnnotified 查询已过期但尚未发送到期提醒的待交付托管
func (r *EscrowRepository) GetExpiredUnnotified(ctx context.Context, now int64, limit int) ([]*model.Escrow, error) {
	var escrows []*model.Escrow
	err := r.db.WithContext(ctx).
		Where("state = ? AND expire_at <= ? AND expire_notified = ?", model.EscrowStateAwaitingDelivery, now, false).
		Limit(limit).
		Find(&escrows).Error
	return escrows, err
}

func (r *EscrowRepository) MarkExpireNotified(ctx context.Context, tx *gorm.DB, escrowID int64) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.Escrow{}).
		Where("id = ?", escrowID).
		Update("expire_notified", true).Error
}
