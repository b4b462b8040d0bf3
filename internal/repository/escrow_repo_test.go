package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"escrowledger/internal/model"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newRepoTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "repo_test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&model.Escrow{},
		&model.AccountEscrowIndex{},
	))
	return db
}

func seedEscrow(t *testing.T, repo *EscrowRepository, expireAt int64) *model.Escrow {
	t.Helper()
	escrow := &model.Escrow{
		ContentRef: "ref",
		BuyerID:    1,
		SellerID:   2,
		Amount:     99,
		Fee:        1,
		State:      model.EscrowStateAwaitingDelivery,
		ExpireAt:   expireAt,
	}
	require.NoError(t, repo.Create(context.Background(), nil, escrow))
	return escrow
}

func TestTransitionStateGuard(t *testing.T) {
	db := newRepoTestDB(t)
	repo := NewEscrowRepository(db)
	ctx := context.Background()

	escrow := seedEscrow(t, repo, time.Now().Unix())
	clearAt := time.Now().Unix()

	// 非法目标状态直接拒绝，不触库
	err := repo.TransitionState(ctx, nil, escrow.ID, model.EscrowStateCompleted, model.EscrowStateRefunded, clearAt)
	assert.ErrorIs(t, err, ErrEscrowStateInvalid)

	// 首次转移成功
	require.NoError(t, repo.TransitionState(ctx, nil, escrow.ID, model.EscrowStateAwaitingDelivery, model.EscrowStateCompleted, clearAt))

	got, err := repo.GetByID(ctx, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EscrowStateCompleted, got.State)
	assert.Equal(t, clearAt, got.ClearAt)

	// 守卫更新：状态已变，二次转移零行命中
	err = repo.TransitionState(ctx, nil, escrow.ID, model.EscrowStateAwaitingDelivery, model.EscrowStateRefunded, clearAt)
	assert.ErrorIs(t, err, ErrEscrowStateInvalid)
}

func TestGetByIDMissing(t *testing.T) {
	db := newRepoTestDB(t)
	repo := NewEscrowRepository(db)

	got, err := repo.GetByID(context.Background(), 404)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestExpiredUnnotifiedSweep(t *testing.T) {
	db := newRepoTestDB(t)
	repo := NewEscrowRepository(db)
	ctx := context.Background()
	now := time.Now().Unix()

	expired := seedEscrow(t, repo, now-10)
	notYet := seedEscrow(t, repo, now+3600)

	// 已终态的过期托管不再提醒
	settled := seedEscrow(t, repo, now-10)
	require.NoError(t, repo.TransitionState(ctx, nil, settled.ID, model.EscrowStateAwaitingDelivery, model.EscrowStateRefunded, now))

	due, err := repo.GetExpiredUnnotified(ctx, now, 100)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, expired.ID, due[0].ID)
	assert.NotEqual(t, notYet.ID, due[0].ID)

	// 置位后不再出现
	require.NoError(t, repo.MarkExpireNotified(ctx, nil, expired.ID))
	due, err = repo.GetExpiredUnnotified(ctx, now, 100)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestIndexAppendOrder(t *testing.T) {
	db := newRepoTestDB(t)
	indexRepo := NewIndexRepository(db)
	ctx := context.Background()

	// 同一账户连续追加，序号连续且读取保序
	for _, escrowID := range []int64{7, 3, 9} {
		require.NoError(t, indexRepo.Append(ctx, nil, 42, escrowID))
	}

	ids, err := indexRepo.ListEscrowIDs(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 3, 9}, ids)

	total, err := indexRepo.Count(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	page, err := indexRepo.ListEscrowIDsPage(ctx, 42, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, page)
}
