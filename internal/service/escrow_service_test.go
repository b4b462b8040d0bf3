package service_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"escrowledger/internal/config"
	"escrowledger/internal/model"
	"escrowledger/internal/repository"
	"escrowledger/internal/service"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testOwnerID  = int64(1)
	testBuyerID  = int64(100)
	testSellerID = int64(200)
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "escrow_test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&model.Account{},
		&model.Escrow{},
		&model.AccountEscrowIndex{},
		&model.SettlementTransfer{},
		&model.OutboxMessage{},
	))

	return db
}

func newTestConfig() *config.Config {
	return &config.Config{
		Business: config.BusinessConfig{
			OwnerAccountID: testOwnerID,
			FeeRatePercent: 1,
			MinimumEscrow:  1,
			MaxRetryCount:  3,
		},
	}
}

type testEnv struct {
	db       *gorm.DB
	cfg      *config.Config
	escrows  *service.EscrowService
	queries  *service.QueryService
	accounts *service.AccountService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTestDB(t)
	cfg := newTestConfig()
	return &testEnv{
		db:       db,
		cfg:      cfg,
		escrows:  service.NewEscrowService(db, nil, cfg),
		queries:  service.NewQueryService(db, cfg),
		accounts: service.NewAccountService(db),
	}
}

func (env *testEnv) fund(t *testing.T, accountID, amount int64) {
	t.Helper()
	require.NoError(t, env.accounts.Recharge(context.Background(), accountID, amount))
}

func (env *testEnv) balance(t *testing.T, accountID int64) int64 {
	t.Helper()
	balance, err := env.accounts.GetBalance(context.Background(), accountID)
	require.NoError(t, err)
	return balance
}

func (env *testEnv) create(t *testing.T, gross int64, expireAt int64) *model.Escrow {
	t.Helper()
	escrow, err := env.escrows.Create(context.Background(), &service.CreateEscrowRequest{
		BuyerID:    testBuyerID,
		SellerID:   testSellerID,
		ContentRef: "content-hash-abc",
		ExpireAt:   expireAt,
		Amount:     gross,
	})
	require.NoError(t, err)
	return escrow
}

func TestCreateEscrow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, testBuyerID, 1000)

	escrow := env.create(t, 100, time.Now().Add(time.Hour).Unix())

	// 费用守恒：fee = floor(100×1/100) = 1，amount = 99
	assert.Equal(t, int64(1), escrow.ID)
	assert.Equal(t, int64(1), escrow.Fee)
	assert.Equal(t, int64(99), escrow.Amount)
	assert.Equal(t, model.EscrowStateAwaitingDelivery, escrow.State)
	assert.Equal(t, int64(0), escrow.ClearAt)

	// 入金已从买方扣除
	assert.Equal(t, int64(900), env.balance(t, testBuyerID))

	// 买卖双方索引各出现一次
	for _, accountID := range []int64{testBuyerID, testSellerID} {
		var count int64
		require.NoError(t, env.db.Model(&model.AccountEscrowIndex{}).
			Where("account_id = ? AND escrow_id = ?", accountID, escrow.ID).
			Count(&count).Error)
		assert.Equal(t, int64(1), count, "账户 %d 的索引应恰好一条", accountID)

		mine, err := env.queries.FetchMyEscrows(ctx, accountID)
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, escrow.ID, mine[0].ID)
	}

	// 托管ID顺序递增
	second := env.create(t, 200, time.Now().Add(time.Hour).Unix())
	assert.Equal(t, int64(2), second.ID)
}

func TestCreateEscrowFeeConservation(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, testBuyerID, 100000)

	for _, gross := range []int64{1, 7, 99, 100, 101, 250, 9999} {
		escrow := env.create(t, gross, time.Now().Add(time.Hour).Unix())
		assert.Equal(t, gross/100, escrow.Fee, "gross=%d", gross)
		assert.Equal(t, gross, escrow.Amount+escrow.Fee, "gross=%d", gross)
	}
}

func TestCreateEscrowInsufficientAmount(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Business.MinimumEscrow = 10
	env.fund(t, testBuyerID, 1000)

	_, err := env.escrows.Create(context.Background(), &service.CreateEscrowRequest{
		BuyerID:    testBuyerID,
		SellerID:   testSellerID,
		ContentRef: "x",
		ExpireAt:   time.Now().Add(time.Hour).Unix(),
		Amount:     9,
	})
	assert.ErrorIs(t, err, service.ErrInsufficientAmount)

	// 校验失败不产生任何记录，ID计数器也不前进
	escrow := env.create(t, 10, time.Now().Add(time.Hour).Unix())
	assert.Equal(t, int64(1), escrow.ID)
}

func TestCreateEscrowBalanceNotEnough(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, testBuyerID, 50)

	_, err := env.escrows.Create(context.Background(), &service.CreateEscrowRequest{
		BuyerID:    testBuyerID,
		SellerID:   testSellerID,
		ContentRef: "x",
		ExpireAt:   time.Now().Add(time.Hour).Unix(),
		Amount:     100,
	})
	assert.ErrorIs(t, err, repository.ErrBalanceNotEnough)
	assert.Equal(t, int64(50), env.balance(t, testBuyerID))
}

func TestDeliver(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, testBuyerID, 1000)

	escrow := env.create(t, 100, time.Now().Add(time.Hour).Unix())

	delivered, err := env.escrows.Deliver(ctx, testBuyerID, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EscrowStateCompleted, delivered.State)
	assert.NotZero(t, delivered.ClearAt)

	// 卖方收净额，平台收手续费
	assert.Equal(t, int64(99), env.balance(t, testSellerID))
	assert.Equal(t, int64(1), env.balance(t, testOwnerID))

	// 放款产生两条清算流水（RELEASE + FEE），加上入金共三条
	var transfers []*model.SettlementTransfer
	require.NoError(t, env.db.Where("escrow_id = ?", escrow.ID).Order("id ASC").Find(&transfers).Error)
	require.Len(t, transfers, 3)
	assert.Equal(t, model.TransferLegDeposit, transfers[0].LegType)
	assert.Equal(t, model.TransferLegRelease, transfers[1].LegType)
	assert.Equal(t, model.TransferLegFee, transfers[2].LegType)

	// 单次转移：再次交付被拒绝
	_, err = env.escrows.Deliver(ctx, testBuyerID, escrow.ID)
	assert.ErrorIs(t, err, service.ErrInvalidStateTransition)
}

func TestDeliverRoleEnforcement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, testBuyerID, 1000)

	escrow := env.create(t, 100, time.Now().Add(time.Hour).Unix())

	// 只有买方能确认交付
	for _, caller := range []int64{testSellerID, testOwnerID, 999} {
		_, err := env.escrows.Deliver(ctx, caller, escrow.ID)
		assert.ErrorIs(t, err, service.ErrUnauthorized, "caller=%d", caller)
	}
}

func TestClaimAfterExpire(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, testBuyerID, 1000)

	base := time.Now()
	expireAt := base.Add(time.Hour).Unix()
	escrow := env.create(t, 100, expireAt)

	// 未到期：拒绝
	env.escrows.SetNowFunc(func() time.Time { return base })
	_, err := env.escrows.ClaimAfterExpire(ctx, testSellerID, escrow.ID)
	assert.ErrorIs(t, err, service.ErrNotYetExpired)

	// 非卖方：拒绝
	env.escrows.SetNowFunc(func() time.Time { return base.Add(2 * time.Hour) })
	_, err = env.escrows.ClaimAfterExpire(ctx, testBuyerID, escrow.ID)
	assert.ErrorIs(t, err, service.ErrUnauthorized)

	// 到期后卖方索取成功，资金分配与交付一致
	claimed, err := env.escrows.ClaimAfterExpire(ctx, testSellerID, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EscrowStateClaimedOnExpire, claimed.State)
	assert.Equal(t, base.Add(2*time.Hour).Unix(), claimed.ClearAt)
	assert.Equal(t, int64(99), env.balance(t, testSellerID))
	assert.Equal(t, int64(1), env.balance(t, testOwnerID))

	// 终态不可再次转移
	_, err = env.escrows.ClaimAfterExpire(ctx, testSellerID, escrow.ID)
	assert.ErrorIs(t, err, service.ErrInvalidStateTransition)
}

func TestClaimExactlyAtExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, testBuyerID, 1000)

	expireAt := time.Now().Add(time.Hour).Unix()
	escrow := env.create(t, 100, expireAt)

	// now == expireAt 视为已到期
	env.escrows.SetNowFunc(func() time.Time { return time.Unix(expireAt, 0) })
	claimed, err := env.escrows.ClaimAfterExpire(ctx, testSellerID, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EscrowStateClaimedOnExpire, claimed.State)
}

func TestRefund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, testBuyerID, 1000)

	escrow := env.create(t, 100, time.Now().Add(time.Hour).Unix())
	assert.Equal(t, int64(900), env.balance(t, testBuyerID))

	// 买方无权退款
	_, err := env.escrows.Refund(ctx, testBuyerID, escrow.ID)
	assert.ErrorIs(t, err, service.ErrUnauthorized)

	// 平台账户退款：总额（含手续费）全部回到买方
	refunded, err := env.escrows.Refund(ctx, testOwnerID, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EscrowStateRefunded, refunded.State)
	assert.Equal(t, int64(1000), env.balance(t, testBuyerID))
	assert.Equal(t, int64(0), env.balance(t, testSellerID))
	assert.Equal(t, int64(0), env.balance(t, testOwnerID))

	// 退款后交付/索取/再退款全部被拒绝
	_, err = env.escrows.Deliver(ctx, testBuyerID, escrow.ID)
	assert.ErrorIs(t, err, service.ErrInvalidStateTransition)
	_, err = env.escrows.Refund(ctx, testOwnerID, escrow.ID)
	assert.ErrorIs(t, err, service.ErrInvalidStateTransition)
}

func TestRefundBySeller(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, testBuyerID, 1000)

	escrow := env.create(t, 100, time.Now().Add(time.Hour).Unix())

	// 卖方可以主动放弃货款发起退款（卖方侧取消）
	refunded, err := env.escrows.Refund(ctx, testSellerID, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EscrowStateRefunded, refunded.State)
	assert.Equal(t, int64(1000), env.balance(t, testBuyerID))
}

func TestMutateUnknownEscrow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.escrows.Deliver(ctx, testBuyerID, 42)
	assert.ErrorIs(t, err, service.ErrEscrowNotFound)
	_, err = env.escrows.ClaimAfterExpire(ctx, testSellerID, 42)
	assert.ErrorIs(t, err, service.ErrEscrowNotFound)
	_, err = env.escrows.Refund(ctx, testSellerID, 42)
	assert.ErrorIs(t, err, service.ErrEscrowNotFound)
}

// failingSink 清算失败桩：第 failAt 次划转返回错误
type failingSink struct {
	calls  int
	failAt int
}

func (s *failingSink) Transfer(ctx context.Context, tx *gorm.DB, escrowID, toAccountID, amount int64, legType string) error {
	s.calls++
	if s.calls >= s.failAt {
		return fmt.Errorf("清算通道不可用")
	}
	return nil
}

func TestSettlementFailureLeavesStateUnchanged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, testBuyerID, 1000)

	escrow := env.create(t, 100, time.Now().Add(time.Hour).Unix())

	// 第二腿（手续费）失败：整个操作必须回滚
	env.escrows.SetSink(&failingSink{failAt: 2})
	_, err := env.escrows.Deliver(ctx, testBuyerID, escrow.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrSettlementFailure))

	// 状态保持待交付，任何一方都没有收到钱
	current, err := env.queries.FetchEscrow(ctx, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EscrowStateAwaitingDelivery, current.State)
	assert.Equal(t, int64(0), current.ClearAt)
	assert.Equal(t, int64(0), env.balance(t, testSellerID))
	assert.Equal(t, int64(0), env.balance(t, testOwnerID))

	// 调用方重试：换回正常清算后成功
	env.escrows.SetSink(nil) // nil 不生效，仍是失败桩
	_, err = env.escrows.Deliver(ctx, testBuyerID, escrow.ID)
	require.Error(t, err)

	env2 := service.NewEscrowService(env.db, nil, env.cfg)
	delivered, err := env2.Deliver(ctx, testBuyerID, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EscrowStateCompleted, delivered.State)
	assert.Equal(t, int64(99), env.balance(t, testSellerID))
}

func TestEscrowEventsWritten(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, testBuyerID, 1000)

	escrow := env.create(t, 100, time.Now().Add(time.Hour).Unix())
	_, err := env.escrows.Deliver(ctx, testBuyerID, escrow.ID)
	require.NoError(t, err)

	// 创建与转移各落一条待投递事件
	var messages []*model.OutboxMessage
	require.NoError(t, env.db.Order("id ASC").Find(&messages).Error)
	require.Len(t, messages, 2)
	for _, msg := range messages {
		assert.Equal(t, model.OutboxStatusPending, msg.Status)
		assert.Equal(t, fmt.Sprintf("escrow-%d", escrow.ID), msg.MessageKey)
	}
	assert.Contains(t, messages[0].Payload, model.EventEscrowCreated)
	assert.Contains(t, messages[0].Payload, `"state":"AWAITING_DELIVERY"`)
	assert.Contains(t, messages[1].Payload, model.EventEscrowUpdated)
	assert.Contains(t, messages[1].Payload, `"state":"COMPLETED"`)
}
