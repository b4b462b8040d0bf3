package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"escrowledger/internal/config"
	"escrowledger/internal/infrastructure/lock"
	"escrowledger/internal/model"
	"escrowledger/internal/repository"
	"escrowledger/internal/settlement"
	"escrowledger/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

var (
	ErrInsufficientAmount     = errors.New("托管金额低于最低限额")
	ErrUnauthorized           = errors.New("无权执行该托管操作")
	ErrNotYetExpired          = errors.New("托管尚未到期，卖方不能强制索取")
	ErrSettlementFailure      = errors.New("清算划转失败")
	ErrEscrowNotFound         = errors.New("托管不存在")
	ErrInvalidStateTransition = repository.ErrEscrowStateInvalid
)

type EscrowService struct {
	db           *gorm.DB
	redisClient  *redis.Client
	cfg          *config.Config
	escrowRepo   *repository.EscrowRepository
	indexRepo    *repository.IndexRepository
	accountRepo  *repository.AccountRepository
	transferRepo *repository.TransferRepository
	outboxRepo   *repository.OutboxRepository
	sink         settlement.Sink
	nowFn        func() time.Time
}

func NewEscrowService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *EscrowService {
	return &EscrowService{
		db:           db,
		redisClient:  redisClient,
		cfg:          cfg,
		escrowRepo:   repository.NewEscrowRepository(db),
		indexRepo:    repository.NewIndexRepository(db),
		accountRepo:  repository.NewAccountRepository(db),
		transferRepo: repository.NewTransferRepository(db),
		outboxRepo:   repository.NewOutboxRepository(db),
		sink:         settlement.NewAccountSink(db),
		nowFn:        time.Now,
	}
}

// SetSink 替换清算实现，供测试注入失败桩
func (s *EscrowService) SetSink(sink settlement.Sink) {
	if sink != nil {
		s.sink = sink
	}
}

// SetNowFunc 替换时间源，供测试构造到期场景
func (s *EscrowService) SetNowFunc(now func() time.Time) {
	if now != nil {
		s.nowFn = now
	}
}

type CreateEscrowRequest struct {
	BuyerID    int64  `json:"buyer_id"`
	SellerID   int64  `json:"seller_id"`
	ContentRef string `json:"content_ref"`
	ExpireAt   int64  `json:"expire_at"` // 绝对时间戳（Unix秒）
	Amount     int64  `json:"amount"`    // 入金总额（最小计价单位）
}

// Create 创建托管：从买方扣除总额，按费率计提手续费后锁定净额
//
// fee = floor(gross × feeRate / 100)，amount = gross - fee，
// 恒有 amount + fee == gross；托管ID由自增主键分配，事务回滚也不复用
func (s *EscrowService) Create(ctx context.Context, req *CreateEscrowRequest) (*model.Escrow, error) {
	if req.Amount < s.cfg.Business.MinimumEscrow {
		return nil, ErrInsufficientAmount
	}

	buyerAccount, err := s.accountRepo.GetOrCreate(ctx, req.BuyerID)
	if err != nil {
		return nil, fmt.Errorf("获取买方账户失败: %w", err)
	}
	if buyerAccount.Balance < req.Amount {
		return nil, repository.ErrBalanceNotEnough
	}

	fee := req.Amount * s.cfg.Business.FeeRatePercent / 100
	net := req.Amount - fee

	escrow := &model.Escrow{
		ContentRef: req.ContentRef,
		BuyerID:    req.BuyerID,
		SellerID:   req.SellerID,
		Amount:     net,
		Fee:        fee,
		State:      model.EscrowStateAwaitingDelivery,
		ExpireAt:   req.ExpireAt,
		ClearAt:    0,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		// 入金：从买方账户扣除总额，锁入托管
		if err := s.accountRepo.Deduct(ctx, tx, req.BuyerID, req.Amount, buyerAccount.Version); err != nil {
			return err
		}

		if err := s.escrowRepo.Create(ctx, tx, escrow); err != nil {
			return fmt.Errorf("创建托管失败: %w", err)
		}

		deposit := &model.SettlementTransfer{
			TransferNo:    idgen.GenerateTransferNo(),
			EscrowID:      escrow.ID,
			AccountID:     req.BuyerID,
			Amount:        -req.Amount,
			LegType:       model.TransferLegDeposit,
			BalanceBefore: buyerAccount.Balance,
			BalanceAfter:  buyerAccount.Balance - req.Amount,
		}
		if err := s.transferRepo.Create(ctx, tx, deposit); err != nil {
			return fmt.Errorf("记录入金流水失败: %w", err)
		}

		// 买方、卖方各追加一条账户索引
		if err := s.indexRepo.Append(ctx, tx, req.BuyerID, escrow.ID); err != nil {
			return fmt.Errorf("写入买方索引失败: %w", err)
		}
		if err := s.indexRepo.Append(ctx, tx, req.SellerID, escrow.ID); err != nil {
			return fmt.Errorf("写入卖方索引失败: %w", err)
		}

		if err := s.writeEvent(ctx, tx, model.EventEscrowCreated, escrow); err != nil {
			return err
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	log.Printf("托管创建成功: id=%d, buyer=%d, seller=%d, amount=%d, fee=%d",
		escrow.ID, escrow.BuyerID, escrow.SellerID, escrow.Amount, escrow.Fee)

	return escrow, nil
}

// Deliver 买方确认交付：净额放款给卖方，手续费入平台账户
func (s *EscrowService) Deliver(ctx context.Context, callerID, escrowID int64) (*model.Escrow, error) {
	escrow, err := s.escrowRepo.GetByID(ctx, escrowID)
	if err != nil {
		return nil, fmt.Errorf("查询托管失败: %w", err)
	}
	if escrow == nil {
		return nil, ErrEscrowNotFound
	}

	if callerID != escrow.BuyerID {
		return nil, ErrUnauthorized
	}
	if escrow.State != model.EscrowStateAwaitingDelivery {
		return nil, ErrInvalidStateTransition
	}

	return s.finalize(ctx, escrow, model.EscrowStateCompleted, fmt.Sprintf("deliver:%d", callerID), []settlementLeg{
		{toAccountID: escrow.SellerID, amount: escrow.Amount, legType: model.TransferLegRelease},
		{toAccountID: s.cfg.Business.OwnerAccountID, amount: escrow.Fee, legType: model.TransferLegFee},
	})
}

// ClaimAfterExpire 卖方到期索取：买方逾期未确认时的卖方自助通道
// 资金分配与 Deliver 完全一致，仅终态不同
func (s *EscrowService) ClaimAfterExpire(ctx context.Context, callerID, escrowID int64) (*model.Escrow, error) {
	escrow, err := s.escrowRepo.GetByID(ctx, escrowID)
	if err != nil {
		return nil, fmt.Errorf("查询托管失败: %w", err)
	}
	if escrow == nil {
		return nil, ErrEscrowNotFound
	}

	if callerID != escrow.SellerID {
		return nil, ErrUnauthorized
	}
	if s.nowFn().Unix() < escrow.ExpireAt {
		return nil, ErrNotYetExpired
	}
	if escrow.State != model.EscrowStateAwaitingDelivery {
		return nil, ErrInvalidStateTransition
	}

	return s.finalize(ctx, escrow, model.EscrowStateClaimedOnExpire, fmt.Sprintf("claim:%d", callerID), []settlementLeg{
		{toAccountID: escrow.SellerID, amount: escrow.Amount, legType: model.TransferLegRelease},
		{toAccountID: s.cfg.Business.OwnerAccountID, amount: escrow.Fee, legType: model.TransferLegFee},
	})
}

// Refund 退款：总额（净额+手续费）全部退回买方，平台不留手续费
// 卖方或平台账户可发起；卖方发起即放弃自己的货款（卖方侧取消）
func (s *EscrowService) Refund(ctx context.Context, callerID, escrowID int64) (*model.Escrow, error) {
	escrow, err := s.escrowRepo.GetByID(ctx, escrowID)
	if err != nil {
		return nil, fmt.Errorf("查询托管失败: %w", err)
	}
	if escrow == nil {
		return nil, ErrEscrowNotFound
	}

	if callerID != escrow.SellerID && callerID != s.cfg.Business.OwnerAccountID {
		return nil, ErrUnauthorized
	}
	if escrow.State != model.EscrowStateAwaitingDelivery {
		return nil, ErrInvalidStateTransition
	}

	return s.finalize(ctx, escrow, model.EscrowStateRefunded, fmt.Sprintf("refund:%d", callerID), []settlementLeg{
		{toAccountID: escrow.BuyerID, amount: escrow.Amount + escrow.Fee, legType: model.TransferLegRefund},
	})
}

type settlementLeg struct {
	toAccountID int64
	amount      int64
	legType     string
}

// finalize 终态转移的公共路径：锁内二次校验 -> 事务内划转+状态守卫更新+事件落库
//
// 【关键点】
// 1. Redis 锁按托管ID串行化变更，清算期间的嵌套变更会在锁上被拒绝
// 2. 状态守卫更新兜底：并发双写至多一方成功，另一方收到 ErrInvalidStateTransition
// 3. 任一划转失败整个事务回滚，托管保持 AWAITING_DELIVERY，调用方可重试
func (s *EscrowService) finalize(ctx context.Context, escrow *model.Escrow, toState, lockHolder string, legs []settlementLeg) (*model.Escrow, error) {
	if s.redisClient != nil {
		escrowLock := lock.NewEscrowLock(s.redisClient, escrow.ID, lockHolder)
		if err := escrowLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
			return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
		}
		defer escrowLock.Unlock(ctx)

		// 获取锁后重读，等锁期间状态可能已被转移
		fresh, err := s.escrowRepo.GetByID(ctx, escrow.ID)
		if err != nil {
			return nil, fmt.Errorf("查询托管失败: %w", err)
		}
		if fresh == nil {
			return nil, ErrEscrowNotFound
		}
		if fresh.State != model.EscrowStateAwaitingDelivery {
			return nil, ErrInvalidStateTransition
		}
		escrow = fresh
	}

	clearAt := s.nowFn().Unix()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, leg := range legs {
			if leg.amount == 0 {
				// 小额托管手续费可能取整为0，不产生划转
				continue
			}
			if err := s.sink.Transfer(ctx, tx, escrow.ID, leg.toAccountID, leg.amount, leg.legType); err != nil {
				return fmt.Errorf("%w: %v", ErrSettlementFailure, err)
			}
		}

		if err := s.escrowRepo.TransitionState(ctx, tx, escrow.ID, model.EscrowStateAwaitingDelivery, toState, clearAt); err != nil {
			return err
		}

		escrow.State = toState
		escrow.ClearAt = clearAt

		if err := s.writeEvent(ctx, tx, model.EventEscrowUpdated, escrow); err != nil {
			return err
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	log.Printf("托管状态转移成功: id=%d, state=%s, clearAt=%d", escrow.ID, toState, clearAt)

	return escrow, nil
}

// writeEvent 在业务事务内落一条托管事件，由 OutboxSender 异步投递
func (s *EscrowService) writeEvent(ctx context.Context, tx *gorm.DB, event string, escrow *model.Escrow) error {
	payload := map[string]interface{}{
		"event":       event,
		"escrow_id":   escrow.ID,
		"content_ref": escrow.ContentRef,
		"buyer":       escrow.BuyerID,
		"seller":      escrow.SellerID,
		"amount":      escrow.Amount,
		"fee":         escrow.Fee,
		"state":       escrow.State,
	}
	payloadBytes, _ := json.Marshal(payload)

	msg := &model.OutboxMessage{
		MessageKey: fmt.Sprintf("escrow-%d", escrow.ID),
		Topic:      s.cfg.Kafka.Topic.EscrowEvents,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入托管事件失败: %w", err)
	}
	return nil
}
