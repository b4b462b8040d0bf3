package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"escrowledger/internal/config"
	"escrowledger/internal/model"
	"escrowledger/internal/repository"

	"gorm.io/gorm"
)

// ExpiryNotifyJob 托管到期提醒任务
// 扫描已过 expire_at 仍处于待交付状态的托管，发一次 EscrowExpired 事件
// 提醒卖方可以强制索取
//
// 【重要】本任务绝不改变托管状态：到期转移只能由卖方主动发起，
// 这里仅置位 expire_notified 防止重复提醒
type ExpiryNotifyJob struct {
	db         *gorm.DB
	escrowRepo *repository.EscrowRepository
	outboxRepo *repository.OutboxRepository
	cfg        *config.Config
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewExpiryNotifyJob(db *gorm.DB, cfg *config.Config) *ExpiryNotifyJob {
	return &ExpiryNotifyJob{
		db:         db,
		escrowRepo: repository.NewEscrowRepository(db),
		outboxRepo: repository.NewOutboxRepository(db),
		cfg:        cfg,
		stopCh:     make(chan struct{}),
		interval:   time.Duration(cfg.Business.ExpirySweepSeconds) * time.Second,
		batchSize:  100,
	}
}

func (j *ExpiryNotifyJob) Start(ctx context.Context) {
	log.Println("[ExpiryNotifyJob] 托管到期提醒任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[ExpiryNotifyJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[ExpiryNotifyJob] 任务停止")
			return
		case <-ticker.C:
			j.notifyExpiredEscrows(ctx)
		}
	}
}

func (j *ExpiryNotifyJob) Stop() {
	close(j.stopCh)
}

func (j *ExpiryNotifyJob) notifyExpiredEscrows(ctx context.Context) {
	escrows, err := j.escrowRepo.GetExpiredUnnotified(ctx, time.Now().Unix(), j.batchSize)
	if err != nil {
		log.Printf("[ExpiryNotifyJob] 查询到期托管失败: %v", err)
		return
	}

	if len(escrows) == 0 {
		return
	}

	log.Printf("[ExpiryNotifyJob] 发现 %d 笔到期待提醒托管", len(escrows))

	for _, escrow := range escrows {
		j.notifyOne(ctx, escrow)
	}
}

func (j *ExpiryNotifyJob) notifyOne(ctx context.Context, escrow *model.Escrow) {
	payload := map[string]interface{}{
		"event":       model.EventEscrowExpired,
		"escrow_id":   escrow.ID,
		"content_ref": escrow.ContentRef,
		"buyer":       escrow.BuyerID,
		"seller":      escrow.SellerID,
		"amount":      escrow.Amount,
		"fee":         escrow.Fee,
		"state":       escrow.State,
		"expire_at":   escrow.ExpireAt,
	}
	payloadBytes, _ := json.Marshal(payload)

	// 提醒事件与置位在同一事务，保证至多提醒一次
	err := j.db.Transaction(func(tx *gorm.DB) error {
		msg := &model.OutboxMessage{
			MessageKey: fmt.Sprintf("escrow-expired-%d", escrow.ID),
			Topic:      j.cfg.Kafka.Topic.EscrowExpired,
			Payload:    string(payloadBytes),
			Status:     model.OutboxStatusPending,
		}
		if err := j.outboxRepo.Create(ctx, tx, msg); err != nil {
			return err
		}
		return j.escrowRepo.MarkExpireNotified(ctx, tx, escrow.ID)
	})

	if err != nil {
		log.Printf("[ExpiryNotifyJob] 写入到期提醒失败: id=%d, err=%v", escrow.ID, err)
		return
	}

	log.Printf("[ExpiryNotifyJob] 到期提醒已写入: id=%d, seller=%d", escrow.ID, escrow.SellerID)
}
