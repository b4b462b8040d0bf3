package handler

import (
	"errors"
	"strconv"

	"escrowledger/internal/config"
	"escrowledger/internal/repository"
	"escrowledger/internal/service"
	"escrowledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	accountService *service.AccountService
	escrowService  *service.EscrowService
	queryService   *service.QueryService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Handler {
	return &Handler{
		accountService: service.NewAccountService(db),
		escrowService:  service.NewEscrowService(db, rdb, cfg),
		queryService:   service.NewQueryService(db, cfg),
	}
}

// writeEscrowError 把服务层错误翻译成业务错误码
func writeEscrowError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInsufficientAmount):
		response.BusinessError(c, response.CodeInsufficientAmount, err.Error())
	case errors.Is(err, service.ErrUnauthorized):
		response.BusinessError(c, response.CodeEscrowUnauthorized, err.Error())
	case errors.Is(err, service.ErrInvalidStateTransition):
		response.BusinessError(c, response.CodeInvalidStateTransition, err.Error())
	case errors.Is(err, service.ErrNotYetExpired):
		response.BusinessError(c, response.CodeNotYetExpired, err.Error())
	case errors.Is(err, service.ErrSettlementFailure):
		response.BusinessError(c, response.CodeSettlementFailure, err.Error())
	case errors.Is(err, repository.ErrBalanceNotEnough):
		response.BusinessError(c, response.CodeBalanceNotEnough, err.Error())
	case errors.Is(err, service.ErrEscrowNotFound):
		response.Error(c, response.CodeNotFound, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

// ============================================================
// 账户相关接口
// ============================================================

// GetBalance 查询账户余额
// GET /api/v1/account/balance?account_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	accountIDStr := c.Query("account_id")
	accountID, err := strconv.ParseInt(accountIDStr, 10, 64)
	if err != nil {
		response.ParamError(c, "account_id 参数错误")
		return
	}

	account, err := h.accountService.GetAccount(c.Request.Context(), accountID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"account_id": account.AccountID,
		"balance":    account.Balance,
	})
}

// RechargeRequest 充值请求
type RechargeRequest struct {
	AccountID int64 `json:"account_id" binding:"required"`
	Amount    int64 `json:"amount" binding:"required,gt=0"`
}

// Recharge 充值接口（简化版，实际应该走支付渠道）
// POST /api/v1/account/recharge
func (h *Handler) Recharge(c *gin.Context) {
	var req RechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.accountService.Recharge(c.Request.Context(), req.AccountID, req.Amount); err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"message": "充值成功",
	})
}

// ============================================================
// 托管相关接口
// ============================================================

// CreateEscrowRequest 创建托管请求
type CreateEscrowRequest struct {
	CallerID   int64  `json:"caller_id" binding:"required"`    // 调用方账户，成为买方
	SellerID   int64  `json:"seller_id" binding:"required"`    // 卖方账户
	ContentRef string `json:"content_ref" binding:"required"`  // 托管标的标识
	ExpireAt   int64  `json:"expire_at" binding:"required"`    // 到期时间（Unix秒，绝对时间戳）
	Amount     int64  `json:"amount" binding:"required,gt=0"`  // 入金总额
}

// CreateEscrow 创建托管
// POST /api/v1/escrow/create
func (h *Handler) CreateEscrow(c *gin.Context) {
	var req CreateEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	serviceReq := &service.CreateEscrowRequest{
		BuyerID:    req.CallerID,
		SellerID:   req.SellerID,
		ContentRef: req.ContentRef,
		ExpireAt:   req.ExpireAt,
		Amount:     req.Amount,
	}

	escrow, err := h.escrowService.Create(c.Request.Context(), serviceReq)
	if err != nil {
		writeEscrowError(c, err)
		return
	}

	response.Success(c, gin.H{
		"escrow_id": escrow.ID,
		"state":     escrow.State,
		"amount":    escrow.Amount,
		"fee":       escrow.Fee,
	})
}

// MutateEscrowRequest 托管状态变更请求（交付/索取/退款共用）
type MutateEscrowRequest struct {
	CallerID int64 `json:"caller_id" binding:"required"`
	EscrowID int64 `json:"escrow_id" binding:"required"`
}

// DeliverEscrow 买方确认交付
// POST /api/v1/escrow/deliver
//
// 【关键点】交付是放款路径之一，需要保证：
// 1. 角色校验：只有买方可以确认
// 2. 原子性：卖方放款、手续费入账、状态更新同成同败
// 3. 并发安全：同一托管的变更通过分布式锁+状态守卫更新串行化
func (h *Handler) DeliverEscrow(c *gin.Context) {
	var req MutateEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	escrow, err := h.escrowService.Deliver(c.Request.Context(), req.CallerID, req.EscrowID)
	if err != nil {
		writeEscrowError(c, err)
		return
	}

	response.Success(c, gin.H{
		"escrow_id": escrow.ID,
		"state":     escrow.State,
		"clear_at":  escrow.ClearAt,
	})
}

// ClaimEscrow 卖方到期索取
// POST /api/v1/escrow/claim
func (h *Handler) ClaimEscrow(c *gin.Context) {
	var req MutateEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	escrow, err := h.escrowService.ClaimAfterExpire(c.Request.Context(), req.CallerID, req.EscrowID)
	if err != nil {
		writeEscrowError(c, err)
		return
	}

	response.Success(c, gin.H{
		"escrow_id": escrow.ID,
		"state":     escrow.State,
		"clear_at":  escrow.ClearAt,
	})
}

// RefundEscrow 退款（卖方或平台账户可发起）
// POST /api/v1/escrow/refund
//
// 【关键点】退款路径不留手续费，总额全部退回买方
func (h *Handler) RefundEscrow(c *gin.Context) {
	var req MutateEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	escrow, err := h.escrowService.Refund(c.Request.Context(), req.CallerID, req.EscrowID)
	if err != nil {
		writeEscrowError(c, err)
		return
	}

	response.Success(c, gin.H{
		"escrow_id": escrow.ID,
		"state":     escrow.State,
		"clear_at":  escrow.ClearAt,
	})
}

// GetEscrow 查询单笔托管
// GET /api/v1/escrow/detail?escrow_id=xxx
// 不存在时返回 id=0 的零值记录，不报错
func (h *Handler) GetEscrow(c *gin.Context) {
	escrowIDStr := c.Query("escrow_id")
	escrowID, err := strconv.ParseInt(escrowIDStr, 10, 64)
	if err != nil {
		response.ParamError(c, "escrow_id 参数错误")
		return
	}

	escrow, err := h.queryService.FetchEscrow(c.Request.Context(), escrowID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, escrow)
}

// ListMyEscrows 账户维度托管列表（平台账户返回全部）
// GET /api/v1/escrow/mine?caller_id=xxx
func (h *Handler) ListMyEscrows(c *gin.Context) {
	callerIDStr := c.Query("caller_id")
	callerID, err := strconv.ParseInt(callerIDStr, 10, 64)
	if err != nil {
		response.ParamError(c, "caller_id 参数错误")
		return
	}

	escrows, err := h.queryService.FetchMyEscrows(c.Request.Context(), callerID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":  escrows,
		"total": len(escrows),
	})
}

// ListEscrowsPaginated 游标分页列表
// GET /api/v1/escrow/list?caller_id=xxx&cursor=0&page_size=10
func (h *Handler) ListEscrowsPaginated(c *gin.Context) {
	callerIDStr := c.Query("caller_id")
	callerID, err := strconv.ParseInt(callerIDStr, 10, 64)
	if err != nil {
		response.ParamError(c, "caller_id 参数错误")
		return
	}

	cursor, _ := strconv.ParseInt(c.DefaultQuery("cursor", "0"), 10, 64)
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	page, err := h.queryService.FetchEscrowsPaginated(c.Request.Context(), callerID, cursor, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, page)
}
