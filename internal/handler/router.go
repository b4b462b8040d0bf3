package handler

import (
	"escrowledger/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, cfg)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 账户相关
		account := api.Group("/account")
		{
			account.GET("/balance", h.GetBalance)
			account.POST("/recharge", h.Recharge)
		}

		// 托管相关
		escrow := api.Group("/escrow")
		{
			escrow.POST("/create", h.CreateEscrow)
			escrow.POST("/deliver", h.DeliverEscrow)
			escrow.POST("/claim", h.ClaimEscrow)
			escrow.POST("/refund", h.RefundEscrow)
			escrow.GET("/detail", h.GetEscrow)
			escrow.GET("/mine", h.ListMyEscrows)
			escrow.GET("/list", h.ListEscrowsPaginated)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
