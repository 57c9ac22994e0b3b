package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/jorgeaveraf/qbo-gateway/internal/api/handler"
	"github.com/jorgeaveraf/qbo-gateway/internal/api/middleware"
	"github.com/jorgeaveraf/qbo-gateway/internal/pkg/config"
	"github.com/jorgeaveraf/qbo-gateway/internal/repository"
	"github.com/jorgeaveraf/qbo-gateway/internal/service"
)

// Setup 设置路由
func Setup(cfg *config.Config, db *gorm.DB, logger *zap.Logger) *gin.Engine {
	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggerMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// 初始化Repository
	clientRepo := repository.NewClientRepository(db)
	credRepo := repository.NewCredentialRepository(db)

	// 初始化Service（幂等仓储由TxnService按事务构造）
	qboService := service.NewQBOService(&cfg.QBO, cfg.Crypto.AESKey, credRepo, logger)
	txnService := service.NewTxnService(db, qboService, logger)
	documentService := service.NewDocumentService(qboService, txnService, logger)
	clientService := service.NewClientService(clientRepo, credRepo)
	authService := service.NewAuthService(qboService, clientRepo, credRepo, cfg.QBO.StateSecret, logger)

	// 初始化Handler
	clientHandler := handler.NewClientHandler(clientService)
	authHandler := handler.NewAuthHandler(authService, clientService)
	qboHandler := handler.NewQBOHandler(documentService, clientService)

	// OAuth回调由Intuit浏览器跳转触达，不走API Key
	r.GET("/auth/callback", authHandler.Callback)

	// API路由组
	v1 := r.Group("/api/v1")
	v1.Use(middleware.AuthMiddleware(cfg.Auth.APIKey))
	{
		// OAuth授权
		auth := v1.Group("/auth")
		{
			auth.GET("/connect", authHandler.Connect)
		}

		// 客户端管理
		clients := v1.Group("/clients")
		{
			clients.POST("", clientHandler.Create)
			clients.GET("", clientHandler.List)
			clients.GET("/:client_id", clientHandler.Get)
			clients.PATCH("/:client_id", clientHandler.Update)
			clients.DELETE("/:client_id", clientHandler.Delete)
			clients.GET("/:client_id/credentials", clientHandler.ListCredentials)
			clients.POST("/:client_id/credentials/rotate", authHandler.Rotate)
		}

		// QBO代理
		qbo := v1.Group("/qbo/:client_id")
		{
			qbo.GET("/companyinfo", qboHandler.GetCompanyInfo)

			qbo.POST("/deposits", qboHandler.CreateDeposit)
			qbo.POST("/salesreceipts", qboHandler.CreateSalesReceipt)
			qbo.POST("/invoices", qboHandler.CreateInvoice)
			qbo.POST("/bills", qboHandler.CreateBill)
			qbo.POST("/payments", qboHandler.CreatePayment)
			qbo.POST("/billpayments", qboHandler.CreateBillPayment)
			qbo.POST("/expenses", qboHandler.CreateExpense)
			qbo.POST("/customers", qboHandler.CreateCustomer)
			qbo.POST("/vendors", qboHandler.CreateVendor)
			qbo.POST("/items", qboHandler.CreateItem)

			qbo.GET("/customers", qboHandler.ListEntities("customers"))
			qbo.GET("/vendors", qboHandler.ListEntities("vendors"))
			qbo.GET("/items", qboHandler.ListEntities("items"))
			qbo.GET("/accounts", qboHandler.ListEntities("accounts"))
			qbo.GET("/invoices", qboHandler.ListEntities("invoices"))
			qbo.GET("/payments", qboHandler.ListEntities("payments"))
			qbo.GET("/salesreceipts", qboHandler.ListEntities("salesreceipts"))
			qbo.GET("/expenses", qboHandler.ListEntities("expenses"))
			qbo.GET("/bills", qboHandler.ListEntities("bills"))
			qbo.GET("/billpayments", qboHandler.ListEntities("billpayments"))
			qbo.GET("/deposits", qboHandler.ListEntities("deposits"))

			qbo.GET("/accounts/:account_id", qboHandler.GetAccountDetail)
			qbo.PATCH("/accounts/:account_id", qboHandler.UpdateAccount)
		}
	}

	return r
}
