package main

import (
	"context"
	"log"

	"go-annotation-service/internal/access"
	"go-annotation-service/internal/api"
	"go-annotation-service/internal/event"
	"go-annotation-service/internal/middleware"
	"go-annotation-service/internal/repository"
	"go-annotation-service/internal/service"
	"go-annotation-service/internal/storage"
	"go-annotation-service/internal/websocket"
	"go-annotation-service/internal/worker"
	"go-annotation-service/pkg/cache"
	"go-annotation-service/pkg/config"
	"go-annotation-service/pkg/db"
	"go-annotation-service/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	// 初始化配置
	if err := config.Init(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	if err := logger.InitLogger("info", true); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// 初始化数据库连接
	if err := db.InitDB(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// 初始化redis
	redisStore, err := cache.NewRedisStore(context.Background())
	if err != nil {
		log.Fatalf("Failed to initialize redis: %v", err)
	}
	defer redisStore.Close()

	// 事件出口
	emitter, err := event.CreateEmitter()
	if err != nil {
		log.Fatalf("Failed to create event emitter: %v", err)
	}
	defer emitter.Close()

	// 工作池 承接请求路径之外的扇出
	pool := worker.NewPool(config.GlobalConfig.Worker.PoolSize, config.GlobalConfig.Worker.QueueSize)
	defer pool.Stop()

	// websocket hub
	hub := websocket.NewHub()
	go hub.Run()

	// 存储后端协作方
	storageClient := storage.NewHTTPClient()

	// 仓库
	annotationRepo := repository.NewAnnotationRepository()
	commentRepo := repository.NewCommentRepository()
	linkRepo := repository.NewPublicLinkRepository()
	subscriptionRepo := repository.NewSubscriptionRepository()
	mentionLogRepo := repository.NewMentionLogRepository()
	userRepo := repository.NewUserRepository()

	// 访问门禁
	accessCache := access.NewCache(redisStore)
	gate := access.NewGate(accessCache, linkRepo, storageClient)

	// 服务
	notifier := service.NewNotificationService(hub, emitter, pool)
	mentions := service.NewMentionService(userRepo, subscriptionRepo, mentionLogRepo, storageClient, notifier, pool)
	subscriptions := service.NewSubscriptionService(subscriptionRepo, storageClient, pool)
	annotations := service.NewAnnotationService(annotationRepo, commentRepo, notifier, mentions, subscriptions)

	// 创建Gin引擎
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.GinZapLogger())

	annotationHandler := api.NewAnnotationHandler(gate, accessCache, annotations, mentions)
	wsHandler := api.NewWSHandler(hub, gate)

	// 受保护的路由
	protected := r.Group("/api", middleware.AuthMiddleware())
	{
		files := protected.Group("/files/:file_id")
		files.POST("/threads", annotationHandler.CreateThread)
		files.POST("/markups", annotationHandler.CreateMarkup)
		files.GET("/annotations", annotationHandler.ListAnnotations)
		files.GET("/annotations/:annotation_id", annotationHandler.GetAnnotation)
		files.PUT("/annotations/:annotation_id", annotationHandler.UpdateAnnotation)
		files.DELETE("/annotations/:annotation_id", annotationHandler.DeleteAnnotation)
		files.POST("/annotations/:annotation_id/comments", annotationHandler.AddComment)
		files.GET("/annotations/:annotation_id/comments", annotationHandler.ListComments)
		files.PUT("/annotations/:annotation_id/comments/:comment_id", annotationHandler.UpdateComment)
		files.DELETE("/annotations/:annotation_id/comments/:comment_id", annotationHandler.DeleteComment)
		files.GET("/mentions", annotationHandler.ListMentions)
		// 分享关系变化后的缓存失效钩子
		files.POST("/access/clear", annotationHandler.ClearAccessCache)
	}

	r.GET("/ws", middleware.AuthMiddleware(), wsHandler.HandleConnection)

	// 启动服务器
	if err := r.Run(":8080"); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
