package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	httpHandler "puzzle-duel/internal/handler/http"
	wsHandler "puzzle-duel/internal/handler/websocket"
	"puzzle-duel/internal/hub"
	gormpersistence "puzzle-duel/internal/infra/persistence/gorm"
	"puzzle-duel/internal/infra/setup"
	redisstate "puzzle-duel/internal/infra/state/redis"
	"puzzle-duel/internal/middleware"
	"puzzle-duel/internal/service"
	"puzzle-duel/internal/tasks"
	"puzzle-duel/internal/worker"
)

// challengeSweepSchedule 清理过期挑战的周期
const challengeSweepSchedule = "@every 1m"

// App 结构体包含应用的所有组件和配置
type App struct {
	Config         *Config
	Log            *logrus.Logger
	DB             *gorm.DB
	RedisClient    *redis.Client
	AsynqClient    *asynq.Client
	AsynqServer    *worker.WorkerServer
	Scheduler      *asynq.Scheduler
	Hub            *hub.Hub
	HttpServer     *http.Server
	redisClientOpt asynq.RedisClientOpt
}

// handlers 聚合路由需要的全部 handler
type handlers struct {
	session   *httpHandler.SessionHandler
	lobby     *httpHandler.LobbyHandler
	match     *httpHandler.MatchHandler
	challenge *httpHandler.ChallengeHandler
	presence  *httpHandler.PresenceHandler
	ws        *wsHandler.WebSocketHandler
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		// logrus 此时还未配置
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. 初始化 Logger
	log := newLogger(cfg)
	log.Info("Configuration loaded successfully")

	// 3. 初始化基础设施
	log.Info("Initializing infrastructure...")
	db, err := setup.InitDB(cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}
	log.Info("Database initialized and migrated")

	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}
	log.Info("Redis client initialized")

	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)
	log.Info("Asynq client initialized")

	// 4. 初始化 Repositories
	profileRepo := gormpersistence.NewGormProfileRepository(db)
	recordRepo := gormpersistence.NewGormMatchRecordRepository(db)
	stateRepo := redisstate.NewRedisStateRepository(redisClient, cfg.KeyPrefix)
	log.Info("Repositories initialized")

	// 5. 初始化 Services
	authService, err := service.NewAuthService(profileRepo, cfg.JWTSecret, cfg.JWTExpiryHours)
	if err != nil {
		return nil, fmt.Errorf("failed to create AuthService: %w", err)
	}
	lobbyService := service.NewLobbyService(stateRepo)
	matchService := service.NewMatchService(stateRepo, tasks.NewEnqueuer(asynqClient))
	rematchService := service.NewRematchService(stateRepo, matchService)
	challengeService := service.NewChallengeService(stateRepo, lobbyService)
	presenceService := service.NewPresenceService(stateRepo, cfg.PresenceTTL)
	log.Info("Services initialized")

	// 6. 初始化 Hub
	hubInstance := hub.NewHub(presenceService, challengeService, lobbyService, matchService)
	log.Info("Hub initialized")

	// 7. 初始化 Handlers
	h := handlers{
		session:   httpHandler.NewSessionHandler(authService),
		lobby:     httpHandler.NewLobbyHandler(lobbyService, rematchService),
		match:     httpHandler.NewMatchHandler(matchService),
		challenge: httpHandler.NewChallengeHandler(challengeService),
		presence:  httpHandler.NewPresenceHandler(presenceService),
		ws:        wsHandler.NewWebSocketHandler(hubInstance, cfg.CORSAllowedOrigin),
	}
	log.Info("Handlers initialized")

	// 8. 初始化 Worker Server
	workerServer := worker.NewWorkerServer(
		redisClientOpt,
		worker.NewMatchArchiveHandler(matchService, recordRepo),
		worker.NewChallengeSweepHandler(challengeService, cfg.ChallengeTTL),
		log,
	)
	log.Info("Worker server initialized")

	// 9. 初始化 Gin Engine 和路由
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(CORSMiddleware(cfg.CORSAllowedOrigin))
	router.Use(middleware.RateLimit(redisClient, cfg.KeyPrefix, cfg.RateLimitMax, cfg.RateLimitWindow))
	registerRoutes(router, cfg.JWTSecret, h)
	log.Info("Router setup complete")

	// 10. 初始化 HTTP Server
	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		Config:         cfg,
		Log:            log,
		DB:             db,
		RedisClient:    redisClient,
		AsynqClient:    asynqClient,
		AsynqServer:    workerServer,
		Hub:            hubInstance,
		HttpServer:     httpServer,
		redisClientOpt: redisClientOpt,
	}, nil
}

func newLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel) // 已在 LoadConfig 中校验
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)

	// 各业务包使用全局 logger，保持同样的格式和级别
	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(logLevel)
	logrus.SetOutput(os.Stdout)
	log.Infof("Logger initialized (Level: %s, Format: %T)", logLevel.String(), log.Formatter)
	return log
}

// registerRoutes 注册全部 HTTP 和 WebSocket 路由。除创建会话外都需要 JWT。
func registerRoutes(router *gin.Engine, jwtSecret string, h handlers) {
	api := router.Group("/api")
	api.POST("/session", h.session.StartSession)

	authed := api.Group("", middleware.Auth(jwtSecret))
	{
		authed.POST("/lobbies", h.lobby.CreateRoom)
		authed.GET("/lobbies/:code", h.lobby.ReadLobby)
		authed.POST("/lobbies/:code/join", h.lobby.JoinRoom)
		authed.DELETE("/lobbies/:code/players/:userId", h.lobby.RemovePlayer)
		authed.PUT("/lobbies/:code/votes", h.lobby.VoteRematch)
		authed.GET("/lobbies/:code/votes", h.lobby.ReadVotes)
		authed.POST("/lobbies/:code/rematch", h.lobby.StartRematch)

		authed.POST("/challenges", h.challenge.Send)
		authed.POST("/challenges/:from/accept", h.challenge.Accept)
		authed.POST("/challenges/:from/decline", h.challenge.Decline)

		authed.POST("/matches", h.match.CreateMatch)
		authed.GET("/matches/:id", h.match.ReadMatch)
		authed.POST("/matches/:id/moves", h.match.MakeMove)
		authed.GET("/matches/:id/cells/:row/:col", h.match.ReadCell)
		authed.PUT("/matches/:id/score", h.match.UpdateScore)
		authed.POST("/matches/:id/finish", h.match.FinishMatch)

		authed.GET("/presence", h.presence.List)
		authed.DELETE("/presence", h.presence.Clear)
	}

	router.GET("/ws", middleware.Auth(jwtSecret), h.ws.HandleConnection)
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() {
	a.Log.Info("Starting application background routines...")
	go a.Hub.Run()
	a.Log.Info("Hub routine started")

	go a.AsynqServer.Start()
	a.Log.Info("Asynq worker server routine started")

	a.registerPeriodicTasks()

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// registerPeriodicTasks 注册过期挑战的定时清理
func (a *App) registerPeriodicTasks() {
	scheduler := asynq.NewScheduler(a.redisClientOpt, &asynq.SchedulerOpts{})

	entryID, err := scheduler.Register(challengeSweepSchedule, tasks.NewChallengeSweepTask(), asynq.Queue("low"))
	if err != nil {
		a.Log.Errorf("Could not register challenge sweep task: %v", err)
		return
	}
	a.Log.Infof("Challenge sweep task registered with schedule '%s' (EntryID: %s)", challengeSweepSchedule, entryID)
	a.Scheduler = scheduler

	go func() {
		a.Log.Info("Asynq scheduler starting...")
		if err := scheduler.Run(); err != nil {
			a.Log.Errorf("Asynq scheduler Run() failed: %v", err)
		}
	}()
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. 关闭所有连接，清理在线状态和订阅
	if a.Hub != nil {
		a.Hub.Stop()
	}

	// 2. 停止定时任务和 Worker
	if a.Scheduler != nil {
		a.Scheduler.Shutdown()
		a.Log.Info("Asynq scheduler stopped.")
	}
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}

	// 3. 优雅关闭 HTTP 服务器
	a.Log.Info("Shutting down HTTP server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	// 4. 关闭 Asynq Client
	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
	}

	// 5. 关闭 Redis 连接
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		}
	}

	// 6. 关闭数据库连接池
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.Log.Errorf("Error closing database connection: %v", err)
			}
		}
	}

	a.Log.Info("Application shutdown complete.")
}

// CORSMiddleware 允许配置的前端来源跨域访问
func CORSMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()

		// token 可能出现在查询参数里，日志只记录路径
		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
		})

		if errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String(); errorMessage != "" {
			entry.Error(errorMessage)
			return
		}
		switch {
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request handled")
		}
	}
}
