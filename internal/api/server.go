package api

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"taskhub/internal/api/auth"
	"taskhub/internal/api/middleware"
	"taskhub/internal/api/scheduler"
	"taskhub/internal/config"
	"taskhub/internal/model"
	"taskhub/internal/pkg/metrics"
	"taskhub/internal/pkg/notify"
	"taskhub/internal/pkg/queue"
	"taskhub/internal/pkg/ratelimit"
	"taskhub/internal/pkg/tokenstore"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Server 封装了 HTTP 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端、Gin 路由引擎以及两个平行的
// 界面：JSON API 和服务端渲染页面。两者共用同一套归属范围存储。
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *gorm.DB
	rdb       *redis.Client
	router    *gin.Engine
	sweeper   *scheduler.Sweeper
	auth      *auth.Handler
	sessions  *middleware.SessionStore
	mailQueue *queue.Queue
	tasks     TaskStore
	profiles  ProfileStore
}

// NewServer 初始化 HTTP 服务器。
//
// 它负责：
// 1. 连接 MySQL 数据库并执行自动迁移
// 2. 连接 Redis
// 3. 初始化邮件队列、限流器与清理任务
// 4. 初始化 Gin 路由引擎（API + 页面模板）
//
// 参数:
//
//	ctx: 上下文
//	cfg: 配置对象
//	logger: 日志记录器
//
// 返回值:
//
//	*Server: 初始化完成的服务器实例
//	error: 初始化失败返回错误
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.User{}, &model.Profile{}, &model.Task{}); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	metrics.InitMetrics(cfg.App.MailWorkers)

	mailer := notify.NewEmailNotifier(&cfg.Email, logger)
	mailQueue := queue.NewQueue(logger, cfg.App.MailWorkers, cfg.App.MailQueueCap)
	mailQueue.SetErrorHandler(func(err error, job queue.Job) {
		logger.Error("mail job failed", slog.String("error", err.Error()))
	})
	tokens := tokenstore.NewStore(rdb, cfg.Security.ActivationTokenTTL)
	limiter := ratelimit.NewRedisRateLimiter(rdb, logger, "taskhub:resend:", cfg.Security.ResendRate, cfg.Security.ResendBurst)
	sessions := middleware.NewSessionStore(rdb, cfg.Security.SessionTTL)
	sweeper := scheduler.NewSweeper(scheduler.NewGormStore(db), logger, cfg.App.SweepInterval)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.LoadHTMLGlob("web/templates/*.html")

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		rdb:       rdb,
		router:    r,
		sweeper:   sweeper,
		auth:      auth.NewHandler(db, &cfg.Security, cfg.App.BaseURL, mailer, mailQueue, tokens, limiter, logger),
		sessions:  sessions,
		mailQueue: mailQueue,
		tasks:     NewTaskStore(db),
		profiles:  NewProfileStore(db),
	}
	s.registerRoutes()
	return s, nil
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// StartBackground 启动邮件 worker 池与已完成任务清理循环。
func (s *Server) StartBackground(ctx context.Context) {
	s.mailQueue.Start(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("PANIC in sweeper", slog.Any("panic", r))
			}
		}()
		s.sweeper.Run(ctx)
	}()
}

// Close 关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.mailQueue != nil {
		stats := s.mailQueue.GetStats()
		s.logger.Info("mail queue draining",
			slog.Int("pending", s.mailQueue.Len()),
			slog.Int64("enqueued", stats.TotalEnqueued),
			slog.Int64("succeeded", stats.TotalSucceeded),
			slog.Int64("failed", stats.TotalFailed),
			slog.Int64("dropped", stats.TotalDropped))
		if err := s.mailQueue.ShutdownWithTimeout(5 * time.Second); err != nil {
			firstErr = err
		}
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			if closeErr := sqlDB.Close(); closeErr != nil && firstErr == nil {
				firstErr = closeErr
			}
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 与页面路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	api := s.router.Group("/api/v1")
	api.POST("/auth/registration", s.auth.Register)
	api.GET("/auth/activation/confirm/:token", s.auth.Activate)
	api.POST("/auth/activation/resend", s.auth.ResendActivation)
	api.POST("/auth/token/login", s.auth.Login)

	authed := api.Group("/")
	authed.Use(middleware.AuthMiddleware(s.cfg.Security.JWTSecret))
	authed.POST("/auth/token/logout", s.auth.Logout)
	authed.PUT("/auth/change-password", s.auth.ChangePassword)
	authed.GET("/auth/profile", s.auth.GetProfile)
	authed.PUT("/auth/profile", s.auth.UpdateProfile)

	authed.GET("/tasks", s.handleListTasks)
	authed.POST("/tasks", s.handleCreateTask)
	authed.GET("/tasks/:id", s.handleGetTask)
	authed.PUT("/tasks/:id", s.handleUpdateTask)
	authed.PATCH("/tasks/:id", s.handlePatchTask)
	authed.DELETE("/tasks/:id", s.handleDeleteTask)
	authed.POST("/tasks/:id/toggle", s.handleToggleTask)

	s.registerPageRoutes()
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// createTaskRequest 创建任务的请求参数。
//
// owner 不可指定：请求体里出现的任何 user 值都会被直接忽略。
type createTaskRequest struct {
	Title       string `json:"title" binding:"required,max=200"`
	Description string `json:"description"`
	Complete    bool   `json:"complete"`
}

// updateTaskRequest PUT 全量更新的请求参数。
type updateTaskRequest struct {
	Title       string  `json:"title" binding:"required,max=200"`
	Description *string `json:"description"`
	Complete    *bool   `json:"complete"`
}

// patchTaskRequest PATCH 部分更新的请求参数。
type patchTaskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Complete    *bool   `json:"complete"`
}

// taskDetail 详情视图的序列化形式（无 snippet / URL 字段）。
type taskDetail struct {
	ID          uint      `json:"id"`
	User        uint      `json:"user"`
	Description string    `json:"description"`
	Title       string    `json:"title"`
	Complete    bool      `json:"complete"`
	CreatedDate time.Time `json:"created_date"`
	UpdatedDate time.Time `json:"updated_date"`
}

// taskListItem 列表视图的序列化形式（无 description，含摘要与链接）。
//
// 列表/详情的不对称是有意为之：列表不回传完整描述以压缩负载。
type taskListItem struct {
	ID          uint      `json:"id"`
	User        uint      `json:"user"`
	Snippet     string    `json:"snippet"`
	Title       string    `json:"title"`
	Complete    bool      `json:"complete"`
	RelativeURL string    `json:"relative_url"`
	AbsoluteURL string    `json:"absolute_url"`
	CreatedDate time.Time `json:"created_date"`
	UpdatedDate time.Time `json:"updated_date"`
}

// pageLinks 列表信封中的翻页链接，不适用时为 null。
type pageLinks struct {
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
}

// taskListEnvelope API 列表信封。
type taskListEnvelope struct {
	TotalObjects int64          `json:"total_objects"`
	TotalPages   int            `json:"total_pages"`
	Links        pageLinks      `json:"links"`
	Results      []taskListItem `json:"results"`
}

func toTaskDetail(t *model.Task) taskDetail {
	return taskDetail{
		ID:          t.ID,
		User:        t.ProfileID,
		Description: t.Description,
		Title:       t.Title,
		Complete:    t.Complete,
		CreatedDate: t.CreatedDate,
		UpdatedDate: t.UpdatedDate,
	}
}

func (s *Server) toTaskListItem(c *gin.Context, t *model.Task) taskListItem {
	relative := taskRelativeURL(t.ID)
	return taskListItem{
		ID:          t.ID,
		User:        t.ProfileID,
		Snippet:     t.Snippet(),
		Title:       t.Title,
		Complete:    t.Complete,
		RelativeURL: relative,
		AbsoluteURL: requestScheme(c) + "://" + c.Request.Host + relative,
		CreatedDate: t.CreatedDate,
		UpdatedDate: t.UpdatedDate,
	}
}

func taskRelativeURL(id uint) string {
	return fmt.Sprintf("/api/v1/tasks/%d", id)
}

func requestScheme(c *gin.Context) string {
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	if c.Request.TLS != nil {
		return "https"
	}
	return "http"
}

// profileFor 将请求身份解析为 Profile。
//
// 身份尚无 Profile 时返回 (nil, nil)：调用方按"空集合"处理，
// 而不是报错。
func (s *Server) profileFor(c *gin.Context) (*model.Profile, error) {
	userID := uint(c.GetInt("userID"))
	profile, err := s.profiles.GetByUserID(c.Request.Context(), userID)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return profile, nil
}

// handleListTasks 返回调用者归属集合的一页，支持过滤/搜索/排序。
//
// GET /api/v1/tasks?complete=&search=&ordering=&page=
func (s *Server) handleListTasks(c *gin.Context) {
	profile, err := s.profileFor(c)
	if err != nil {
		s.logger.Error("resolve profile failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list tasks failed"})
		return
	}

	q := TaskQuery{
		Search:   c.Query("search"),
		PageSize: s.cfg.App.PageSize,
		Page:     1,
	}
	if raw := c.Query("complete"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid complete filter"})
			return
		}
		q.Complete = &v
	}
	// 未知的排序字段按默认排序处理，不算错误
	switch ordering := c.Query("ordering"); ordering {
	case "created_date", "-created_date":
		q.Ordering = ordering
	default:
		q.Ordering = ""
	}
	if raw := c.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			c.JSON(http.StatusNotFound, gin.H{"error": "invalid page"})
			return
		}
		q.Page = page
	}

	var (
		tasks []model.Task
		total int64
	)
	if profile != nil {
		tasks, total, err = s.tasks.ListFor(c.Request.Context(), profile.ID, q)
		if err != nil {
			s.logger.Error("list tasks failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list tasks failed"})
			return
		}
	}

	totalPages := int(math.Ceil(float64(total) / float64(q.PageSize)))
	if totalPages < 1 {
		totalPages = 1
	}
	if q.Page > totalPages {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid page"})
		return
	}

	results := make([]taskListItem, 0, len(tasks))
	for i := range tasks {
		results = append(results, s.toTaskListItem(c, &tasks[i]))
	}

	c.JSON(http.StatusOK, taskListEnvelope{
		TotalObjects: total,
		TotalPages:   totalPages,
		Links: pageLinks{
			Next:     pageLink(c, q.Page+1, q.Page < totalPages),
			Previous: pageLink(c, q.Page-1, q.Page > 1),
		},
		Results: results,
	})
}

// pageLink 基于当前请求 URL 构造翻页链接；ok 为 false 时返回 nil。
func pageLink(c *gin.Context, page int, ok bool) *string {
	if !ok {
		return nil
	}
	u := *c.Request.URL
	values := u.Query()
	values.Set("page", strconv.Itoa(page))
	u.RawQuery = values.Encode()
	link := requestScheme(c) + "://" + c.Request.Host + u.String()
	return &link
}

// handleCreateTask 创建任务，owner 强制为调用者的 Profile。
//
// POST /api/v1/tasks
func (s *Server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	profile, err := s.profileFor(c)
	if err != nil {
		s.logger.Error("resolve profile failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create task failed"})
		return
	}
	if profile == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}

	task := model.Task{
		ProfileID:   profile.ID,
		Title:       req.Title,
		Description: req.Description,
		Complete:    req.Complete,
	}
	if err := s.tasks.Create(c.Request.Context(), &task); err != nil {
		s.logger.Error("create task failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create task failed"})
		return
	}

	metrics.TasksCreatedTotal.Inc()
	c.JSON(http.StatusCreated, toTaskDetail(&task))
}

// handleGetTask 返回归属集合内的单条任务。
//
// GET /api/v1/tasks/:id
func (s *Server) handleGetTask(c *gin.Context) {
	profile, taskID, ok := s.scopedTarget(c)
	if !ok {
		return
	}

	task, err := s.tasks.GetFor(c.Request.Context(), profile.ID, taskID)
	if err != nil {
		s.respondTaskError(c, err, "get task failed")
		return
	}
	c.JSON(http.StatusOK, toTaskDetail(task))
}

// handleUpdateTask PUT 全量更新。
func (s *Server) handleUpdateTask(c *gin.Context) {
	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{
		"title": req.Title,
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Complete != nil {
		updates["complete"] = *req.Complete
	}
	s.applyTaskUpdate(c, updates)
}

// handlePatchTask PATCH 部分更新；owner 不在可更新字段之列。
func (s *Server) handlePatchTask(c *gin.Context) {
	var req patchTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		if *req.Title == "" || len(*req.Title) > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid title"})
			return
		}
		updates["title"] = *req.Title
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Complete != nil {
		updates["complete"] = *req.Complete
	}
	s.applyTaskUpdate(c, updates)
}

func (s *Server) applyTaskUpdate(c *gin.Context, updates map[string]interface{}) {
	profile, taskID, ok := s.scopedTarget(c)
	if !ok {
		return
	}

	task, err := s.tasks.UpdateFor(c.Request.Context(), profile.ID, taskID, updates)
	if err != nil {
		s.respondTaskError(c, err, "update task failed")
		return
	}
	c.JSON(http.StatusOK, toTaskDetail(task))
}

// handleDeleteTask 删除归属集合内的任务。
//
// 对同一 id 的第二次删除返回 not found（记录已不存在），不是重复成功。
func (s *Server) handleDeleteTask(c *gin.Context) {
	profile, taskID, ok := s.scopedTarget(c)
	if !ok {
		return
	}

	deleted, err := s.tasks.DeleteFor(c.Request.Context(), profile.ID, taskID)
	if err != nil {
		s.logger.Error("delete task failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete task failed"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}

	metrics.TasksDeletedTotal.Inc()
	c.JSON(http.StatusOK, gin.H{"deleted": taskID})
}

// handleToggleTask 翻转完成标记。
//
// POST /api/v1/tasks/:id/toggle
func (s *Server) handleToggleTask(c *gin.Context) {
	profile, taskID, ok := s.scopedTarget(c)
	if !ok {
		return
	}

	task, err := s.tasks.ToggleFor(c.Request.Context(), profile.ID, taskID)
	if err != nil {
		s.respondTaskError(c, err, "toggle task failed")
		return
	}

	metrics.TasksToggledTotal.Inc()
	c.JSON(http.StatusOK, toTaskDetail(task))
}

// scopedTarget 解析路径中的任务 id 并定位调用者的 Profile。
//
// Profile 不存在时按"范围之外"处理：目标记录一律 not found。
func (s *Server) scopedTarget(c *gin.Context) (*model.Profile, uint, bool) {
	taskID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return nil, 0, false
	}

	profile, err := s.profileFor(c)
	if err != nil {
		s.logger.Error("resolve profile failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return nil, 0, false
	}
	if profile == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return nil, 0, false
	}
	return profile, uint(taskID), true
}

// respondTaskError 将 store 错误转换为响应。
//
// 范围外与不存在统一映射为 404，不暴露"存在但属于他人"。
func (s *Server) respondTaskError(c *gin.Context, err error, logMsg string) {
	if IsNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	s.logger.Error(logMsg, slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, gin.H{"error": logMsg})
}
