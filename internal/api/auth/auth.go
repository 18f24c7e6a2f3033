package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"taskhub/internal/config"
	"taskhub/internal/model"
	"taskhub/internal/pkg/metrics"
	"taskhub/internal/pkg/notify"
	"taskhub/internal/pkg/queue"
	"taskhub/internal/pkg/ratelimit"
	"taskhub/internal/pkg/tokenstore"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// 账户流程的领域错误，由 JSON 处理器和页面处理器共同消费。
var (
	ErrEmailTaken         = errors.New("email already exists")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrWeakPassword       = errors.New("password too weak")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotVerified        = errors.New("account is not verified")
	ErrWrongPassword      = errors.New("wrong password")
	ErrAlreadyVerified    = errors.New("already verified")
)

// Handler 提供注册、激活、登录、改密与资料接口。
type Handler struct {
	db        *gorm.DB
	users     UserStore
	jwtSecret []byte
	sec       *config.SecurityConfig
	baseURL   string
	mailer    notify.Notifier
	mailQueue *queue.Queue
	tokens    *tokenstore.Store
	limiter   *ratelimit.RateLimiter
	logger    *slog.Logger
}

// NewHandler 创建 Auth Handler。
func NewHandler(db *gorm.DB, sec *config.SecurityConfig, baseURL string, mailer notify.Notifier, mailQueue *queue.Queue, tokens *tokenstore.Store, limiter *ratelimit.RateLimiter, logger *slog.Logger) *Handler {
	return &Handler{
		db:        db,
		users:     NewUserStore(db),
		jwtSecret: []byte(sec.JWTSecret),
		sec:       sec,
		baseURL:   strings.TrimRight(baseURL, "/"),
		mailer:    mailer,
		mailQueue: mailQueue,
		tokens:    tokens,
		limiter:   limiter,
		logger:    logger,
	}
}

type registerRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required"`
	Password1 string `json:"password1" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type changePasswordRequest struct {
	OldPassword  string `json:"old_password" binding:"required"`
	NewPassword  string `json:"new_password" binding:"required"`
	NewPassword1 string `json:"new_password1" binding:"required"`
}

type resendRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type tokenResponse struct {
	Token  string `json:"token"`
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
}

type profileResponse struct {
	ID          uint   `json:"id"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Image       string `json:"image"`
	Description string `json:"description"`
}

type updateProfileRequest struct {
	FirstName   *string `json:"first_name"`
	LastName    *string `json:"last_name"`
	Image       *string `json:"image"`
	Description *string `json:"description"`
}

// activationClaims 激活令牌载荷：sub=用户 ID，jti 保证单次使用。
type activationClaims struct {
	jwt.RegisteredClaims
	Purpose string `json:"purpose"`
}

const activationPurpose = "activation"

// Register 创建新账户（未验证）并发送激活邮件。
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.RegisterAccount(c.Request.Context(), req.Email, req.Password, req.Password1)
	switch {
	case errors.Is(err, ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": ErrEmailTaken.Error()})
		return
	case errors.Is(err, ErrPasswordMismatch), errors.Is(err, ErrWeakPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("register failed", slog.String("email", req.Email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create user failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"email": user.Email, "message": "activation email sent"})
}

// RegisterAccount 执行注册：同一事务内创建 User 与 Profile，随后
// 异步发送激活邮件。已注册未激活的邮箱会重新收到激活邮件而不是报错。
func (h *Handler) RegisterAccount(ctx context.Context, email, password, password1 string) (*model.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if password != password1 {
		return nil, ErrPasswordMismatch
	}
	if err := h.validatePasswordStrength(password); err != nil {
		return nil, err
	}

	existing, err := h.users.GetByEmail(ctx, email)
	if err == nil {
		if existing.IsVerified {
			return nil, ErrEmailTaken
		}
		// 未激活的重复注册：重发激活邮件
		h.sendActivationEmail(existing)
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("query user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := model.User{
		Email:    email,
		Password: string(hash),
	}
	txErr := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		profile := model.Profile{UserID: user.ID}
		return tx.Create(&profile).Error
	})
	if txErr != nil {
		return nil, fmt.Errorf("create account: %w", txErr)
	}

	metrics.UsersRegisteredTotal.Inc()
	h.logger.Info("user registered", slog.String("email", email))
	h.sendActivationEmail(&user)
	return &user, nil
}

// Activate 消费激活令牌并将账户置为已验证。
//
// GET /activation/confirm/:token
func (h *Handler) Activate(c *gin.Context) {
	tokenStr := c.Param("token")

	claims := &activationClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return h.jwtSecret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "token has been expired"})
		return
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is not valid"})
		return
	}
	if claims.Purpose != activationPurpose || claims.Subject == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is not valid"})
		return
	}

	uid, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is not valid"})
		return
	}

	user, err := h.users.GetByID(c.Request.Context(), uint(uid))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user not found"})
		return
	}
	if user.IsVerified {
		c.JSON(http.StatusOK, gin.H{"message": "your account has already been verified"})
		return
	}

	if h.tokens != nil && claims.ID != "" {
		first, err := h.tokens.Consume(c.Request.Context(), claims.ID)
		if err != nil {
			h.logger.Error("consume activation token failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "activation failed"})
			return
		}
		if !first {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token is not valid"})
			return
		}
	}

	if err := h.users.SetVerified(c.Request.Context(), user.ID); err != nil {
		h.logger.Error("activate failed", slog.String("email", user.Email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "activation failed"})
		return
	}

	metrics.UsersActivatedTotal.Inc()
	h.logger.Info("account activated", slog.String("email", user.Email))
	c.JSON(http.StatusOK, gin.H{"message": "your account has been verified and activated successfully"})
}

// ResendActivation 重新发送激活邮件（按邮箱限流）。
func (h *Handler) ResendActivation(c *gin.Context) {
	var req resendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))

	user, err := h.users.GetByEmail(c.Request.Context(), email)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email not found"})
		return
	}
	if user.IsVerified {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrAlreadyVerified.Error()})
		return
	}

	if h.limiter != nil {
		allowed, wait, err := h.limiter.Allow(c.Request.Context(), email)
		if err != nil {
			h.logger.Warn("resend ratelimit failed", slog.String("error", err.Error()))
		} else if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"retry_after": int(wait.Seconds()),
			})
			return
		}
	}

	h.sendActivationEmail(user)
	c.JSON(http.StatusOK, gin.H{"message": "activation email sent"})
}

// Login 校验账户并返回 JWT。未激活账户即使密码正确也会被拒绝。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.Authenticate(c.Request.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, ErrNotVerified):
		c.JSON(http.StatusForbidden, gin.H{"error": ErrNotVerified.Error()})
		return
	case errors.Is(err, ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": ErrInvalidCredentials.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	token, err := h.IssueToken(user.ID)
	if err != nil {
		h.logger.Error("sign token failed", slog.String("email", user.Email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}

	h.logger.Info("user logged in", slog.String("email", user.Email))
	c.JSON(http.StatusOK, tokenResponse{Token: token, UserID: user.ID, Email: user.Email})
}

// Authenticate 校验邮箱与密码。
//
// 未知邮箱和错误密码返回同一个 ErrInvalidCredentials；
// 密码正确但未激活返回 ErrNotVerified（独立的结果）。
func (h *Handler) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	user, err := h.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsVerified {
		return nil, ErrNotVerified
	}
	return user, nil
}

// Logout 处理注销请求（API 令牌无状态，直接返回成功）。
func (h *Handler) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// ChangePassword 修改密码，要求先验证当前密码。
//
// PUT /change-password
func (h *Handler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := uint(c.GetInt("userID"))

	var user model.User
	if err := h.db.WithContext(c.Request.Context()).First(&user, userID).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.OldPassword)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrWrongPassword.Error()})
		return
	}
	if req.NewPassword != req.NewPassword1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrPasswordMismatch.Error()})
		return
	}
	if err := h.validatePasswordStrength(req.NewPassword); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}
	if err := h.db.WithContext(c.Request.Context()).Model(&user).Update("password", string(hash)).Error; err != nil {
		h.logger.Error("change password failed", slog.String("email", user.Email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "change password failed"})
		return
	}

	h.logger.Info("password changed", slog.String("email", user.Email))
	h.enqueueMail(func(ctx context.Context) error {
		return h.mailer.SendPasswordChanged(user.Email)
	})
	c.JSON(http.StatusOK, gin.H{"message": "password changed successfully"})
}

// GetProfile 返回当前用户的资料。
func (h *Handler) GetProfile(c *gin.Context) {
	userID := uint(c.GetInt("userID"))

	profile, user, err := h.loadProfile(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	c.JSON(http.StatusOK, toProfileResponse(profile, user))
}

// UpdateProfile 更新当前用户的资料字段，邮箱只读。
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := uint(c.GetInt("userID"))

	profile, user, err := h.loadProfile(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}

	updates := map[string]interface{}{}
	if req.FirstName != nil {
		updates["first_name"] = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		updates["last_name"] = strings.TrimSpace(*req.LastName)
	}
	if req.Image != nil {
		updates["image"] = strings.TrimSpace(*req.Image)
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}

	if len(updates) > 0 {
		if err := h.db.WithContext(c.Request.Context()).Model(profile).Updates(updates).Error; err != nil {
			h.logger.Error("update profile failed", slog.String("email", user.Email), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update profile failed"})
			return
		}
	}

	c.JSON(http.StatusOK, toProfileResponse(profile, user))
}

func (h *Handler) loadProfile(ctx context.Context, userID uint) (*model.Profile, *model.User, error) {
	var profile model.Profile
	if err := h.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		return nil, nil, err
	}
	var user model.User
	if err := h.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, nil, err
	}
	return &profile, &user, nil
}

func toProfileResponse(profile *model.Profile, user *model.User) profileResponse {
	return profileResponse{
		ID:          profile.ID,
		Email:       user.Email,
		FirstName:   profile.FirstName,
		LastName:    profile.LastName,
		Image:       profile.Image,
		Description: profile.Description,
	}
}

// IssueToken 为用户签发登录 JWT。
func (h *Handler) IssueToken(userID uint) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(userID), 10),
		ExpiresAt: jwt.NewNumericDate(now.Add(h.sec.TokenTTL)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.jwtSecret)
}

// issueActivationToken 签发单次使用的激活令牌。
func (h *Handler) issueActivationToken(userID uint) (string, error) {
	now := time.Now()
	claims := activationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(h.sec.ActivationTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Purpose: activationPurpose,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.jwtSecret)
}

// sendActivationEmail 签发激活令牌并异步投递邮件。
func (h *Handler) sendActivationEmail(user *model.User) {
	token, err := h.issueActivationToken(user.ID)
	if err != nil {
		h.logger.Error("sign activation token failed", slog.String("email", user.Email), slog.String("error", err.Error()))
		return
	}
	link := h.baseURL + "/api/v1/auth/activation/confirm/" + token
	email := user.Email
	h.enqueueMail(func(ctx context.Context) error {
		return h.mailer.SendActivationLink(email, link)
	})
}

func (h *Handler) enqueueMail(job queue.Job) {
	if h.mailer == nil {
		return
	}
	if h.mailQueue == nil {
		// 无队列时同步发送（测试等场景）
		if err := job(context.Background()); err != nil {
			h.logger.Warn("send mail failed", slog.String("error", err.Error()))
		}
		return
	}
	if !h.mailQueue.Enqueue(job) {
		h.logger.Warn("mail queue full, mail dropped")
	}
}

// validatePasswordStrength 检查密码强度：最小长度且同时包含字母与数字。
func (h *Handler) validatePasswordStrength(password string) error {
	minLen := h.sec.PasswordMinLen
	if minLen <= 0 {
		minLen = 8
	}
	if len(password) < minLen {
		return fmt.Errorf("%w: at least %d characters required", ErrWeakPassword, minLen)
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return fmt.Errorf("%w: must contain letters and digits", ErrWeakPassword)
	}
	return nil
}
