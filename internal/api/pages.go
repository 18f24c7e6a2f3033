package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"taskhub/internal/api/auth"
	"taskhub/internal/api/middleware"
	"taskhub/internal/model"
	"taskhub/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// registerPageRoutes 注册服务端渲染页面的路由。
//
// 页面与 API 是两个平行界面，走同一套归属范围存储；
// 未登录的页面访问重定向到 /login 而不是返回 JSON。
func (s *Server) registerPageRoutes() {
	s.router.GET("/login", s.pageLoginForm)
	s.router.POST("/login", s.pageLogin)
	s.router.GET("/register", s.pageRegisterForm)
	s.router.POST("/register", s.pageRegister)

	pages := s.router.Group("/")
	pages.Use(middleware.SessionMiddleware(s.sessions))
	pages.GET("/", s.pageTaskList)
	pages.GET("/create", s.pageTaskCreateForm)
	pages.POST("/create", s.pageTaskCreate)
	pages.GET("/detail/:id", s.pageTaskDetail)
	pages.GET("/edit/:id", s.pageTaskEditForm)
	pages.POST("/edit/:id", s.pageTaskEdit)
	// GET 删除按 POST 处理，允许链接直接删除
	pages.GET("/delete/:id", s.pageTaskDelete)
	pages.POST("/delete/:id", s.pageTaskDelete)
	pages.POST("/toggle/:id", s.pageTaskToggle)
	pages.GET("/logout", s.pageLogout)
	pages.GET("/profile", s.pageProfile)
}

func (s *Server) pageLoginForm(c *gin.Context) {
	c.HTML(http.StatusOK, "login.html", gin.H{})
}

func (s *Server) pageLogin(c *gin.Context) {
	email := c.PostForm("email")
	password := c.PostForm("password")

	user, err := s.auth.Authenticate(c.Request.Context(), email, password)
	if err != nil {
		msg := "invalid credentials"
		if errors.Is(err, auth.ErrNotVerified) {
			msg = "account is not verified"
		}
		c.HTML(http.StatusUnauthorized, "login.html", gin.H{"Error": msg, "Email": email})
		return
	}

	sid, err := s.sessions.Create(c.Request.Context(), user.ID)
	if err != nil {
		s.logger.Error("create session failed", slog.String("error", err.Error()))
		c.HTML(http.StatusInternalServerError, "login.html", gin.H{"Error": "login failed"})
		return
	}

	c.SetCookie(middleware.SessionCookieName, sid, int(s.sessions.TTL().Seconds()), "/", "", false, true)
	c.Redirect(http.StatusFound, "/")
}

func (s *Server) pageRegisterForm(c *gin.Context) {
	c.HTML(http.StatusOK, "register.html", gin.H{})
}

func (s *Server) pageRegister(c *gin.Context) {
	email := strings.TrimSpace(c.PostForm("email"))
	password := c.PostForm("password")
	password1 := c.PostForm("password1")

	if email == "" {
		c.HTML(http.StatusBadRequest, "register.html", gin.H{"Error": "email is required"})
		return
	}

	_, err := s.auth.RegisterAccount(c.Request.Context(), email, password, password1)
	if err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, auth.ErrEmailTaken) && !errors.Is(err, auth.ErrPasswordMismatch) && !errors.Is(err, auth.ErrWeakPassword) {
			status = http.StatusInternalServerError
		}
		c.HTML(status, "register.html", gin.H{"Error": err.Error(), "Email": email})
		return
	}

	c.HTML(http.StatusOK, "login.html", gin.H{"Notice": "check your inbox to activate your account"})
}

func (s *Server) pageLogout(c *gin.Context) {
	if sid, err := c.Cookie(middleware.SessionCookieName); err == nil {
		_ = s.sessions.Destroy(c.Request.Context(), sid)
	}
	c.SetCookie(middleware.SessionCookieName, "", -1, "/", "", false, true)
	c.Redirect(http.StatusFound, "/login")
}

// pageTaskList 展示调用者的完整归属集合（页面不分页、不过滤）。
func (s *Server) pageTaskList(c *gin.Context) {
	profile, err := s.profileFor(c)
	if err != nil {
		s.pageError(c, err)
		return
	}

	tasks := []model.Task{}
	if profile != nil {
		tasks, err = s.tasks.AllFor(c.Request.Context(), profile.ID)
		if err != nil {
			s.pageError(c, err)
			return
		}
	}

	c.HTML(http.StatusOK, "todo_list.html", gin.H{"Tasks": tasks})
}

func (s *Server) pageTaskCreateForm(c *gin.Context) {
	c.HTML(http.StatusOK, "todo_create.html", gin.H{})
}

func (s *Server) pageTaskCreate(c *gin.Context) {
	title := strings.TrimSpace(c.PostForm("title"))
	description := c.PostForm("description")

	if title == "" || len(title) > 200 {
		c.HTML(http.StatusBadRequest, "todo_create.html", gin.H{
			"Error":       "title is required",
			"Description": description,
		})
		return
	}

	profile, err := s.profileFor(c)
	if err != nil {
		s.pageError(c, err)
		return
	}
	if profile == nil {
		s.pageNotFound(c)
		return
	}

	task := model.Task{
		ProfileID:   profile.ID,
		Title:       title,
		Description: description,
	}
	if err := s.tasks.Create(c.Request.Context(), &task); err != nil {
		s.pageError(c, err)
		return
	}

	metrics.TasksCreatedTotal.Inc()
	c.Redirect(http.StatusFound, "/")
}

func (s *Server) pageTaskDetail(c *gin.Context) {
	profile, taskID, ok := s.pageScopedTarget(c)
	if !ok {
		return
	}

	task, err := s.tasks.GetFor(c.Request.Context(), profile.ID, taskID)
	if err != nil {
		s.pageNotFoundOrError(c, err)
		return
	}
	c.HTML(http.StatusOK, "todo_detail.html", gin.H{"Task": task})
}

func (s *Server) pageTaskEditForm(c *gin.Context) {
	profile, taskID, ok := s.pageScopedTarget(c)
	if !ok {
		return
	}

	task, err := s.tasks.GetFor(c.Request.Context(), profile.ID, taskID)
	if err != nil {
		s.pageNotFoundOrError(c, err)
		return
	}
	c.HTML(http.StatusOK, "todo_edit.html", gin.H{"Task": task})
}

func (s *Server) pageTaskEdit(c *gin.Context) {
	profile, taskID, ok := s.pageScopedTarget(c)
	if !ok {
		return
	}

	title := strings.TrimSpace(c.PostForm("title"))
	description := c.PostForm("description")
	if title == "" || len(title) > 200 {
		task, err := s.tasks.GetFor(c.Request.Context(), profile.ID, taskID)
		if err != nil {
			s.pageNotFoundOrError(c, err)
			return
		}
		c.HTML(http.StatusBadRequest, "todo_edit.html", gin.H{"Task": task, "Error": "title is required"})
		return
	}

	updates := map[string]interface{}{
		"title":       title,
		"description": description,
	}
	if _, err := s.tasks.UpdateFor(c.Request.Context(), profile.ID, taskID, updates); err != nil {
		s.pageNotFoundOrError(c, err)
		return
	}
	c.Redirect(http.StatusFound, "/")
}

func (s *Server) pageTaskDelete(c *gin.Context) {
	profile, taskID, ok := s.pageScopedTarget(c)
	if !ok {
		return
	}

	deleted, err := s.tasks.DeleteFor(c.Request.Context(), profile.ID, taskID)
	if err != nil {
		s.pageError(c, err)
		return
	}
	if !deleted {
		s.pageNotFound(c)
		return
	}

	metrics.TasksDeletedTotal.Inc()
	c.Redirect(http.StatusFound, "/")
}

func (s *Server) pageTaskToggle(c *gin.Context) {
	profile, taskID, ok := s.pageScopedTarget(c)
	if !ok {
		return
	}

	if _, err := s.tasks.ToggleFor(c.Request.Context(), profile.ID, taskID); err != nil {
		s.pageNotFoundOrError(c, err)
		return
	}

	metrics.TasksToggledTotal.Inc()
	c.Redirect(http.StatusFound, "/")
}

// pageProfile 资料摘要页：资料字段 + 归属集合的任务计数。
func (s *Server) pageProfile(c *gin.Context) {
	userID := uint(c.GetInt("userID"))
	profile, err := s.profiles.GetByUserID(c.Request.Context(), userID)
	if err != nil {
		s.pageNotFoundOrError(c, err)
		return
	}

	stats, err := s.tasks.StatsFor(c.Request.Context(), profile.ID)
	if err != nil {
		s.pageError(c, err)
		return
	}

	c.HTML(http.StatusOK, "profile.html", gin.H{
		"Profile":        profile,
		"TotalTasks":     stats.Total,
		"CompletedTasks": stats.Completed,
		"PendingTasks":   stats.Pending,
	})
}

func parseUintParam(c *gin.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(c.Param(name), 10, 32)
	return uint(v), err
}

// pageScopedTarget 解析路径 id 并定位调用者 Profile；失败时已渲染响应。
func (s *Server) pageScopedTarget(c *gin.Context) (*model.Profile, uint, bool) {
	taskID, err := parseUintParam(c, "id")
	if err != nil {
		s.pageNotFound(c)
		return nil, 0, false
	}

	profile, err := s.profileFor(c)
	if err != nil {
		s.pageError(c, err)
		return nil, 0, false
	}
	if profile == nil {
		s.pageNotFound(c)
		return nil, 0, false
	}
	return profile, taskID, true
}

func (s *Server) pageNotFoundOrError(c *gin.Context, err error) {
	if IsNotFound(err) {
		s.pageNotFound(c)
		return
	}
	s.pageError(c, err)
}

func (s *Server) pageNotFound(c *gin.Context) {
	c.HTML(http.StatusNotFound, "404.html", gin.H{})
}

func (s *Server) pageError(c *gin.Context, err error) {
	if err != nil {
		s.logger.Error("page request failed", slog.String("error", err.Error()))
	}
	c.HTML(http.StatusInternalServerError, "500.html", gin.H{})
}
