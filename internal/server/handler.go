package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/LikhitaMagar01/Zync/internal/auth"
	"github.com/LikhitaMagar01/Zync/internal/config"
	"github.com/LikhitaMagar01/Zync/internal/googleauth"
	"github.com/LikhitaMagar01/Zync/internal/models"
	"github.com/LikhitaMagar01/Zync/internal/registry"
	"github.com/LikhitaMagar01/Zync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层和连接注册表。
type Handler struct {
	cfg     config.Config
	userSvc *service.UserService
	msgSvc  *service.MessageService
	chatSvc *service.ChatService
	reg     *registry.Registry
	google  *googleauth.Provider
}

func NewHandler(cfg config.Config, userSvc *service.UserService, msgSvc *service.MessageService, chatSvc *service.ChatService, reg *registry.Registry, google *googleauth.Provider) *Handler {
	return &Handler{cfg: cfg, userSvc: userSvc, msgSvc: msgSvc, chatSvc: chatSvc, reg: reg, google: google}
}

func (h *Handler) secureCookies() bool { return h.cfg.Env != "dev" }

var (
	usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)
	emailRe    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	pwLowerRe  = regexp.MustCompile(`[a-z]`)
	pwUpperRe  = regexp.MustCompile(`[A-Z]`)
	pwDigitRe  = regexp.MustCompile(`\d`)
)

func validPassword(pw string) bool {
	return len(pw) >= 8 && len(pw) <= 128 &&
		pwLowerRe.MatchString(pw) && pwUpperRe.MatchString(pw) && pwDigitRe.MatchString(pw)
}

func profileJSON(u models.User) gin.H {
	return gin.H{
		"id":        u.ID,
		"username":  u.Username,
		"email":     u.Email,
		"firstName": u.FirstName,
		"lastName":  u.LastName,
		"avatar":    u.Avatar,
	}
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if !usernameRe.MatchString(req.Username) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username must be 3-20 letters, numbers or underscores"})
		return
	}
	if !emailRe.MatchString(req.Email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email address"})
		return
	}
	if !validPassword(req.Password) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 8 characters with lower, upper and digit"})
		return
	}
	user, err := h.userSvc.Register(req.Username, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "user with this email already exists"})
		case errors.Is(err, service.ErrUsernameTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "username is already taken"})
		default:
			log.Error().Err(err).Str("username", req.Username).Msg("register")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "user registered successfully", "userId": user.ID})
}

// Login 处理密码登录，成功时写入 token cookie 对。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Login(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
			return
		}
		log.Error().Err(err).Str("email", req.Email).Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	auth.SetAuthCookies(c, result.AccessToken, result.RefreshToken, h.secureCookies())
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "login successful", "user": profileJSON(result.User)})
}

// Refresh 处理 token 轮换。三类 401 分别对应缺 cookie、签名/类型不合法、
// id 已不在持久化集合里（被撤销或已被轮换掉）。
func (h *Handler) Refresh(c *gin.Context) {
	raw, err := c.Cookie(auth.RefreshTokenCookie)
	if err != nil || raw == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no refresh token provided"})
		return
	}
	result, err := h.userSvc.Refresh(raw)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRefreshInvalid):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		case errors.Is(err, service.ErrRefreshRevoked):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token not found or expired"})
		default:
			log.Error().Err(err).Msg("refresh")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token refresh failed"})
		}
		return
	}
	auth.SetAuthCookies(c, result.AccessToken, result.RefreshToken, h.secureCookies())
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "tokens refreshed successfully", "user": profileJSON(result.User)})
}

// Logout 撤销当前 refresh token 并清 cookie。尽力而为，总是 200。
func (h *Handler) Logout(c *gin.Context) {
	if raw, err := c.Cookie(auth.RefreshTokenCookie); err == nil && raw != "" {
		h.userSvc.Logout(raw)
	}
	auth.ClearAuthCookies(c, h.secureCookies())
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "logged out successfully"})
}

// Profile 返回当前登录用户的资料。
func (h *Handler) Profile(c *gin.Context) {
	user, err := h.userSvc.GetByID(auth.GetUserID(c))
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		log.Error().Err(err).Uint("user_id", auth.GetUserID(c)).Msg("profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get user profile"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": profileJSON(*user)})
}

// GoogleRedirect 把用户送往 Google 同意页。
func (h *Handler) GoogleRedirect(c *gin.Context) {
	flow := c.DefaultQuery("flow", "signin")
	selectAccount := c.Query("select_account") == "true"
	url, err := h.google.AuthCodeURL(flow, selectAccount)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "google oauth not configured"})
		return
	}
	c.Redirect(http.StatusFound, url)
}

func (h *Handler) oauthFail(c *gin.Context, reason string) {
	c.Redirect(http.StatusFound, h.cfg.OAuthFailureRedirect+"?error="+reason)
}

// GoogleCallback 处理授权码回调：换 token、拉资料、找到或创建用户、签发
// 自己的 token 对。所有失败都带着 error 参数跳回登录页。
func (h *Handler) GoogleCallback(c *gin.Context) {
	if c.Query("error") != "" {
		log.Warn().Str("error", c.Query("error")).Msg("google oauth denied")
		h.oauthFail(c, "oauth_error")
		return
	}
	code := c.Query("code")
	if code == "" {
		h.oauthFail(c, "missing_code")
		return
	}

	info, err := h.google.FetchUser(c.Request.Context(), code)
	if err != nil {
		log.Warn().Err(err).Msg("google oauth exchange")
		h.oauthFail(c, "token_error")
		return
	}

	user, err := h.userSvc.FindByEmail(strings.ToLower(info.Email))
	switch {
	case err == nil:
		if !user.IsGoogleUser {
			if err := h.userSvc.LinkGoogle(user, info.ID, info.Picture); err != nil {
				log.Error().Err(err).Uint("user_id", user.ID).Msg("link google account")
			}
		}
	case errors.Is(err, service.ErrUserNotFound):
		username := googleUsername(info.Email)
		user, err = h.userSvc.CreateGoogleUser(username, strings.ToLower(info.Email), info.GivenName, info.FamilyName, info.Picture, info.ID)
		if err != nil {
			log.Error().Err(err).Str("email", info.Email).Msg("create google user")
			h.oauthFail(c, "user_error")
			return
		}
	default:
		log.Error().Err(err).Msg("google oauth lookup")
		h.oauthFail(c, "database_error")
		return
	}

	result, err := h.userSvc.IssueTokenPair(user)
	if err != nil {
		log.Error().Err(err).Uint("user_id", user.ID).Msg("google oauth issue tokens")
		h.oauthFail(c, "token_error")
		return
	}
	auth.SetAuthCookies(c, result.AccessToken, result.RefreshToken, h.secureCookies())
	c.Redirect(http.StatusFound, h.cfg.OAuthSuccessRedirect)
}

// googleUsername 用邮箱前缀加 4 位随机后缀生成不易撞车的用户名。
func googleUsername(email string) string {
	prefix := strings.SplitN(email, "@", 2)[0]
	b := make([]byte, 2)
	rand.Read(b)
	return prefix + "_" + hex.EncodeToString(b)
}

// GoogleStatus 自检 OAuth 配置，前端据此决定是否展示 Google 登录按钮。
func (h *Handler) GoogleStatus(c *gin.Context) {
	configured := h.google.Configured()
	msg := "google oauth is properly configured"
	if !configured {
		msg = "google oauth is not configured, set GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET"
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"configured":  configured,
		"redirectUri": h.google.RedirectURI(),
		"message":     msg,
	})
}

// senderID 按优先级解析发送方：已认证的 access token、X-User-Id 头、请求体。
func (h *Handler) senderID(c *gin.Context, bodySender uint) uint {
	if tokenStr, err := c.Cookie(auth.AccessTokenCookie); err == nil && tokenStr != "" {
		if claims, err := auth.ParseAccessToken(tokenStr, h.cfg.JWTSecret); err == nil {
			return claims.UserID
		}
	}
	if hdr := c.GetHeader("X-User-Id"); hdr != "" {
		if v, err := strconv.ParseUint(hdr, 10, 64); err == nil {
			return uint(v)
		}
	}
	return bodySender
}

// SendMessage 接收一条消息：落库尽力而为，实时投递或排队总是进行。
func (h *Handler) SendMessage(c *gin.Context) {
	var req struct {
		ChatID     string `json:"chatId"`
		ReceiverID uint   `json:"receiverId"`
		SenderID   uint   `json:"senderId"`
		Content    string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if req.ChatID == "" || req.ReceiverID == 0 || len(req.Content) == 0 || len(req.Content) > 1000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	sender := h.senderID(c, req.SenderID)
	dto := h.msgSvc.Send(req.ChatID, sender, req.ReceiverID, req.Content)
	c.JSON(http.StatusOK, gin.H{"success": true, "data": dto})
}

// History 返回会话最近的消息，升序。
func (h *Handler) History(c *gin.Context) {
	chatID := c.Param("chatId")
	if chatID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chat id is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	msgs, err := h.msgSvc.History(chatID, limit)
	if err != nil {
		log.Error().Err(err).Str("chat_id", chatID).Msg("message history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": msgs, "count": len(msgs)})
}

// ScheduleMessage 登记定时消息，由调度器到点投递。
func (h *Handler) ScheduleMessage(c *gin.Context) {
	var req struct {
		ChatID       string    `json:"chatId"`
		ReceiverID   uint      `json:"receiverId"`
		Content      string    `json:"content"`
		ScheduledFor time.Time `json:"scheduledFor"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if req.ChatID == "" || req.ReceiverID == 0 || len(req.Content) == 0 || len(req.Content) > 1000 || req.ScheduledFor.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	sm, err := h.msgSvc.Schedule(req.ChatID, auth.GetUserID(c), req.ReceiverID, req.Content, req.ScheduledFor)
	if err != nil {
		log.Error().Err(err).Str("chat_id", req.ChatID).Msg("schedule message")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to schedule message"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"id": sm.ID, "scheduledFor": sm.ScheduledFor}})
}

// CreateChat 创建会话。
func (h *Handler) CreateChat(c *gin.Context) {
	var req struct {
		Name         string `json:"name"`
		Type         string `json:"type"`
		Participants []uint `json:"participants"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if req.Type == "" {
		req.Type = "private"
	}
	chat, err := h.chatSvc.Create(req.Name, req.Type, req.Participants, auth.GetUserID(c))
	if err != nil {
		log.Error().Err(err).Uint("user_id", auth.GetUserID(c)).Msg("create chat")
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to create chat"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": chat})
}

// ListChats 返回当前用户参与的会话。
func (h *Handler) ListChats(c *gin.Context) {
	chats, err := h.chatSvc.ListForUser(auth.GetUserID(c))
	if err != nil {
		log.Error().Err(err).Uint("user_id", auth.GetUserID(c)).Msg("list chats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list chats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": chats})
}

// SearchUsers 搜索用户并附带尽力而为的在线状态。
func (h *Handler) SearchUsers(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "search query is required"})
		return
	}
	users, err := h.userSvc.Search(q, 20)
	if err != nil {
		log.Error().Err(err).Str("q", q).Msg("search users")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to search users"})
		return
	}
	type userDTO struct {
		ID        uint   `json:"id"`
		Username  string `json:"username"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Email     string `json:"email"`
		Bio       string `json:"bio"`
		IsOnline  bool   `json:"isOnline"`
	}
	out := make([]userDTO, 0, len(users))
	for _, u := range users {
		out = append(out, userDTO{
			ID:        u.ID,
			Username:  u.Username,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Email:     u.Email,
			Bio:       u.Bio,
			IsOnline:  h.reg.Active(u.ID),
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": out, "count": len(out)})
}

// GetUser 返回单个用户的公开资料。
func (h *Handler) GetUser(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	user, err := h.userSvc.GetByID(uint(id))
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		log.Error().Err(err).Uint64("user_id", id).Msg("get user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": profileJSON(*user)})
}
