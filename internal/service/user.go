package service

import (
	"errors"
	"time"

	"github.com/LikhitaMagar01/Zync/internal/auth"
	"github.com/LikhitaMagar01/Zync/internal/config"
	"github.com/LikhitaMagar01/Zync/internal/metrics"
	"github.com/LikhitaMagar01/Zync/internal/models"

	"gorm.io/gorm"
)

// UserService 封装用户注册、登录与 token 生命周期的业务逻辑。
type UserService struct {
	db  *gorm.DB
	cfg config.Config
}

func NewUserService(db *gorm.DB, cfg config.Config) *UserService {
	return &UserService{db: db, cfg: cfg}
}

// Register 注册新用户，邮箱和用户名都要求唯一。
func (s *UserService) Register(username, email, password string) (*models.User, error) {
	var count int64
	if err := s.db.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrEmailTaken
	}
	if err := s.db.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrUsernameTaken
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := models.User{Username: username, Email: email, PasswordHash: hash, IsActive: true}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// LoginResult 登录或刷新成功后返回的数据。
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	User         models.User
}

// Login 校验邮箱密码并签发 token 对。
func (s *UserService) Login(email, password string) (*LoginResult, error) {
	var user models.User
	if err := s.db.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	// OAuth-only 用户没有密码，不能走密码登录
	if user.PasswordHash == "" || !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return s.IssueTokenPair(&user)
}

// IssueTokenPair 为已认证的用户签发 access+refresh token 对，
// 把新的 refresh token id 写进该用户的有效集合并更新最近登录时间。
// 密码登录和 Google OAuth 登录共用这一段。
func (s *UserService) IssueTokenPair(user *models.User) (*LoginResult, error) {
	at, err := auth.GenerateAccessToken(*user, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, err
	}
	tokenID, err := auth.GenerateRefreshTokenID()
	if err != nil {
		return nil, err
	}
	rt, err := auth.GenerateRefreshToken(*user, tokenID, s.cfg.JWTRefreshSecret, s.cfg.RefreshTokenTTLDays)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	exp := now.Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&models.RefreshToken{UserID: user.ID, TokenID: tokenID, ExpiresAt: exp}).Error; err != nil {
			return err
		}
		return tx.Model(user).Update("last_login", &now).Error
	})
	if err != nil {
		return nil, err
	}
	return &LoginResult{AccessToken: at, RefreshToken: rt, User: *user}, nil
}

// Refresh 实现一次性轮换：校验签名和 type，再要求 id 仍在持久化集合里，
// 然后在同一事务里删掉旧 id、插入新 id，避免中途崩溃把用户锁在外面。
// 已被轮换掉的 id 即使签名仍在 7 天有效期内也会在集合检查处失败。
func (s *UserService) Refresh(rawRefreshToken string) (*LoginResult, error) {
	claims, err := auth.ParseRefreshToken(rawRefreshToken, s.cfg.JWTRefreshSecret)
	if err != nil || claims.RefreshTokenID == "" {
		metrics.TokenRefreshTotal.WithLabelValues("invalid").Inc()
		return nil, ErrRefreshInvalid
	}

	var user models.User
	var result *LoginResult
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var rec models.RefreshToken
		err := tx.Where("user_id = ? AND token_id = ? AND expires_at > ?",
			claims.UserID, claims.RefreshTokenID, time.Now()).First(&rec).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRefreshRevoked
			}
			return err
		}
		if err := tx.First(&user, claims.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRefreshRevoked
			}
			return err
		}

		newID, err := auth.GenerateRefreshTokenID()
		if err != nil {
			return err
		}
		at, err := auth.GenerateAccessToken(user, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
		if err != nil {
			return err
		}
		rt, err := auth.GenerateRefreshToken(user, newID, s.cfg.JWTRefreshSecret, s.cfg.RefreshTokenTTLDays)
		if err != nil {
			return err
		}

		now := time.Now()
		if err := tx.Delete(&models.RefreshToken{}, rec.ID).Error; err != nil {
			return err
		}
		exp := now.Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
		if err := tx.Create(&models.RefreshToken{UserID: user.ID, TokenID: newID, ExpiresAt: exp}).Error; err != nil {
			return err
		}
		result = &LoginResult{AccessToken: at, RefreshToken: rt, User: user}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrRefreshRevoked) {
			metrics.TokenRefreshTotal.WithLabelValues("revoked").Inc()
		} else {
			metrics.TokenRefreshTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	metrics.TokenRefreshTotal.WithLabelValues("ok").Inc()
	return result, nil
}

// Logout 撤销当前 refresh token id。尽力而为：token 解析不了或 id 已不在
// 集合里都不算错误，登出总是成功。
func (s *UserService) Logout(rawRefreshToken string) {
	claims, err := auth.ParseRefreshToken(rawRefreshToken, s.cfg.JWTRefreshSecret)
	if err != nil || claims.RefreshTokenID == "" {
		return
	}
	s.db.Where("user_id = ? AND token_id = ?", claims.UserID, claims.RefreshTokenID).
		Delete(&models.RefreshToken{})
}

// GetByID 查询单个用户。
func (s *UserService) GetByID(userID uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindByEmail 按邮箱查询用户，OAuth 回调用。
func (s *UserService) FindByEmail(email string) (*models.User, error) {
	var user models.User
	if err := s.db.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// Search 按用户名或邮箱模糊搜索活跃用户。
func (s *UserService) Search(q string, limit int) ([]models.User, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	var users []models.User
	pattern := "%" + q + "%"
	err := s.db.Where("is_active = ? AND (username ILIKE ? OR email ILIKE ?)", true, pattern, pattern).
		Limit(limit).Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

// CreateGoogleUser 用 Google 资料创建新用户，没有密码。
func (s *UserService) CreateGoogleUser(username, email, firstName, lastName, avatar, googleID string) (*models.User, error) {
	user := models.User{
		Username:     username,
		Email:        email,
		FirstName:    firstName,
		LastName:     lastName,
		Avatar:       avatar,
		IsGoogleUser: true,
		GoogleID:     googleID,
		IsActive:     true,
	}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// LinkGoogle 把 Google 账号关联到已有用户。
func (s *UserService) LinkGoogle(user *models.User, googleID, avatar string) error {
	updates := map[string]interface{}{"is_google_user": true, "google_id": googleID}
	if avatar != "" && user.Avatar == "" {
		updates["avatar"] = avatar
	}
	return s.db.Model(user).Updates(updates).Error
}
