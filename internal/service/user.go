package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"chatserver/internal/auth"
	"chatserver/internal/config"
	"chatserver/internal/models"
	"chatserver/internal/store"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const profileKeyPrefix = "user:"

// UserService 封装用户资料与登录相关的业务逻辑。
type UserService struct {
	users UserStore
	db    *gorm.DB
	cfg   config.Config
	cache ProfileCache
	group singleflight.Group
}

// NewUserService 创建用户服务；cache 为 nil 时直接读库。
func NewUserService(users UserStore, db *gorm.DB, cfg config.Config, cache ProfileCache) *UserService {
	return &UserService{users: users, db: db, cfg: cfg, cache: cache}
}

// CreateUserInput 是注册/创建用户的参数。
type CreateUserInput struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Type      string `json:"type"`
	Password  string `json:"password"`
}

// Create 创建新用户并返回其资料。
func (s *UserService) Create(ctx context.Context, in CreateUserInput) (*UserProfile, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	if in.FirstName == "" {
		return nil, invalid("firstName is required")
	}
	if in.Type == "" {
		in.Type = models.UserTypeConsumer
	}
	if in.Type != models.UserTypeConsumer && in.Type != models.UserTypeSupport {
		return nil, invalid("unknown user type %q", in.Type)
	}
	if len(in.Password) < 6 {
		return nil, invalid("password must be at least 6 characters")
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, invalid("password: %v", err)
	}
	u := models.User{ID: models.NewID(), FirstName: in.FirstName, LastName: strings.TrimSpace(in.LastName), Type: in.Type, PasswordHash: hash}
	if err := s.users.Create(ctx, &u); err != nil {
		return nil, wrapStore("create user", err)
	}
	p := profileOf(&u)
	return &p, nil
}

// Get 返回用户资料，优先读缓存；并发的同一 id 未命中只查一次库。
func (s *UserService) Get(ctx context.Context, id string) (*UserProfile, error) {
	if p, ok := s.cached(ctx, id); ok {
		return &p, nil
	}
	v, err, _ := s.group.Do(id, func() (any, error) {
		u, err := s.users.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		p := profileOf(u)
		s.remember(ctx, p)
		return p, nil
	})
	if err != nil {
		return nil, wrapStore("get user", err)
	}
	p := v.(UserProfile)
	return &p, nil
}

func (s *UserService) List(ctx context.Context) ([]UserProfile, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, wrapStore("list users", err)
	}
	out := make([]UserProfile, 0, len(users))
	for i := range users {
		out = append(out, profileOf(&users[i]))
	}
	return out, nil
}

// Delete 删除用户；其历史消息保留。
func (s *UserService) Delete(ctx context.Context, id string) error {
	n, err := s.users.Delete(ctx, id)
	if err != nil {
		return wrapStore("delete user", err)
	}
	s.forget(ctx, id)
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Profiles 按 ids 的顺序返回存在的用户资料，不存在的 id 被跳过。
func (s *UserService) Profiles(ctx context.Context, ids []string) ([]UserProfile, error) {
	found := make(map[string]UserProfile, len(ids))
	var missing []string
	for _, id := range ids {
		if p, ok := s.cached(ctx, id); ok {
			found[id] = p
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) > 0 {
		users, err := s.users.ByIDs(ctx, missing)
		if err != nil {
			return nil, wrapStore("load profiles", err)
		}
		for i := range users {
			p := profileOf(&users[i])
			found[p.ID] = p
			s.remember(ctx, p)
		}
	}
	out := make([]UserProfile, 0, len(ids))
	for _, id := range ids {
		if p, ok := found[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *UserService) cached(ctx context.Context, id string) (UserProfile, bool) {
	var p UserProfile
	if s.cache == nil {
		return p, false
	}
	ok, err := s.cache.Get(ctx, profileKeyPrefix+id, &p)
	if err != nil {
		log.Warn().Err(err).Str("user_id", id).Msg("profile cache get failed")
		return p, false
	}
	return p, ok
}

func (s *UserService) remember(ctx context.Context, p UserProfile) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, profileKeyPrefix+p.ID, p); err != nil {
		log.Warn().Err(err).Str("user_id", p.ID).Msg("profile cache set failed")
	}
}

func (s *UserService) forget(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, profileKeyPrefix+id); err != nil {
		log.Warn().Err(err).Str("user_id", id).Msg("profile cache delete failed")
	}
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         UserProfile `json:"user"`
}

// Login 校验用户 id 与密码并签发 token 对。
func (s *UserService) Login(ctx context.Context, userID, password string) (*LoginResult, error) {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, wrapStore("login", err)
	}
	if !auth.VerifyPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	at, err := auth.GenerateAccessToken(u.ID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, err
	}
	rt, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	exp := time.Now().Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
	if err := auth.SaveRefreshToken(s.db.WithContext(ctx), u.ID, rt, exp); err != nil {
		return nil, wrapStore("save refresh token", err)
	}
	return &LoginResult{AccessToken: at, RefreshToken: rt, User: profileOf(u)}, nil
}

// RefreshResult 刷新 token 后返回的新 token 对。
type RefreshResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshTokens 验证旧 refresh token 并签发新 token 对（旋转刷新）。
func (s *UserService) RefreshTokens(ctx context.Context, oldRT string) (*RefreshResult, error) {
	var result RefreshResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := auth.ValidateRefreshToken(tx, oldRT)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidCredentials
			}
			return err
		}
		if err := auth.RevokeRefreshToken(tx, oldRT); err != nil {
			return err
		}
		at, err := auth.GenerateAccessToken(rec.UserID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
		if err != nil {
			return err
		}
		newRT, err := auth.GenerateRefreshToken()
		if err != nil {
			return err
		}
		exp := time.Now().Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
		if err := auth.SaveRefreshToken(tx, rec.UserID, newRT, exp); err != nil {
			return err
		}
		result.AccessToken = at
		result.RefreshToken = newRT
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return nil, err
		}
		return nil, wrapStore("refresh tokens", err)
	}
	return &result, nil
}
