package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Principal 发起请求的用户，由调用方显式传入
type Principal struct {
	UserID      string
	Name        string
	Roles       []string
	Permissions []string // 令牌携带的权限
}

// Authorizer 授权边界
type Authorizer interface {
	Authorize(ctx context.Context, p Principal, permission string) error
}

// PermissionSource 按用户加载权限码
type PermissionSource interface {
	GetPermissionCodes(ctx context.Context, userID string) ([]string, error)
}

// RBACAuthorizer 先检查令牌中的权限，再按角色查询数据库（Redis 缓存）
type RBACAuthorizer struct {
	source PermissionSource
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRBACAuthorizer 创建授权器，rdb 为 nil 时不缓存
func NewRBACAuthorizer(source PermissionSource, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RBACAuthorizer {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RBACAuthorizer{source: source, rdb: rdb, ttl: ttl, logger: logger}
}

func hasPermission(perms []string, perm string) bool {
	for _, p := range perms {
		if p == perm || p == entity.PermAll {
			return true
		}
	}
	return false
}

func (a *RBACAuthorizer) Authorize(ctx context.Context, p Principal, permission string) error {
	if p.UserID == "" {
		return fmt.Errorf("%w: anonymous principal", ErrUnauthorized)
	}
	if hasPermission(p.Permissions, permission) {
		return nil
	}
	if a.source == nil {
		return fmt.Errorf("%w: %s", ErrUnauthorized, permission)
	}
	perms, err := a.rolePermissions(ctx, p.UserID)
	if err != nil {
		return &PersistenceError{Op: "load permissions", Err: err}
	}
	if !hasPermission(perms, permission) {
		return fmt.Errorf("%w: %s", ErrUnauthorized, permission)
	}
	return nil
}

func permCacheKey(userID string) string {
	return "mes:perms:" + userID
}

func (a *RBACAuthorizer) rolePermissions(ctx context.Context, userID string) ([]string, error) {
	if a.rdb != nil {
		cached, err := a.rdb.Get(ctx, permCacheKey(userID)).Result()
		if err == nil {
			var perms []string
			if err := sonic.UnmarshalString(cached, &perms); err == nil {
				return perms, nil
			}
		} else if err != redis.Nil {
			a.logger.Warn("permission cache read failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	perms, err := a.source.GetPermissionCodes(ctx, userID)
	if err != nil {
		return nil, err
	}

	if a.rdb != nil {
		if data, err := sonic.MarshalString(perms); err == nil {
			if err := a.rdb.Set(ctx, permCacheKey(userID), data, a.ttl).Err(); err != nil {
				a.logger.Warn("permission cache write failed", zap.String("user_id", userID), zap.Error(err))
			}
		}
	}
	return perms, nil
}

// Invalidate 角色或权限变更后清除缓存
func (a *RBACAuthorizer) Invalidate(ctx context.Context, userID string) error {
	if a.rdb == nil {
		return nil
	}
	return a.rdb.Del(ctx, permCacheKey(userID)).Err()
}

var _ PermissionSource = (*repository.UserRepository)(nil)
