package service

import (
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/routing"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Services 服务集合
type Services struct {
	Authz        *RBACAuthorizer
	Operation    *OperationService
	Readiness    *ReadinessService
	WorkOrder    *WorkOrderService
	Notification *NotificationService
	Export       *ExportService
	Import       *ImportService
}

// Options 服务层可配置项
type Options struct {
	// local 或 redis
	LockBackend          string
	LockTTL              time.Duration
	PermissionCacheTTL   time.Duration
	Transitions          *routing.TransitionTable
	ReadinessParallelism int
}

// NewServices 创建服务集合。rdb 为 nil 时使用进程内锁且不缓存权限。
func NewServices(repos *repository.Repositories, rdb *redis.Client, publisher Publisher, opts Options, logger *zap.Logger) *Services {
	if logger == nil {
		logger = zap.NewNop()
	}

	authz := NewRBACAuthorizer(repos.User, rdb, opts.PermissionCacheTTL, logger.Named("authz"))

	var locker RoutingLocker
	if opts.LockBackend == "redis" && rdb != nil {
		locker = NewRedisLocker(rdb, opts.LockTTL)
	} else {
		locker = NewLocalLocker()
	}

	notification := NewNotificationService(repos, publisher, logger)

	readiness := NewReadinessService(repos.Store, repos, logger)
	readiness.SetReadyNotifier(notification)
	readiness.SetParallelism(opts.ReadinessParallelism)

	operation := NewOperationService(repos.Store, authz, locker, publisher, logger)
	operation.SetReadyNotifier(notification)
	operation.SetQueueRebuilder(readiness)
	if opts.Transitions != nil {
		operation.SetTransitions(*opts.Transitions)
	}

	return &Services{
		Authz:        authz,
		Operation:    operation,
		Readiness:    readiness,
		WorkOrder:    NewWorkOrderService(repos, authz, readiness, logger),
		Notification: notification,
		Export:       NewExportService(repos, authz),
		Import:       NewImportService(repos, authz, logger),
	}
}
