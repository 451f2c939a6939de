package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/config"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/handler"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/bitfantasy/nimo-mes/internal/mes/sse"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Build 信息，由 cmd 在链接时注入
type Build struct {
	Version   string
	BuildTime string
}

// Database 数据库连接，容器关闭时释放
type Database struct {
	Conn *gorm.DB
}

func (d *Database) HealthCheck() error {
	return d.Ping(context.Background())
}

func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.Conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (d *Database) Shutdown() error {
	sqlDB, err := d.Conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Redis 客户端，Client 为 nil 表示未启用
type Redis struct {
	Client *redis.Client
}

func (r *Redis) HealthCheck() error {
	return r.Ping(context.Background())
}

func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return nil
	}
	return r.Client.Ping(ctx).Err()
}

func (r *Redis) Shutdown() error {
	if r.Client == nil {
		return nil
	}
	return r.Client.Close()
}

// BuildContainer 构建依赖注入容器
func BuildContainer(cfg *config.Config, log *zap.Logger, build Build) *do.Injector {
	if log == nil {
		log = zap.NewNop()
	}
	inj := do.New()

	do.ProvideValue(inj, cfg)
	do.ProvideValue(inj, log)
	do.ProvideValue(inj, build)

	do.Provide(inj, func(i *do.Injector) (*Database, error) {
		db, err := OpenDatabase(cfg.Database, log)
		if err != nil {
			return nil, err
		}
		return &Database{Conn: db}, nil
	})

	do.Provide(inj, func(i *do.Injector) (*Redis, error) {
		if !cfg.Redis.Enabled() {
			return &Redis{}, nil
		}
		return &Redis{Client: OpenRedis(cfg.Redis)}, nil
	})

	do.Provide(inj, func(i *do.Injector) (*sse.Hub, error) {
		return sse.NewHub(log), nil
	})

	// 启用 Redis 时事件经 pub/sub 转发到所有实例
	do.Provide(inj, func(i *do.Injector) (*sse.RedisBridge, error) {
		rdb := do.MustInvoke[*Redis](i)
		if rdb.Client == nil {
			return nil, nil
		}
		return sse.NewRedisBridge(rdb.Client, do.MustInvoke[*sse.Hub](i), cfg.Readiness.EventChannel, log), nil
	})

	do.Provide(inj, func(i *do.Injector) (service.Publisher, error) {
		if bridge := do.MustInvoke[*sse.RedisBridge](i); bridge != nil {
			return bridge, nil
		}
		return do.MustInvoke[*sse.Hub](i), nil
	})

	do.Provide(inj, func(i *do.Injector) (*repository.Repositories, error) {
		db, err := do.Invoke[*Database](i)
		if err != nil {
			return nil, err
		}
		return repository.NewRepositories(db.Conn), nil
	})

	do.Provide(inj, func(i *do.Injector) (*service.Services, error) {
		table, err := cfg.Routing.Table()
		if err != nil {
			return nil, err
		}
		repos, err := do.Invoke[*repository.Repositories](i)
		if err != nil {
			return nil, err
		}
		opts := service.Options{
			LockBackend:          cfg.Routing.LockBackend,
			LockTTL:              cfg.Routing.LockTTL,
			PermissionCacheTTL:   cfg.JWT.PermissionCacheTTL,
			Transitions:          &table,
			ReadinessParallelism: cfg.Readiness.Parallelism,
		}
		return service.NewServices(repos, do.MustInvoke[*Redis](i).Client, do.MustInvoke[service.Publisher](i), opts, log), nil
	})

	do.Provide(inj, func(i *do.Injector) (*handler.Handlers, error) {
		svcs, err := do.Invoke[*service.Services](i)
		if err != nil {
			return nil, err
		}
		db := do.MustInvoke[*Database](i)
		rdb := do.MustInvoke[*Redis](i)
		health := handler.NewHealthHandler(build.Version, build.BuildTime, map[string]handler.Checker{
			"database": db.Ping,
			"redis":    rdb.Ping,
		})
		return handler.NewHandlers(svcs, do.MustInvoke[*sse.Hub](i), health, log), nil
	})

	do.Provide(inj, func(i *do.Injector) (*gin.Engine, error) {
		h, err := do.Invoke[*handler.Handlers](i)
		if err != nil {
			return nil, err
		}
		return handler.NewRouter(h, cfg.JWT.Secret, cfg.Server.Mode, log), nil
	})

	return inj
}

// Migrate 建表
func Migrate(inj *do.Injector) error {
	db, err := do.Invoke[*Database](inj)
	if err != nil {
		return err
	}
	return entity.AutoMigrate(db.Conn)
}

// OpenDatabase 按驱动打开数据库并设置连接池
func OpenDatabase(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.Path + "?_pragma=busy_timeout(5000)")
	default:
		dialector = postgres.Open(cfg.DSN())
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// SQLite 只允许一个写连接
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	log.Info("database connected", zap.String("driver", cfg.Driver))
	return db, nil
}

// OpenRedis 创建 Redis 客户端
func OpenRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}
