package locker

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/payrelay/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("locker",
	fx.Provide(provideRedis),
	fx.Provide(NewLocker),
)

func provideRedis(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}
