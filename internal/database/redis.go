package database

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/mockbtc/backend/internal/logger"
	"github.com/spf13/viper"
)

// InitRedis connects to Redis. A nil client means locks fall back to in-process.
func InitRedis() *redis.Client {
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	addr := viper.GetString("redis.host") + ":" + viper.GetString("redis.port")
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warnf("[Redis] connection to %s failed, continuing with in-process locks: %v", addr, err)
		rdb.Close()
		return nil
	}

	logger.Infof("[Redis] connection established (%s)", addr)
	return rdb
}
