package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"unievent-ticketing/internal/logger"
)

// Connect opens a Redis client and checks the connection.
func Connect(ctx context.Context, addr, password string, db int, log *logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: 10,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		log.Error("REDIS", fmt.Sprintf("Failed to connect to Redis at %s: %v", addr, err))
		return nil, err
	}

	log.Info("REDIS", fmt.Sprintf("Connected to Redis at %s for ticket locks", addr))
	return client, nil
}
