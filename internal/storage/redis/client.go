// Package redis хранит ключи идемпотентности чекаута в Redis.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultDialTimeout = 2 * time.Second
	defaultOpTimeout   = 2 * time.Second
)

// Client оборачивает go-redis клиент и отдаёт Ping для health-чекера.
type Client struct {
	rdb *goredis.Client
}

// Open подключается к Redis и проверяет доступность.
func Open(ctx context.Context, addr string) (*Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		DialTimeout:  defaultDialTimeout,
		ReadTimeout:  defaultOpTimeout,
		WriteTimeout: defaultOpTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// Ping проверяет соединение.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.rdb == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
