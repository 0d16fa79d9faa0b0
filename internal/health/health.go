// Package health 探测 dm-server 依赖的三个后端：NATS 下行通道、Redis 在线状态、PostgreSQL 消息库。
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

const probeTimeout = 2 * time.Second

// Backend 单个后端的探测结果
type Backend struct {
	Status    string `json:"status"` // up / down
	LatencyMs int64  `json:"latencyMs,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Status 整体健康状态
type Status struct {
	Healthy  bool    `json:"healthy"`
	NATS     Backend `json:"nats"`
	Redis    Backend `json:"redis"`
	Database Backend `json:"database"`
}

// Checker 后端健康探测器
type Checker struct {
	nc          *nats.Conn
	redisClient *redis.Client
	db          *pgxpool.Pool
}

func NewChecker(nc *nats.Conn, redisClient *redis.Client, db *pgxpool.Pool) *Checker {
	return &Checker{
		nc:          nc,
		redisClient: redisClient,
		db:          db,
	}
}

// Check 探测全部后端
func (h *Checker) Check(ctx context.Context) *Status {
	status := &Status{
		NATS: h.probeNATS(),
		Redis: probe(ctx, func(ctx context.Context) error {
			return h.redisClient.Ping(ctx).Err()
		}),
		Database: probe(ctx, func(ctx context.Context) error {
			return h.db.Ping(ctx)
		}),
	}
	status.Healthy = status.NATS.Status == "up" &&
		status.Redis.Status == "up" &&
		status.Database.Status == "up"
	return status
}

// probeNATS NATS 客户端自带连接状态，不需要往返探测
func (h *Checker) probeNATS() Backend {
	if h.nc.IsConnected() {
		return Backend{Status: "up"}
	}
	return Backend{Status: "down", Error: h.nc.Status().String()}
}

func probe(ctx context.Context, ping func(ctx context.Context) error) Backend {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	if err := ping(ctx); err != nil {
		return Backend{Status: "down", Error: err.Error()}
	}
	return Backend{Status: "up", LatencyMs: time.Since(start).Milliseconds()}
}

// IsHealthy 所有后端均可用时返回 true
func (h *Checker) IsHealthy(ctx context.Context) bool {
	return h.Check(ctx).Healthy
}

// ServeHTTP /health 端点，任一后端不可用返回 503
func (h *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}
