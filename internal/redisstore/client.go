package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"sudooom.social.dm/internal/config"
)

// UserLocation 用户连接位置信息
// 一个用户可以同时持有多个连接（多设备）
type UserLocation struct {
	UserID    int64     `json:"userId"`
	NodeID    string    `json:"nodeId"`
	ConnID    int64     `json:"connId"`
	DeviceID  string    `json:"deviceId"`
	Platform  string    `json:"platform"`
	LoginTime time.Time `json:"loginTime"`
}

// Client Redis 客户端
type Client struct {
	client *redis.Client
	nodeID string
	logger *slog.Logger
}

// NewClient 创建 Redis 客户端
func NewClient(cfg config.RedisConfig, nodeID string) *Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	return &Client{
		client: client,
		nodeID: nodeID,
		logger: slog.Default(),
	}
}

// Raw 返回底层 Redis 客户端（健康检查用）
func (c *Client) Raw() *redis.Client {
	return c.client
}

// RegisterLocation 注册用户连接位置
// Hash field 为 connId，多设备连接共存互不覆盖
func (c *Client) RegisterLocation(ctx context.Context, userID, connID int64, deviceID, platform string) error {
	key := BuildUserLocationKey(userID)

	location := UserLocation{
		UserID:    userID,
		NodeID:    c.nodeID,
		ConnID:    connID,
		DeviceID:  deviceID,
		Platform:  platform,
		LoginTime: time.Now(),
	}

	data, err := json.Marshal(location)
	if err != nil {
		return fmt.Errorf("failed to marshal location: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, strconv.FormatInt(connID, 10), data)
	pipe.Expire(ctx, key, LocationTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	c.logger.Debug("Registered user location",
		"userId", userID,
		"connId", connID,
		"deviceId", deviceID,
		"nodeId", c.nodeID)
	return nil
}

// UnregisterLocation 移除用户某个连接的位置
func (c *Client) UnregisterLocation(ctx context.Context, userID, connID int64) error {
	key := BuildUserLocationKey(userID)
	return c.client.HDel(ctx, key, strconv.FormatInt(connID, 10)).Err()
}

// RefreshLocation 刷新用户位置 TTL（心跳时调用）
func (c *Client) RefreshLocation(ctx context.Context, userID int64) error {
	return c.client.Expire(ctx, BuildUserLocationKey(userID), LocationTTL).Err()
}

// GetLocations 获取用户所有连接的位置
// 用户不在线时返回空切片
func (c *Client) GetLocations(ctx context.Context, userID int64) ([]UserLocation, error) {
	key := BuildUserLocationKey(userID)
	fields, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	locations := make([]UserLocation, 0, len(fields))
	for _, raw := range fields {
		var loc UserLocation
		if err := json.Unmarshal([]byte(raw), &loc); err != nil {
			c.logger.Warn("Skipping malformed location entry", "userId", userID, "error", err)
			continue
		}
		locations = append(locations, loc)
	}

	return locations, nil
}

// SetOnline 标记用户在线并清除上次的 lastSeen
func (c *Client) SetOnline(ctx context.Context, userID int64) error {
	pipe := c.client.TxPipeline()
	pipe.SAdd(ctx, OnlineUsersKey, userID)
	pipe.HDel(ctx, LastSeenKey, strconv.FormatInt(userID, 10))
	_, err := pipe.Exec(ctx)
	return err
}

// SetOffline 标记用户离线并记录最后在线时间
func (c *Client) SetOffline(ctx context.Context, userID int64, lastSeen time.Time) error {
	pipe := c.client.TxPipeline()
	pipe.SRem(ctx, OnlineUsersKey, userID)
	pipe.HSet(ctx, LastSeenKey, strconv.FormatInt(userID, 10), lastSeen.UnixMilli())
	_, err := pipe.Exec(ctx)
	return err
}

// OnlineSnapshot 获取当前在线用户ID集合
func (c *Client) OnlineSnapshot(ctx context.Context) ([]int64, error) {
	members, err := c.client.SMembers(ctx, OnlineUsersKey).Result()
	if err != nil {
		return nil, err
	}

	users := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		users = append(users, id)
	}
	return users, nil
}

// GetLastSeen 获取用户最后在线时间，从未离线过返回零值
func (c *Client) GetLastSeen(ctx context.Context, userID int64) (time.Time, error) {
	raw, err := c.client.HGet(ctx, LastSeenKey, strconv.FormatInt(userID, 10)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse last seen: %w", err)
	}
	return time.UnixMilli(ms), nil
}

// SetCurrentToken 记录用户该设备当前有效的 access token
func (c *Client) SetCurrentToken(ctx context.Context, userID int64, deviceID, token string, expire time.Duration) error {
	return c.client.Set(ctx, BuildUserTokenKey(userID, deviceID), token, expire).Err()
}

// GetCurrentToken 获取用户该设备的当前有效 token
func (c *Client) GetCurrentToken(ctx context.Context, userID int64, deviceID string) (string, error) {
	token, err := c.client.Get(ctx, BuildUserTokenKey(userID, deviceID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return token, err
}

// IsTokenCurrent 检查传入的 token 是否是该用户该设备当前有效的 token
func (c *Client) IsTokenCurrent(ctx context.Context, userID int64, deviceID, token string) (bool, error) {
	currentToken, err := c.GetCurrentToken(ctx, userID, deviceID)
	if err != nil {
		return false, err
	}
	if currentToken == "" {
		// 没有登录记录时放行，仅依赖 JWT 校验
		return true, nil
	}
	return currentToken == token, nil
}

// Ping 检查 Redis 连接
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close 关闭连接
func (c *Client) Close() error {
	return c.client.Close()
}
