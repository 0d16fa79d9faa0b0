package redisstore

import (
	"fmt"
	"time"
)

const (
	// UserLocationKeyPrefix 用户位置 Redis Key 前缀
	// Key: dm:user:location:{userId} (Hash, field = connId)
	UserLocationKeyPrefix = "dm:user:location:"

	// UserTokenKeyPrefix 用户当前有效 Token Key 前缀
	// Key: dm:user:token:{userId}:{deviceId}
	UserTokenKeyPrefix = "dm:user:token:"

	// OnlineUsersKey 在线用户集合
	OnlineUsersKey = "dm:online:users"

	// LastSeenKey 用户最后在线时间 Hash (field = userId, value = 毫秒时间戳)
	LastSeenKey = "dm:user:lastseen"

	// LocationTTL 用户位置 TTL，心跳续期
	LocationTTL = 2 * time.Minute
)

// BuildUserLocationKey 构建用户位置 Key
func BuildUserLocationKey(userID int64) string {
	return fmt.Sprintf("%s%d", UserLocationKeyPrefix, userID)
}

// BuildUserTokenKey 构建用户 Token Key（按设备）
func BuildUserTokenKey(userID int64, deviceID string) string {
	return fmt.Sprintf("%s%d:%s", UserTokenKeyPrefix, userID, deviceID)
}
