package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"btc-band-sentry/pkg/types"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	cooldownKey     = "bbs:cooldown"
	signalKeyPrefix = "bbs:signal:"
)

// RegistryStore 信号登记表的Redis备份层
// 进程内登记表为权威数据，Redis仅用于重启后恢复冷却与活跃信号
// Redis不可用时自动退化为纯内存模式
type RegistryStore struct {
	redisClient *redis.Client
	useRedis    bool
	maxAge      time.Duration
}

// NewRegistryStore 创建登记表备份存储
func NewRegistryStore(redisConfig types.RedisConfig, maxAge time.Duration) *RegistryStore {
	rs := &RegistryStore{
		maxAge: maxAge,
	}

	// 尝试连接Redis
	if redisConfig.URL != "" {
		rs.redisClient = redis.NewClient(&redis.Options{
			Addr:     redisConfig.URL,
			Password: redisConfig.Password,
			DB:       redisConfig.DB,
		})

		// 测试连接
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := rs.redisClient.Ping(ctx).Result()
		if err != nil {
			zap.L().Warn("⚠️ Redis连接失败，使用纯内存模式", zap.Error(err))
			rs.useRedis = false
		} else {
			zap.L().Info("✅ Redis连接成功")
			rs.useRedis = true
		}
	} else {
		zap.L().Info("🔧 未配置Redis，使用纯内存模式")
		rs.useRedis = false
	}

	return rs
}

// BackupCooldown 备份某配置最近一次发信时间
func (rs *RegistryStore) BackupCooldown(configID string, emissionTime time.Time) {
	if !rs.useRedis {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rs.redisClient.HSet(ctx, cooldownKey, configID, emissionTime.Unix()).Err(); err != nil {
		zap.L().Warn("Redis备份冷却状态失败",
			zap.String("config_id", configID),
			zap.Error(err))
	}
}

// BackupSignal 备份活跃信号快照，按最大存活期设置TTL
func (rs *RegistryStore) BackupSignal(signal *types.TradingSignal) {
	if !rs.useRedis {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	value, err := json.Marshal(signal)
	if err != nil {
		zap.L().Warn("序列化信号失败", zap.Error(err))
		return
	}

	key := signalKeyPrefix + signal.SignalID
	if err := rs.redisClient.Set(ctx, key, value, rs.maxAge).Err(); err != nil {
		zap.L().Warn("Redis备份信号失败",
			zap.String("signal_id", signal.SignalID),
			zap.Error(err))
	}
}

// LoadCooldowns 恢复各配置的冷却状态（进程重启后调用）
func (rs *RegistryStore) LoadCooldowns() map[string]time.Time {
	result := make(map[string]time.Time)
	if !rs.useRedis {
		return result
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	entries, err := rs.redisClient.HGetAll(ctx, cooldownKey).Result()
	if err != nil {
		zap.L().Warn("Redis读取冷却状态失败", zap.Error(err))
		return result
	}

	for configID, raw := range entries {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		result[configID] = time.Unix(ts, 0)
	}

	if len(result) > 0 {
		zap.L().Info("📊 已恢复冷却状态", zap.Int("configs", len(result)))
	}

	return result
}

// LoadActiveSignals 恢复活跃信号快照（进程重启后调用）
func (rs *RegistryStore) LoadActiveSignals() []*types.TradingSignal {
	var signals []*types.TradingSignal
	if !rs.useRedis {
		return signals
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	keys, err := rs.redisClient.Keys(ctx, signalKeyPrefix+"*").Result()
	if err != nil {
		zap.L().Warn("Redis读取信号快照失败", zap.Error(err))
		return signals
	}

	for _, key := range keys {
		raw, err := rs.redisClient.Get(ctx, key).Result()
		if err != nil {
			continue
		}

		var signal types.TradingSignal
		if err := json.Unmarshal([]byte(raw), &signal); err != nil {
			zap.L().Warn("反序列化信号失败", zap.String("key", key), zap.Error(err))
			continue
		}
		signals = append(signals, &signal)
	}

	if len(signals) > 0 {
		zap.L().Info("📊 已恢复活跃信号", zap.Int("count", len(signals)))
	}

	return signals
}

// Stats 获取存储层统计信息
func (rs *RegistryStore) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"redis_enabled": rs.useRedis,
	}

	if rs.useRedis {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		keys, err := rs.redisClient.Keys(ctx, signalKeyPrefix+"*").Result()
		if err == nil {
			stats["backed_up_signals"] = len(keys)
		} else {
			stats["redis_error"] = err.Error()
		}
	}

	return stats
}

// Close 关闭Redis连接
func (rs *RegistryStore) Close() error {
	if rs.redisClient == nil {
		return nil
	}
	if err := rs.redisClient.Close(); err != nil {
		return fmt.Errorf("关闭Redis连接失败: %v", err)
	}
	return nil
}
