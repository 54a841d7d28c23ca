package database

import (
	"errors"
	"fmt"
	"time"

	"btc-band-sentry/pkg/types"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Manager 数据库管理器
type Manager struct {
	db     *gorm.DB
	config types.MySQLConfig
}

// KLine 数据库K线模型
type KLine struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Symbol    string    `gorm:"type:varchar(20);not null;index:idx_symbol_time" json:"symbol"`
	OpenTime  int64     `gorm:"not null;index:idx_symbol_time" json:"open_time"`
	CloseTime int64     `gorm:"not null;index:idx_close_time" json:"close_time"`
	Open      float64   `gorm:"type:decimal(20,8);not null" json:"open"`
	High      float64   `gorm:"type:decimal(20,8);not null" json:"high"`
	Low       float64   `gorm:"type:decimal(20,8);not null" json:"low"`
	Close     float64   `gorm:"type:decimal(20,8);not null" json:"close"`
	Volume    float64   `gorm:"type:decimal(20,8);not null" json:"volume"`
	Interval  string    `gorm:"type:varchar(10);not null;default:'5m'" json:"interval"`
	CreatedAt time.Time `json:"created_at"`
}

// WickTouch 影线触碰记录模型
type WickTouch struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ConfigID     string    `gorm:"type:varchar(30);not null;index:idx_config_time" json:"config_id"`
	TouchTime    int64     `gorm:"not null;index:idx_config_time" json:"touch_time"`
	Timeframe    string    `gorm:"type:varchar(10);not null" json:"timeframe"`
	Side         string    `gorm:"type:enum('upper_wick','lower_wick');not null" json:"side"`
	BandType     string    `gorm:"type:enum('upper','middle','lower');not null" json:"band_type"`
	BandValue    float64   `gorm:"type:decimal(20,8);not null" json:"band_value"`
	TouchPrice   float64   `gorm:"type:decimal(20,8);not null" json:"touch_price"`
	RelativeDiff float64   `gorm:"type:decimal(12,10);not null" json:"relative_diff"`
	ExactMatch   bool      `gorm:"default:false" json:"exact_match"`
	Confidence   float64   `gorm:"type:decimal(3,2);not null" json:"confidence"`
	CreatedAt    time.Time `json:"created_at"`
}

// TradingSignal 交易信号模型
type TradingSignal struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SignalID       string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_signal_id" json:"signal_id"`
	Symbol         string    `gorm:"type:varchar(20);not null;index:idx_symbol_time" json:"symbol"`
	SignalTime     int64     `gorm:"not null;index:idx_symbol_time" json:"signal_time"`
	ConfigID       string    `gorm:"type:varchar(30);not null;index" json:"config_id"`
	Direction      string    `gorm:"type:enum('LONG','SHORT');not null" json:"direction"`
	EntryPrice     float64   `gorm:"type:decimal(20,8);not null" json:"entry_price"`
	BandValue      float64   `gorm:"type:decimal(20,8);not null" json:"band_value"`
	StopLoss       float64   `gorm:"type:decimal(20,8);not null" json:"stop_loss"`
	TakeProfit     float64   `gorm:"type:decimal(20,8);not null" json:"take_profit"`
	Confidence     float64   `gorm:"type:decimal(3,2);not null" json:"confidence"`
	ExpectedProfit float64   `gorm:"type:decimal(6,2);not null" json:"expected_profit"`
	WickTouchType  string    `gorm:"type:enum('upper_wick','lower_wick');not null" json:"wick_touch_type"`
	BandType       string    `gorm:"type:enum('upper','middle','lower');not null" json:"band_type"`
	Timeframe      string    `gorm:"type:varchar(10);not null" json:"timeframe"`
	CreatedAt      time.Time `json:"created_at"`
}

// StrategyPerformance 策略性能模型（按配置按日统计）
type StrategyPerformance struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ConfigID      string    `gorm:"type:varchar(30);not null;uniqueIndex:uk_config_date" json:"config_id"`
	Date          time.Time `gorm:"type:date;not null;uniqueIndex:uk_config_date" json:"date"`
	TotalSignals  int       `gorm:"default:0" json:"total_signals"`
	LongSignals   int       `gorm:"default:0" json:"long_signals"`
	ShortSignals  int       `gorm:"default:0" json:"short_signals"`
	AvgConfidence *float64  `gorm:"type:decimal(3,2)" json:"avg_confidence"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewManager 创建数据库管理器
func NewManager(config types.MySQLConfig) (*Manager, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		config.Username,
		config.Password,
		config.Host,
		config.Port,
		config.Database,
	)

	// 配置GORM日志
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // 生产环境使用Silent
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %v", err)
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取数据库实例失败: %v", err)
	}

	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	manager := &Manager{
		db:     db,
		config: config,
	}

	// 自动迁移表结构
	if err := manager.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %v", err)
	}

	zap.L().Info("✅ MySQL数据库连接成功",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("database", config.Database))

	return manager, nil
}

// AutoMigrate 自动迁移表结构
func (m *Manager) AutoMigrate() error {
	return m.db.AutoMigrate(
		&KLine{},
		&WickTouch{},
		&TradingSignal{},
		&StrategyPerformance{},
	)
}

// SaveKLine 保存K线数据
func (m *Manager) SaveKLine(kline *types.KLine) error {
	dbKline := &KLine{
		Symbol:    kline.Symbol,
		OpenTime:  kline.OpenTime.Unix(),
		CloseTime: kline.CloseTime.Unix(),
		Open:      kline.Open,
		High:      kline.High,
		Low:       kline.Low,
		Close:     kline.Close,
		Volume:    kline.Volume,
		Interval:  kline.Interval,
		CreatedAt: time.Now(),
	}

	return m.db.Create(dbKline).Error
}

// SaveWickTouch 保存影线触碰记录
func (m *Manager) SaveWickTouch(touch *types.WickTouch, timeframe string) error {
	dbTouch := &WickTouch{
		ConfigID:     touch.ConfigID,
		TouchTime:    touch.Timestamp.Unix(),
		Timeframe:    timeframe,
		Side:         string(touch.Side),
		BandType:     string(touch.BandType),
		BandValue:    touch.BandValue,
		TouchPrice:   touch.TouchPrice,
		RelativeDiff: touch.RelativeDiff,
		ExactMatch:   touch.ExactMatch,
		Confidence:   touch.Confidence,
		CreatedAt:    time.Now(),
	}

	return m.db.Create(dbTouch).Error
}

// SaveTradingSignal 保存交易信号
func (m *Manager) SaveTradingSignal(signal *types.TradingSignal) error {
	dbSignal := &TradingSignal{
		SignalID:       signal.SignalID,
		Symbol:         signal.Symbol,
		SignalTime:     signal.Timestamp.Unix(),
		ConfigID:       signal.ConfigID,
		Direction:      string(signal.Direction),
		EntryPrice:     signal.EntryPrice,
		BandValue:      signal.BandValue,
		StopLoss:       signal.StopLoss,
		TakeProfit:     signal.TakeProfit,
		Confidence:     signal.Confidence,
		ExpectedProfit: signal.ExpectedProfit,
		WickTouchType:  string(signal.WickTouchType),
		BandType:       string(signal.BandType),
		Timeframe:      signal.Timeframe,
		CreatedAt:      time.Now(),
	}

	return m.db.Create(dbSignal).Error
}

// UpdateStrategyPerformance 更新策略性能统计
func (m *Manager) UpdateStrategyPerformance(configID string, direction types.Direction, confidence float64) error {
	today := time.Now().Truncate(24 * time.Hour)

	var performance StrategyPerformance
	result := m.db.Where("config_id = ? AND date = ?", configID, today).First(&performance)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		// 创建新记录
		performance = StrategyPerformance{
			ConfigID:      configID,
			Date:          today,
			TotalSignals:  1,
			AvgConfidence: &confidence,
		}

		if direction == types.DirectionLong {
			performance.LongSignals = 1
		} else if direction == types.DirectionShort {
			performance.ShortSignals = 1
		}

		return m.db.Create(&performance).Error
	} else if result.Error != nil {
		return result.Error
	} else {
		// 更新现有记录
		updates := map[string]interface{}{
			"total_signals": performance.TotalSignals + 1,
		}

		if direction == types.DirectionLong {
			updates["long_signals"] = performance.LongSignals + 1
		} else if direction == types.DirectionShort {
			updates["short_signals"] = performance.ShortSignals + 1
		}

		// 计算新的平均置信度
		if performance.AvgConfidence != nil {
			newAvg := ((*performance.AvgConfidence)*float64(performance.TotalSignals) + confidence) / float64(performance.TotalSignals+1)
			updates["avg_confidence"] = newAvg
		} else {
			updates["avg_confidence"] = confidence
		}

		return m.db.Model(&performance).Where("id = ?", performance.ID).Updates(updates).Error
	}
}

// GetKLines 获取K线数据
func (m *Manager) GetKLines(symbol string, interval string, limit int) ([]*types.KLine, error) {
	var dbKlines []KLine
	err := m.db.Where("symbol = ? AND `interval` = ?", symbol, interval).
		Order("open_time DESC").
		Limit(limit).
		Find(&dbKlines).Error

	if err != nil {
		return nil, err
	}

	var klines []*types.KLine
	for _, dbKline := range dbKlines {
		kline := &types.KLine{
			Symbol:    dbKline.Symbol,
			OpenTime:  time.Unix(dbKline.OpenTime, 0),
			CloseTime: time.Unix(dbKline.CloseTime, 0),
			Open:      dbKline.Open,
			High:      dbKline.High,
			Low:       dbKline.Low,
			Close:     dbKline.Close,
			Volume:    dbKline.Volume,
			Interval:  dbKline.Interval,
		}
		klines = append(klines, kline)
	}

	return klines, nil
}

// GetTradingSignals 获取交易信号
func (m *Manager) GetTradingSignals(symbol string, limit int) ([]TradingSignal, error) {
	var signals []TradingSignal
	err := m.db.Where("symbol = ?", symbol).
		Order("signal_time DESC").
		Limit(limit).
		Find(&signals).Error

	return signals, err
}

// GetStrategyPerformance 获取策略性能数据
func (m *Manager) GetStrategyPerformance(configID string, days int) ([]StrategyPerformance, error) {
	var performances []StrategyPerformance
	startDate := time.Now().AddDate(0, 0, -days).Truncate(24 * time.Hour)

	err := m.db.Where("config_id = ? AND date >= ?", configID, startDate).
		Order("date DESC").
		Find(&performances).Error

	return performances, err
}

// BatchSaveKlines 批量保存K线数据（历史预热时使用）
func (m *Manager) BatchSaveKlines(klines []*types.KLine) error {
	if len(klines) == 0 {
		return nil
	}

	// 转换为数据库模型
	dbKlines := make([]KLine, 0, len(klines))
	for _, kline := range klines {
		dbKline := KLine{
			Symbol:    kline.Symbol,
			OpenTime:  kline.OpenTime.Unix(),
			CloseTime: kline.CloseTime.Unix(),
			Open:      kline.Open,
			High:      kline.High,
			Low:       kline.Low,
			Close:     kline.Close,
			Volume:    kline.Volume,
			Interval:  kline.Interval,
			CreatedAt: time.Now(),
		}
		dbKlines = append(dbKlines, dbKline)
	}

	// 分批处理避免单个事务过大
	tx := m.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	batchSize := 100
	for i := 0; i < len(dbKlines); i += batchSize {
		end := i + batchSize
		if end > len(dbKlines) {
			end = len(dbKlines)
		}

		batch := dbKlines[i:end]

		if err := tx.CreateInBatches(batch, len(batch)).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("批量插入K线数据失败: %v", err)
		}
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("提交批量插入事务失败: %v", err)
	}

	zap.L().Debug("✅ 批量保存K线数据完成",
		zap.Int("count", len(klines)),
		zap.String("first_symbol", klines[0].Symbol))

	return nil
}

// Close 关闭数据库连接
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库连接健康状态
func (m *Manager) Health() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
