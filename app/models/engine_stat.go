package models

import "time"

// EngineStat is a per-engine, per-day counter row used for cost reporting.
// Counters are buffered in redis and flushed in batches; the row is the
// durable aggregate, not a per-request log.
type EngineStat struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	EngineID       string    `gorm:"type:varchar(50);not null;index:ux_engine_stats_engine_day,unique,priority:1" json:"engine_id"`
	Day            string    `gorm:"type:varchar(10);not null;index:ux_engine_stats_engine_day,unique,priority:2" json:"day"`
	DispatchCount  int64     `gorm:"not null;default:0" json:"dispatch_count"`
	SucceededCount int64     `gorm:"not null;default:0" json:"succeeded_count"`
	FailedCount    int64     `gorm:"not null;default:0" json:"failed_count"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
