package counter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm/clause"

	"github.com/VisageAI/visage/app/models"
	"github.com/VisageAI/visage/internal/pkg/cache"
	"github.com/VisageAI/visage/internal/pkg/database"
)

const (
	engineDispatchedKey = "engine:counters:dispatched"
	engineSucceededKey  = "engine:counters:succeeded"
	engineFailedKey     = "engine:counters:failed"
)

// AddEngineDispatch increments the pending dispatch counter for an engine in Redis
func AddEngineDispatch(engineID string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, engineDispatchedKey, engineID, 1).Err()
}

// AddEngineSucceeded increments the pending success counter for an engine in Redis
func AddEngineSucceeded(engineID string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, engineSucceededKey, engineID, 1).Err()
}

// AddEngineFailed increments the pending failure counter for an engine in Redis
func AddEngineFailed(engineID string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, engineFailedKey, engineID, 1).Err()
}

// FlushAll flushes all pending engine counters to the database
func FlushAll() error {
	if err := flushHashToColumn(engineDispatchedKey, "dispatch_count"); err != nil {
		return err
	}
	if err := flushHashToColumn(engineSucceededKey, "succeeded_count"); err != nil {
		return err
	}
	if err := flushHashToColumn(engineFailedKey, "failed_count"); err != nil {
		return err
	}
	return nil
}

// flushHashToColumn drains a Redis hash atomically and applies batched
// increments to the engine_stats day rows. Uses RENAME to a temporary key
// for atomic drain without losing in-flight increments.
func flushHashToColumn(redisKey, column string) error {
	ctx := context.Background()
	rdb := cache.GetClient()

	tmpKey := fmt.Sprintf("%s:tmp:%d", redisKey, time.Now().UnixNano())
	if err := rdb.Do(ctx, "RENAME", redisKey, tmpKey).Err(); err != nil {
		// If key does not exist, nothing to flush
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		if err.Error() == "redis: nil" {
			return nil
		}
		return err
	}

	// Ensure cleanup of tmpKey even if later steps fail
	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	day := time.Now().UTC().Format("2006-01-02")
	db := database.GetDB()
	for engineID, raw := range data {
		count, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || count <= 0 {
			continue
		}
		row := &models.EngineStat{EngineID: engineID, Day: day}
		if err := db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "engine_id"}, {Name: "day"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				column: clause.Expr{SQL: column + " + ?", Vars: []interface{}{count}},
			}),
		}).Create(seedStat(row, column, count)).Error; err != nil {
			return err
		}
	}
	return nil
}

// seedStat sets the inserted row's counter so a fresh (engine, day) pair
// starts at the flushed value instead of zero.
func seedStat(row *models.EngineStat, column string, count int64) *models.EngineStat {
	switch column {
	case "dispatch_count":
		row.DispatchCount = count
	case "succeeded_count":
		row.SucceededCount = count
	case "failed_count":
		row.FailedCount = count
	}
	return row
}
