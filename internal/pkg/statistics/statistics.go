package statistics

import (
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/VisageAI/visage/app/models"
	"github.com/VisageAI/visage/internal/pkg/cache"
	"github.com/VisageAI/visage/internal/pkg/database"
)

const (
	CacheKeyGenerationsTotal = "statistics:generations:total"
	CacheKeyGenerationsDaily = "statistics:generations:daily:%s" // Format with date YYYY-MM-DD
	CacheKeyUsers            = "statistics:users:total"
	CacheExpiration          = 30 * time.Minute
)

// StatisticsData holds the public counters shown on the landing page.
type StatisticsData struct {
	TodayGenerations int
	TotalUsers       int
	TotalGenerations int
}

var (
	lastCacheUpdate     time.Time
	cacheUpdateMutex    sync.Mutex
	cacheUpdateInterval = 5 * time.Minute
)

// ShouldUpdateCache reports whether the cached counters are older than the update interval.
func ShouldUpdateCache() bool {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	return time.Since(lastCacheUpdate) > cacheUpdateInterval
}

// UpdateCacheIfNeeded refreshes the cached counters when the interval has elapsed.
func UpdateCacheIfNeeded() {
	if ShouldUpdateCache() {
		cacheUpdateMutex.Lock()
		defer cacheUpdateMutex.Unlock()

		log.Println("[Statistics] Updating statistics cache...")
		if err := UpdateStatisticsCache(); err != nil {
			log.Printf("[Statistics] Failed to update statistics cache: %v", err)
		} else {
			lastCacheUpdate = time.Now()
		}
	}
}

// ResetCacheUpdateTimer forces the next read to refresh the cache.
func ResetCacheUpdateTimer() {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	lastCacheUpdate = time.Time{}
}

// UpdateStatisticsCache recomputes all counters from the database and stores them in the cache.
func UpdateStatisticsCache() error {
	db := database.GetDB()

	var totalGenerations int64
	if err := db.Model(&models.Generation{}).Count(&totalGenerations).Error; err != nil {
		log.Printf("[Statistics] Error counting total generations: %v", err)
		return err
	}

	var todayGenerations int64
	today := time.Now().UTC().Format("2006-01-02")
	todayStart, _ := time.Parse("2006-01-02", today)
	todayEnd := todayStart.Add(24 * time.Hour)

	if err := db.Model(&models.Generation{}).Where("requested_at BETWEEN ? AND ?", todayStart, todayEnd).Count(&todayGenerations).Error; err != nil {
		log.Printf("[Statistics] Error counting today's generations: %v", err)
		return err
	}

	var totalUsers int64
	if err := db.Model(&models.User{}).Count(&totalUsers).Error; err != nil {
		log.Printf("[Statistics] Error counting total users: %v", err)
		return err
	}

	if err := cache.Set(CacheKeyGenerationsTotal, strconv.FormatInt(totalGenerations, 10), CacheExpiration); err != nil {
		log.Printf("[Statistics] Error caching total generations: %v", err)
		return err
	}

	dailyKey := fmt.Sprintf(CacheKeyGenerationsDaily, today)
	if err := cache.Set(dailyKey, strconv.FormatInt(todayGenerations, 10), CacheExpiration); err != nil {
		log.Printf("[Statistics] Error caching today's generations: %v", err)
		return err
	}

	if err := cache.Set(CacheKeyUsers, strconv.FormatInt(totalUsers, 10), CacheExpiration); err != nil {
		log.Printf("[Statistics] Error caching total users: %v", err)
		return err
	}

	return nil
}

// GetTotalGenerations returns the total number of generations from cache or database.
func GetTotalGenerations() int {
	val, err := cache.Get(CacheKeyGenerationsTotal)
	if err != nil {
		var count int64
		db := database.GetDB()
		if err := db.Model(&models.Generation{}).Count(&count).Error; err != nil {
			log.Printf("[Statistics] Error counting total generations: %v", err)
			return 0
		}

		if err := cache.Set(CacheKeyGenerationsTotal, strconv.FormatInt(count, 10), CacheExpiration); err != nil {
			log.Printf("[Statistics] Error caching total generations: %v", err)
		}

		return int(count)
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}

	return int(count)
}

// GetTodayGenerations returns the number of generations requested today from cache or database.
func GetTodayGenerations() int {
	today := time.Now().UTC().Format("2006-01-02")
	dailyKey := fmt.Sprintf(CacheKeyGenerationsDaily, today)

	val, err := cache.Get(dailyKey)
	if err != nil {
		var count int64
		db := database.GetDB()
		todayStart, _ := time.Parse("2006-01-02", today)
		todayEnd := todayStart.Add(24 * time.Hour)

		if err := db.Model(&models.Generation{}).Where("requested_at BETWEEN ? AND ?", todayStart, todayEnd).Count(&count).Error; err != nil {
			log.Printf("[Statistics] Error counting today's generations: %v", err)
			return 0
		}

		if err := cache.Set(dailyKey, strconv.FormatInt(count, 10), CacheExpiration); err != nil {
			log.Printf("[Statistics] Error caching today's generations: %v", err)
		}

		return int(count)
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}

	return int(count)
}

// GetTotalUsers returns the total number of users from cache or database.
func GetTotalUsers() int {
	val, err := cache.Get(CacheKeyUsers)
	if err != nil {
		var count int64
		db := database.GetDB()
		if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
			log.Printf("[Statistics] Error counting total users: %v", err)
			return 0
		}

		if err := cache.Set(CacheKeyUsers, strconv.FormatInt(count, 10), CacheExpiration); err != nil {
			log.Printf("[Statistics] Error caching total users: %v", err)
		}

		return int(count)
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}

	return int(count)
}

// GetStatisticsData returns all public counters, refreshing the cache when needed.
func GetStatisticsData() StatisticsData {
	UpdateCacheIfNeeded()

	return StatisticsData{
		TodayGenerations: GetTodayGenerations(),
		TotalUsers:       GetTotalUsers(),
		TotalGenerations: GetTotalGenerations(),
	}
}
