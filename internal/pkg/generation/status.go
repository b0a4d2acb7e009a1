package generation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/VisageAI/visage/internal/pkg/cache"
)

// Cache key format for generation status polling
const (
	GenerationStatusKeyFormat = "generation:status:%s" // Format: generation:status:<uuid>

	statusCacheTTL = 24 * time.Hour
)

// SetStatusCache mirrors the generation status into the cache so pollers
// do not hit the database. The owning user id is stored with the status;
// a cached read must never leak another user's generation. The database
// row stays the source of truth.
func SetStatusCache(generationUUID string, userID uint, status string) error {
	key := fmt.Sprintf(GenerationStatusKeyFormat, generationUUID)
	return cache.Set(key, statusCacheValue(userID, status), statusCacheTTL)
}

// GetStatusCache retrieves the mirrored status and its owner, if any.
func GetStatusCache(generationUUID string) (uint, string, error) {
	key := fmt.Sprintf(GenerationStatusKeyFormat, generationUUID)
	raw, err := cache.Get(key)
	if err != nil {
		return 0, "", err
	}
	return parseStatusCacheValue(raw)
}

// ClearStatusCache removes the mirrored status
func ClearStatusCache(generationUUID string) error {
	key := fmt.Sprintf(GenerationStatusKeyFormat, generationUUID)
	return cache.Delete(key)
}

func statusCacheValue(userID uint, status string) string {
	return fmt.Sprintf("%d|%s", userID, status)
}

func parseStatusCacheValue(raw string) (uint, string, error) {
	owner, status, ok := strings.Cut(raw, "|")
	if !ok || status == "" {
		return 0, "", fmt.Errorf("malformed status cache value %q", raw)
	}
	id, err := strconv.ParseUint(owner, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed status cache owner %q", owner)
	}
	return uint(id), status, nil
}
