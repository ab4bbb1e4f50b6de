package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func TryOnResultKey(jobID uuid.UUID) string {
	return fmt.Sprintf("tryon:result:%s", jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
