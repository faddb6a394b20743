package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// RateLimitKey scopes a client's counter to one limiter policy.
func RateLimitKey(policy, client string) string {
	return fmt.Sprintf("ratelimit:%s:%s", policy, client)
}

// UsageKey addresses a user's cached usage summary for one generation.
func UsageKey(userID uuid.UUID, generation int64) string {
	return fmt.Sprintf("usage:%s:%d", userID, generation)
}

func UsageGenerationKey(userID uuid.UUID) string {
	return fmt.Sprintf("usage:gen:%s", userID)
}
