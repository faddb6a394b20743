package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// UsageGenerationTTL outlives any cached summary by a wide margin, so a
// counter that expires and restarts never revives an old entry.
const UsageGenerationTTL = 24 * time.Hour

// UsageGeneration returns the user's current usage generation. A missing
// counter is generation 0.
func UsageGeneration(ctx context.Context, c Cache, userID uuid.UUID) (int64, error) {
	b, ok, err := c.Get(ctx, UsageGenerationKey(userID))
	if err != nil || !ok {
		return 0, err
	}
	gen, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse usage generation: %w", err)
	}
	return gen, nil
}

// BumpUsageGeneration retires every cached usage summary of the user. A
// summary computed before the bump can still be written afterwards, but only
// under the old generation's key, which is no longer read.
func BumpUsageGeneration(ctx context.Context, c Cache, userID uuid.UUID) error {
	_, _, err := c.IncrWithExpiry(ctx, UsageGenerationKey(userID), UsageGenerationTTL)
	return err
}
