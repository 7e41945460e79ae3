package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// DefaultScanBatchSize is used when no positive batch size is given.
const DefaultScanBatchSize = 1000

// ScanKeys returns every key matching pattern, iterating with SCAN so the
// server is never blocked.
func ScanKeys(ctx context.Context, client redis.UniversalClient, pattern string, batchSize int64) ([]string, error) {
	if batchSize <= 0 {
		batchSize = DefaultScanBatchSize
	}
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := client.Scan(ctx, cursor, pattern, batchSize).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// DeleteKeys removes every key matching pattern and returns how many were deleted.
func DeleteKeys(ctx context.Context, client redis.UniversalClient, pattern string, batchSize int64) (int64, error) {
	keys, err := ScanKeys(ctx, client, pattern, batchSize)
	if err != nil || len(keys) == 0 {
		return 0, err
	}
	var n int64
	for start := 0; start < len(keys); start += DefaultScanBatchSize {
		end := min(start+DefaultScanBatchSize, len(keys))
		deleted, err := client.Del(ctx, keys[start:end]...).Result()
		if err != nil {
			return n, err
		}
		n += deleted
	}
	return n, nil
}
