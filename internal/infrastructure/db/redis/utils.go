package redisdb

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultNumOfRetries = 5

// parseConfig expects a redis client and an optional number of retries for optimistic writes.
func parseConfig(config ...interface{}) (*redis.Client, int, error) {
	if len(config) < 1 || len(config) > 2 {
		return nil, 0, fmt.Errorf("invalid config: expected 1 or 2 arguments, got %d", len(config))
	}
	rdb, ok := config[0].(*redis.Client)
	if !ok {
		return nil, 0, fmt.Errorf("cannot open repository: expected *redis.Client but got %T", config[0])
	}
	numOfRetries := defaultNumOfRetries
	if len(config) == 2 {
		n, ok := config[1].(int)
		if !ok || n <= 0 {
			return nil, 0, fmt.Errorf("invalid number of retries")
		}
		numOfRetries = n
	}
	return rdb, numOfRetries, nil
}
