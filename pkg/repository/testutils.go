package repository

import (
	"github.com/alicebob/miniredis/v2"

	"github.com/relaychat/relay/pkg/common"
	"github.com/relaychat/relay/pkg/types"
)

// NewRedisClientForTest creates a Redis client backed by miniredis for testing
func NewRedisClientForTest() (*common.RedisClient, *miniredis.Miniredis, error) {
	s, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}

	rdb, err := common.NewRedisClient(types.RedisConfig{
		Addrs: []string{s.Addr()},
		Mode:  types.RedisModeSingle,
	})
	if err != nil {
		return nil, nil, err
	}

	return rdb, s, nil
}
