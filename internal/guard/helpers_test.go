package guard

import (
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
)

var pgxTxOptions = pgx.TxOptions{}

// redisClientForTest points at a closed port so every command fails fast.
func redisClientForTest() *redis.Client {
	return redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
}
