package contextstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	redisDocPrefix = "recallctx:doc:"
	redisTypesKey  = "recallctx:types"
)

// RedisBackend persists versions in Redis. Each type is a sorted set
// keyed by version, so latest and range reads are single commands.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend creates a RedisBackend over an existing client.
func NewRedisBackend(client *redis.Client) (*RedisBackend, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisBackend{client: client}, nil
}

// Append implements Backend.
func (b *RedisBackend) Append(ctx context.Context, doc *Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.ZAdd(ctx, redisDocPrefix+doc.Type, redis.Z{
		Score:  float64(doc.Version),
		Member: payload,
	})
	pipe.SAdd(ctx, redisTypesKey, doc.Type)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("writing version %d of %q: %w", doc.Version, doc.Type, err)
	}
	return nil
}

// Latest implements Backend.
func (b *RedisBackend) Latest(ctx context.Context, typ string) (*Document, error) {
	members, err := b.client.ZRevRange(ctx, redisDocPrefix+typ, 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("reading latest %q: %w", typ, err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	return decodeDocument(members[0])
}

// History implements Backend.
func (b *RedisBackend) History(ctx context.Context, typ string, q HistoryQuery) ([]*Document, error) {
	rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if q.Version != 0 {
		exact := strconv.FormatInt(q.Version, 10)
		rng.Min, rng.Max = exact, exact
	} else {
		if q.After != 0 {
			rng.Min = "(" + strconv.FormatInt(q.After, 10)
		}
		if q.Before != 0 {
			rng.Max = "(" + strconv.FormatInt(q.Before, 10)
		}
	}
	if q.Limit > 0 {
		rng.Count = int64(q.Limit)
	}

	members, err := b.client.ZRangeByScore(ctx, redisDocPrefix+typ, rng).Result()
	if err != nil {
		return nil, fmt.Errorf("reading history %q: %w", typ, err)
	}

	out := make([]*Document, 0, len(members))
	for _, m := range members {
		doc, err := decodeDocument(m)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// Types implements Backend.
func (b *RedisBackend) Types(ctx context.Context) ([]string, error) {
	types, err := b.client.SMembers(ctx, redisTypesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing context types: %w", err)
	}
	sort.Strings(types)
	return types, nil
}

func decodeDocument(raw string) (*Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	if doc.Data == nil {
		doc.Data = map[string]any{}
	}
	return &doc, nil
}
