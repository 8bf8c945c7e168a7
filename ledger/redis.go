package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const registerScript = `
local previous = redis.call("GET", KEYS[1])
if previous and previous ~= ARGV[1] then
  redis.call("SREM", ARGV[4] .. previous, ARGV[2])
end
local ttl = tonumber(ARGV[3])
redis.call("SET", KEYS[1], ARGV[1], "PX", ttl)
redis.call("SADD", KEYS[2], ARGV[2])
if redis.call("PTTL", KEYS[2]) < ttl then
  redis.call("PEXPIRE", KEYS[2], ttl)
end
return 1
`

const consumeScript = `
local subject = redis.call("GET", KEYS[1])
if not subject then
  return false
end
redis.call("DEL", KEYS[1])
redis.call("SREM", ARGV[1] .. subject, ARGV[2])
return subject
`

const revokeScript = `
local subject = redis.call("GET", KEYS[1])
if not subject then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("SREM", ARGV[1] .. subject, ARGV[2])
return 1
`

const revokeAllScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
local removed = 0
for _, id in ipairs(ids) do
  removed = removed + redis.call("DEL", ARGV[1] .. id)
end
redis.call("DEL", KEYS[1])
return removed
`

var (
	registerLua  = redis.NewScript(registerScript)
	consumeLua   = redis.NewScript(consumeScript)
	revokeLua    = redis.NewScript(revokeScript)
	revokeAllLua = redis.NewScript(revokeAllScript)
)

// ErrShardedClient is returned by CheckClient for cluster and ring clients.
var ErrShardedClient = errors.New("refresh ledger requires a single-node redis client")

// CheckClient rejects clients that spread keys over shards. The scripts touch
// the subject index and token keys that are derived inside Lua and not passed
// as KEYS, which only a single node (or a primary with replicas) allows.
func CheckClient(client redis.UniversalClient) error {
	switch client.(type) {
	case *redis.ClusterClient, *redis.Ring:
		return fmt.Errorf("%w: got %T", ErrShardedClient, client)
	}
	return nil
}

// RedisLedger stores entries in Redis. Every operation is a single Lua script,
// so each one is atomic with respect to every other. It is not cluster safe;
// see CheckClient.
//
// Keys:
//
//	<prefix>:rt:<id>       string, value = subject, PX = remaining lifetime
//	<prefix>:rs:<subject>  set of ids, expiry extended to the longest member
type RedisLedger struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisLedger returns a ledger namespaced under prefix. An empty prefix
// selects "tg".
func NewRedisLedger(client redis.UniversalClient, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = "tg"
	}
	return &RedisLedger{redis: client, prefix: prefix}
}

func (l *RedisLedger) tokenPrefix() string {
	return l.prefix + ":rt:"
}

func (l *RedisLedger) subjectPrefix() string {
	return l.prefix + ":rs:"
}

func (l *RedisLedger) tokenKey(id string) string {
	return l.tokenPrefix() + id
}

func (l *RedisLedger) subjectKey(subject string) string {
	return l.subjectPrefix() + subject
}

func (l *RedisLedger) Register(ctx context.Context, id, subject string, ttl time.Duration) error {
	if err := validateEntry(id, subject, ttl); err != nil {
		return err
	}
	ms := ttl.Milliseconds()
	if ms <= 0 {
		ms = 1
	}

	err := registerLua.Run(ctx, l.redis,
		[]string{l.tokenKey(id), l.subjectKey(subject)},
		subject, id, ms, l.subjectPrefix(),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (l *RedisLedger) Consume(ctx context.Context, id string) (string, bool, error) {
	if id == "" {
		return "", false, nil
	}

	subject, err := consumeLua.Run(ctx, l.redis,
		[]string{l.tokenKey(id)},
		l.subjectPrefix(), id,
	).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return subject, true, nil
}

func (l *RedisLedger) Revoke(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}

	err := revokeLua.Run(ctx, l.redis,
		[]string{l.tokenKey(id)},
		l.subjectPrefix(), id,
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// RevokeAll snapshots the subject index and deletes it together with its
// members in one script. An id registered after the script ran survives.
func (l *RedisLedger) RevokeAll(ctx context.Context, subject string) (int, error) {
	if subject == "" {
		return 0, nil
	}

	removed, err := revokeAllLua.Run(ctx, l.redis,
		[]string{l.subjectKey(subject)},
		l.tokenPrefix(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return removed, nil
}

// ActiveIDs returns the indexed ids for subject whose entries still exist.
func (l *RedisLedger) ActiveIDs(ctx context.Context, subject string) ([]string, error) {
	ids, err := l.redis.SMembers(ctx, l.subjectKey(subject)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(ids) == 0 {
		return []string{}, nil
	}

	pipe := l.redis.Pipeline()
	cmds := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Exists(ctx, l.tokenKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	active := make([]string, 0, len(ids))
	for i, cmd := range cmds {
		if cmd.Val() == 1 {
			active = append(active, ids[i])
		}
	}
	return active, nil
}

// Ping reports whether the backing Redis is reachable.
func (l *RedisLedger) Ping(ctx context.Context) error {
	if err := l.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
