// Package redisdb provides a psk.Store that keeps cached PMKs in redis, with an optional expiry.
package redisdb

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"code.wpakey.org/golang/pkg/psk"
)

const (
	queryTimeout  = 2 * time.Second
	DefaultPrefix = "pmk"
)

// PMKStore is a psk.Store backed by redis string keys.
//
// Entries are msgpack encoded and stored under Prefix:hex(Key).
// A zero TTL keeps Entries until they are removed.
type PMKStore struct {
	Client redis.Cmdable
	Prefix string
	TTL    time.Duration
}

// New returns a PMKStore that uses client. The caller owns the client lifecycle.
func New(client redis.Cmdable, ttl time.Duration) *PMKStore {
	return &PMKStore{Client: client, Prefix: DefaultPrefix, TTL: ttl}
}

// Dial connects to the redis server referenced by url, eg redis://localhost:6379/0.
// It errors if the server does not answer a PING.
func Dial(ctx context.Context, url string, ttl time.Duration) (*PMKStore, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if nil != err {
		return nil, nil, wrapError(err, "invalid redis url")
	}
	client := redis.NewClient(opts)

	qctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	err = client.Ping(qctx).Err()
	if nil != err {
		client.Close()
		return nil, nil, wrapError(err, "failed connecting to redis")
	}

	return New(client, ttl), client, nil
}

// Load loads the Entry referenced by key into dst.
// It returns true if the Entry was found and successfully loaded.
func (self *PMKStore) Load(ctx context.Context, key psk.Key, dst *psk.Entry) (bool, error) {
	qctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	srzentry, err := self.Client.Get(qctx, self.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if nil != err {
		return false, wrapError(err, "failed redis GET")
	}

	err = msgpack.Unmarshal(srzentry, dst)
	if nil != err {
		return false, wrapError(err, "failed unmarshaling entry")
	}

	return true, nil
}

// Save saves entry in the PMKStore, replacing any Entry with the same Key.
// It errors if entry is invalid or could not be saved.
func (self *PMKStore) Save(ctx context.Context, entry psk.Entry) error {
	err := entry.Check()
	if nil != err {
		return wrapError(err, "entry is invalid")
	}

	srzentry, err := msgpack.Marshal(entry)
	if nil != err {
		return wrapError(err, "failed msgpack.Marshal(entry)")
	}

	qctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	err = self.Client.Set(qctx, self.key(entry.Key), srzentry, self.TTL).Err()

	return wrapError(err, "failed redis SET") // nil if err is nil
}

// Remove removes the Entry referenced by key from the PMKStore.
// It returns true if the Entry was effectively removed.
func (self *PMKStore) Remove(ctx context.Context, key psk.Key) (bool, error) {
	qctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	count, err := self.Client.Del(qctx, self.key(key)).Result()
	if nil != err {
		return false, wrapError(err, "failed redis DEL")
	}

	return count > 0, nil
}

func (self *PMKStore) key(key psk.Key) string {
	if "" == self.Prefix {
		return key.String()
	}
	return self.Prefix + ":" + key.String()
}
