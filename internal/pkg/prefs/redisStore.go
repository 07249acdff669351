package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ds124wfegd/espdisplay/internal/entity"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const DefaultAddressKey = "espdisplay:device:address"

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

type redisStore struct {
	client *redis.Client
	key    string
	def    entity.DeviceAddress
}

// NewRedisStore connects to redis and keeps the address under opts.Key.
// Until an address is saved, def is returned.
func NewRedisStore(ctx context.Context, opts RedisOptions, def entity.DeviceAddress) (AddressStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}

	key := opts.Key
	if key == "" {
		key = DefaultAddressKey
	}
	logrus.WithField("addr", opts.Addr).Info("device address store connected to redis")
	return &redisStore{client: client, key: key, def: def}, nil
}

// NewAddressStore prefers redis and falls back to memory when it is unreachable.
func NewAddressStore(ctx context.Context, opts RedisOptions, def entity.DeviceAddress) AddressStore {
	if opts.Addr == "" {
		return NewMemoryStore(def)
	}
	store, err := NewRedisStore(ctx, opts, def)
	if err != nil {
		logrus.WithError(err).Warn("using in-memory device address store instead")
		return NewMemoryStore(def)
	}
	return store
}

func (s *redisStore) Address(ctx context.Context) (entity.DeviceAddress, error) {
	data, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return s.def, nil
	}
	if err != nil {
		return entity.DeviceAddress{}, fmt.Errorf("load device address: %w", err)
	}

	var addr entity.DeviceAddress
	if err := json.Unmarshal([]byte(data), &addr); err != nil {
		return entity.DeviceAddress{}, fmt.Errorf("decode device address: %w", err)
	}
	return addr, nil
}

func (s *redisStore) SetAddress(ctx context.Context, addr entity.DeviceAddress) error {
	if err := addr.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(addr)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key, data, 0).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
