package store

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// RedisTLSConfig enables TLS toward the backend, optionally pinning a CA.
type RedisTLSConfig struct {
	Enabled bool
	CAFile  string
}

// RedisConfig carries connection parameters for the Redis backend.
type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      RedisTLSConfig
}

type redisStore struct {
	client        valkey.Client
	maxEntryBytes int64
	logger        *slog.Logger
}

// NewRedis connects to the Redis backend and verifies it with a ping.
// maxEntryBytes caps serialized entry size (0 disables the cap).
func NewRedis(cfg RedisConfig, maxEntryBytes int64, logger *slog.Logger) (Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("store: redis address required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("store: read redis ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("store: redis ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("store: redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("store: redis ping: %w", err)
	}

	return &redisStore{client: client, maxEntryBytes: maxEntryBytes, logger: logger}, nil
}

func (s *redisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("store: redis get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return Entry{}, false, fmt.Errorf("store: redis get bytes: %w", err)
	}
	entry, err := decodeEntry(payload)
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

func (s *redisStore) Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("store: redis set requires a positive ttl")
	}
	entry.Key = key
	payload, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	if s.maxEntryBytes > 0 && int64(len(payload)) > s.maxEntryBytes {
		s.logger.Warn("cache entry exceeds size cap, not cached",
			slog.String("key", key),
			slog.Int("size_bytes", len(payload)),
			slog.Int64("max_bytes", s.maxEntryBytes))
		return nil
	}
	cmd := s.client.B().Set().Key(key).Value(valkey.BinaryString(payload)).Px(ttl).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("store: redis set: %w", err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	resp := s.client.Do(ctx, s.client.B().Del().Key(keys...).Build())
	n, err := resp.ToInt64()
	if err != nil {
		return 0, fmt.Errorf("store: redis del: %w", err)
	}
	return n, nil
}

func (s *redisStore) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	keys, err := s.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	return s.Delete(ctx, keys...)
}

func (s *redisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		resp := s.client.Do(ctx, s.client.B().Scan().Cursor(cursor).Match(pattern).Count(256).Build())
		scan, err := resp.AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("store: redis scan: %w", err)
		}
		keys = append(keys, scan.Elements...)
		cursor = scan.Cursor
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (s *redisStore) ValueSize(ctx context.Context, key string) (int64, bool, error) {
	resp := s.client.Do(ctx, s.client.B().Strlen().Key(key).Build())
	n, err := resp.ToInt64()
	if err != nil {
		return 0, false, fmt.Errorf("store: redis strlen: %w", err)
	}
	return n, n > 0, nil
}

func (s *redisStore) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	cmd := s.client.B().Set().Key(key).Value("1").Nx().Px(ttl).Build()
	err := s.client.Do(ctx, cmd).Error()
	if err == nil {
		return true, nil
	}
	if errors.Is(err, valkey.Nil) {
		return false, nil
	}
	return false, fmt.Errorf("store: redis lock: %w", err)
}

func (s *redisStore) Unlock(ctx context.Context, key string) error {
	if _, err := s.Delete(ctx, key); err != nil {
		return fmt.Errorf("store: redis unlock: %w", err)
	}
	return nil
}

func (s *redisStore) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	cmd := s.client.B().Sadd().Key(key).Member(members...).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("store: redis sadd: %w", err)
	}
	return nil
}

func (s *redisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	resp := s.client.Do(ctx, s.client.B().Smembers().Key(key).Build())
	members, err := resp.AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("store: redis smembers: %w", err)
	}
	return members, nil
}

func (s *redisStore) SetCard(ctx context.Context, key string) (int64, error) {
	resp := s.client.Do(ctx, s.client.B().Scard().Key(key).Build())
	n, err := resp.ToInt64()
	if err != nil {
		return 0, fmt.Errorf("store: redis scard: %w", err)
	}
	return n, nil
}

func (s *redisStore) SetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	cmd := s.client.B().Srem().Key(key).Member(members...).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("store: redis srem: %w", err)
	}
	return nil
}

func (s *redisStore) Close(context.Context) error {
	s.client.Close()
	return nil
}
