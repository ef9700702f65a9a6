package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"
	"github.com/rpi-tgbot-go/internal/config"
	"github.com/sirupsen/logrus"
)

const lastIPKey = "rpibot:last_ip"

// Storage keeps the state that may outlive a single bot session
type Storage interface {
	GetLastIP(ctx context.Context) (string, error)
	SaveLastIP(ctx context.Context, ip string) error
	Close() error
}

// Manager manages different storage backends
type Manager struct {
	storage Storage
	logger  logrus.FieldLogger
}

// NewManager creates a new storage manager
func NewManager(cfg *config.Config, logger logrus.FieldLogger) (*Manager, error) {
	var storage Storage

	switch cfg.Storage.Type {
	case "redis":
		redisStorage, err := NewRedisStorage(&cfg.Storage.Redis, logger)
		if err != nil {
			return nil, err
		}
		storage = redisStorage
	case "memory":
		storage = NewMemoryStorage()
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	return &Manager{storage: storage, logger: logger}, nil
}

// NewManagerWith wraps an already constructed backend
func NewManagerWith(storage Storage, logger logrus.FieldLogger) *Manager {
	return &Manager{storage: storage, logger: logger}
}

func (m *Manager) GetLastIP(ctx context.Context) (string, error) {
	return m.storage.GetLastIP(ctx)
}

func (m *Manager) SaveLastIP(ctx context.Context, ip string) error {
	return m.storage.SaveLastIP(ctx, ip)
}

func (m *Manager) Close() error {
	return m.storage.Close()
}

// RedisStorage implements storage using Redis
type RedisStorage struct {
	client *redis.Client
	logger logrus.FieldLogger
}

func NewRedisStorage(cfg *config.RedisConfig, logger logrus.FieldLogger) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStorage{
		client: client,
		logger: logger,
	}, nil
}

func (r *RedisStorage) GetLastIP(ctx context.Context) (string, error) {
	ip, err := r.client.Get(ctx, lastIPKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	return ip, err
}

func (r *RedisStorage) SaveLastIP(ctx context.Context, ip string) error {
	return r.client.Set(ctx, lastIPKey, ip, 0).Err()
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}

// MemoryStorage implements storage using in-memory cache
type MemoryStorage struct {
	values *cache.Cache
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		values: cache.New(cache.NoExpiration, cache.NoExpiration),
	}
}

func (m *MemoryStorage) GetLastIP(ctx context.Context) (string, error) {
	if val, found := m.values.Get(lastIPKey); found {
		return val.(string), nil
	}
	return "", nil
}

func (m *MemoryStorage) SaveLastIP(ctx context.Context, ip string) error {
	m.values.Set(lastIPKey, ip, cache.NoExpiration)
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}
