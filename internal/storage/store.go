// Package storage хранит сериализованные снимки галактики по строковому ключу.
//
// Все бэкенды реализуют SnapshotStore и не знают формат данных:
// сериализацию и сжатие делает internal/codec.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/annel0/starfleet/internal/config"
)

var (
	ErrNotFound   = errors.New("storage: snapshot not found")
	ErrNotReady   = errors.New("storage: store is closed")
	ErrInvalidKey = errors.New("storage: invalid key")
)

// MaxKeyLen предельная длина ключа (ограничена колонкой MariaDB)
const MaxKeyLen = 191

// SnapshotStore хранилище снимков
type SnapshotStore interface {
	// Save записывает данные под ключом, заменяя прежние
	Save(ctx context.Context, key string, data []byte) error
	// Load читает данные; ErrNotFound если ключа нет
	Load(ctx context.Context, key string) ([]byte, error)
	// Delete удаляет ключ; отсутствие ключа не ошибка
	Delete(ctx context.Context, key string) error
	// List возвращает отсортированные ключи
	List(ctx context.Context) ([]string, error)
	// Close освобождает ресурсы; после него операции возвращают ErrNotReady
	Close() error
}

// ValidateKey проверяет ключ: непустой, без разделителей пути и пробелов
func ValidateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	case len(key) > MaxKeyLen:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidKey, MaxKeyLen)
	case strings.ContainsAny(key, "/\\ \t\n\x00"), key == ".", key == "..":
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// Open создаёт хранилище по секции storage конфигурации
func Open(ctx context.Context, cfg config.StorageConfig) (SnapshotStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Path)
	case "badger":
		return NewBadgerStore(cfg.Path)
	case "redis":
		return NewRedisStore(ctx, RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.KeyPrefix,
		})
	case "maria":
		return NewMariaStore(ctx, cfg.MariaDSN)
	case "mongo":
		return NewMongoStore(ctx, MongoConfig{
			URI:        cfg.MongoURI,
			Database:   cfg.MongoDatabase,
			Collection: cfg.MongoCollection,
		})
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}
