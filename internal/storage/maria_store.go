package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	_ "github.com/go-sql-driver/mysql"
)

// MariaStore хранит снимки в таблице galaxy_snapshots MariaDB/MySQL
type MariaStore struct {
	db     *sql.DB
	closed atomic.Bool
}

// NewMariaStore подключается и создаёт таблицу, если её нет.
//
// Параметры:
//
//	dsn - строка подключения к базе данных (user:pass@tcp(host:port)/dbname)
func NewMariaStore(ctx context.Context, dsn string) (*MariaStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	store := &MariaStore{db: db}
	if err := store.createTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицу: %w", err)
	}
	return store, nil
}

func (m *MariaStore) createTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS galaxy_snapshots (
			name       VARCHAR(191) PRIMARY KEY,
			data       LONGBLOB     NOT NULL,
			updated_at TIMESTAMP    DEFAULT CURRENT_TIMESTAMP
			           ON UPDATE    CURRENT_TIMESTAMP
		) ENGINE=InnoDB
	`
	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ошибка создания таблицы galaxy_snapshots: %w", err)
	}
	return nil
}

func (m *MariaStore) Save(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if m.closed.Load() {
		return ErrNotReady
	}

	query := `
		INSERT INTO galaxy_snapshots (name, data) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE data = VALUES(data), updated_at = CURRENT_TIMESTAMP
	`
	if _, err := m.db.ExecContext(ctx, query, key, data); err != nil {
		return fmt.Errorf("ошибка сохранения снимка %s: %w", key, err)
	}
	return nil
}

func (m *MariaStore) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if m.closed.Load() {
		return nil, ErrNotReady
	}

	var data []byte
	err := m.db.QueryRowContext(ctx, `SELECT data FROM galaxy_snapshots WHERE name = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки снимка %s: %w", key, err)
	}
	return data, nil
}

func (m *MariaStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if m.closed.Load() {
		return ErrNotReady
	}
	if _, err := m.db.ExecContext(ctx, `DELETE FROM galaxy_snapshots WHERE name = ?`, key); err != nil {
		return fmt.Errorf("ошибка удаления снимка %s: %w", key, err)
	}
	return nil
}

func (m *MariaStore) List(ctx context.Context) ([]string, error) {
	if m.closed.Load() {
		return nil, ErrNotReady
	}

	rows, err := m.db.QueryContext(ctx, `SELECT name FROM galaxy_snapshots ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка снимков: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		keys = append(keys, name)
	}
	return keys, rows.Err()
}

func (m *MariaStore) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	return m.db.Close()
}
