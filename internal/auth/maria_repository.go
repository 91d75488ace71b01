package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const mariaSchema = `
CREATE TABLE IF NOT EXISTS guests (
	provider_user_id VARCHAR(191) PRIMARY KEY,
	provider         VARCHAR(64)  NOT NULL,
	display_name     VARCHAR(255) NOT NULL,
	times_joined     INT          NOT NULL DEFAULT 0,
	last_time_joined DATETIME     NULL,
	observer         BOOLEAN      NOT NULL DEFAULT FALSE,
	tester           BOOLEAN      NOT NULL DEFAULT FALSE,
	secrets          JSON         NULL
)`

// MariaRepository — хранилище записей гостей в MariaDB/MySQL.
// Список секретов лежит JSON-колонкой: читается всегда целиком.
type MariaRepository struct {
	db *sql.DB
}

// NewMariaRepository подключается к базе и создаёт схему
func NewMariaRepository(ctx context.Context, dsn string) (*MariaRepository, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("auth: open maria: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("auth: ping maria: %w", err)
	}
	if _, err := db.ExecContext(ctx, mariaSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("auth: create schema: %w", err)
	}
	return &MariaRepository{db: db}, nil
}

func (m *MariaRepository) Get(ctx context.Context, providerUserID string) (*GuestRecord, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT provider_user_id, provider, display_name, times_joined,
		       last_time_joined, observer, tester, secrets
		FROM guests WHERE provider_user_id = ?`, providerUserID)

	var record GuestRecord
	var lastJoined sql.NullTime
	var secrets sql.NullString
	err := row.Scan(&record.ProviderUserID, &record.Provider, &record.DisplayName,
		&record.TimesJoined, &lastJoined, &record.Observer, &record.Tester, &secrets)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: select guest: %w", err)
	}
	if lastJoined.Valid {
		record.LastTimeJoined = lastJoined.Time
	}
	if secrets.Valid && secrets.String != "" {
		if err := json.Unmarshal([]byte(secrets.String), &record.Secrets); err != nil {
			return nil, fmt.Errorf("auth: decode secrets: %w", err)
		}
	}
	return &record, nil
}

func (m *MariaRepository) Put(ctx context.Context, record *GuestRecord) error {
	secrets, err := json.Marshal(record.Secrets)
	if err != nil {
		return fmt.Errorf("auth: encode secrets: %w", err)
	}
	var lastJoined interface{}
	if !record.LastTimeJoined.IsZero() {
		lastJoined = record.LastTimeJoined
	}
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO guests (provider_user_id, provider, display_name, times_joined,
		                    last_time_joined, observer, tester, secrets)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			provider = VALUES(provider),
			display_name = VALUES(display_name),
			times_joined = VALUES(times_joined),
			last_time_joined = VALUES(last_time_joined),
			observer = VALUES(observer),
			tester = VALUES(tester),
			secrets = VALUES(secrets)`,
		record.ProviderUserID, record.Provider, record.DisplayName, record.TimesJoined,
		lastJoined, record.Observer, record.Tester, string(secrets))
	if err != nil {
		return fmt.Errorf("auth: upsert guest: %w", err)
	}
	return nil
}

func (m *MariaRepository) Close(context.Context) error {
	return m.db.Close()
}
