// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `CREATE TABLE IF NOT EXISTS refactor_ledger (
	name       TEXT PRIMARY KEY,
	document   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore 账本文档存于 refactor_ledger 表的一行，单条 upsert 语句即原子替换
type PostgresStore struct {
	pool *pgxpool.Pool
	name string
}

// NewPostgresStore 连接并确保表存在
func NewPostgresStore(ctx context.Context, dsn, name string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create refactor_ledger: %w", err)
	}
	if name == "" {
		name = "default"
	}
	return &PostgresStore{pool: pool, name: name}, nil
}

func (p *PostgresStore) Load(ctx context.Context) ([]byte, error) {
	var doc string
	err := p.pool.QueryRow(ctx, `SELECT document::text FROM refactor_ledger WHERE name = $1`, p.name).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(doc), nil
}

func (p *PostgresStore) Save(ctx context.Context, data []byte) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO refactor_ledger (name, document, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (name) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`,
		p.name, string(data))
	return err
}

func (p *PostgresStore) Backend() string { return "postgres" }

// Close 关闭连接池
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
