package notification

import (
	"context"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/taskflow/notification/internal/config"
	"github.com/taskflow/notification/pkg/migration"
)

//go:embed migrations
var migrationsFS embed.FS

// sqlitePragmas は接続直後にSQLiteへ適用するPRAGMA。
var sqlitePragmas = []string{
	"PRAGMA foreign_keys = ON",
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
}

// OpenDB はデータベースに接続し、ドライバに対応するマイグレーションを適用する。
// driverは "sqlite"（modernc.org/sqlite）または "pgx"（jackc/pgx/v5/stdlib）。
func OpenDB(ctx context.Context, cfg config.DB, log *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	var dialect string
	switch cfg.Driver {
	case "sqlite":
		dialect = "sqlite"
		// 書き込みはシングルコネクションで直列化する。:memory: の場合はDB自体が接続ごとに別物になる。
		db.SetMaxOpenConns(1)
		for _, p := range sqlitePragmas {
			if _, err := db.ExecContext(ctx, p); err != nil {
				db.Close()
				return nil, fmt.Errorf("PRAGMAの設定に失敗 (%s): %w", p, err)
			}
		}
	case "pgx":
		dialect = "postgres"
	default:
		db.Close()
		return nil, fmt.Errorf("未対応のドライバ: %s", cfg.Driver)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("データベースへの疎通確認に失敗: %w", err)
	}

	if err := migration.Run(ctx, db, migrationsFS, "migrations/"+dialect, log); err != nil {
		db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return db, nil
}
