package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// User は通知の宛先・送信者となるユーザー。ユーザー管理自体は別サービスの責務。
type User struct {
	ID    int64  `db:"id"`
	Name  string `db:"name"`
	Email string `db:"email"`
	Role  string `db:"role"`
}

// UserDirectory はユーザー情報の参照先。
type UserDirectory interface {
	// Lookup は指定IDのうち存在するユーザーだけを返す。
	Lookup(ctx context.Context, ids []int64) (map[int64]User, error)
	// All は全ユーザーをID順に返す。
	All(ctx context.Context) ([]User, error)
	// Get はユーザーを1件返す。存在しない場合はErrNotFound。
	Get(ctx context.Context, id int64) (*User, error)
}

// SQLUsers は users テーブルを参照する UserDirectory。
type SQLUsers struct {
	db           *sqlx.DB
	queryTimeout time.Duration
}

// NewSQLUsers は新しいSQLUsersを生成する。
func NewSQLUsers(db *sqlx.DB, queryTimeout time.Duration) *SQLUsers {
	return &SQLUsers{db: db, queryTimeout: queryTimeout}
}

func (u *SQLUsers) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if u.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, u.queryTimeout)
}

// Lookup は指定IDのユーザーを一括取得する。
func (u *SQLUsers) Lookup(ctx context.Context, ids []int64) (map[int64]User, error) {
	out := make(map[int64]User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`SELECT id, name, email, role FROM users WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("ユーザー検索クエリの組み立てに失敗: %w", err)
	}

	ctx, cancel := u.withTimeout(ctx)
	defer cancel()

	var users []User
	if err := u.db.SelectContext(ctx, &users, u.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	for _, usr := range users {
		out[usr.ID] = usr
	}
	return out, nil
}

// All は全ユーザーを返す。
func (u *SQLUsers) All(ctx context.Context) ([]User, error) {
	ctx, cancel := u.withTimeout(ctx)
	defer cancel()

	users := []User{}
	if err := u.db.SelectContext(ctx, &users, `SELECT id, name, email, role FROM users ORDER BY id`); err != nil {
		return nil, fmt.Errorf("全ユーザーの取得に失敗: %w", err)
	}
	return users, nil
}

// Get はユーザーを1件取得する。
func (u *SQLUsers) Get(ctx context.Context, id int64) (*User, error) {
	ctx, cancel := u.withTimeout(ctx)
	defer cancel()

	var usr User
	err := u.db.GetContext(ctx, &usr, u.db.Rebind(`SELECT id, name, email, role FROM users WHERE id = ?`), id)
	if isNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	return &usr, nil
}

// CreateUser はユーザーを登録し、採番されたIDを返す。
// 本サービスはユーザーを管理しないため、初期データ投入とテストでのみ使う。
func (u *SQLUsers) CreateUser(ctx context.Context, name, email, role string) (int64, error) {
	if role == "" {
		role = "member"
	}

	ctx, cancel := u.withTimeout(ctx)
	defer cancel()

	var id int64
	err := u.db.QueryRowxContext(ctx,
		u.db.Rebind(`INSERT INTO users (name, email, role) VALUES (?, ?, ?) RETURNING id`),
		name, email, role,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ユーザーの登録に失敗: %w", err)
	}
	return id, nil
}
