package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const notificationColumns = `id, user_id, title, message, type, read, sender_id, sender_name, created_at`

const (
	qInsert = `INSERT INTO notifications (user_id, title, message, type, read, sender_id, sender_name, created_at)
VALUES (?, ?, ?, ?, 0, ?, ?, ?) RETURNING id`

	qListForUser = `SELECT ` + notificationColumns + ` FROM notifications
WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`

	qListUnread = `SELECT ` + notificationColumns + ` FROM notifications
WHERE user_id = ? AND read = 0 ORDER BY created_at DESC, id DESC`

	qCountUnread = `SELECT COUNT(*) FROM notifications WHERE user_id = ? AND read = 0`

	qMarkRead = `UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?`

	qMarkAllRead = `UPDATE notifications SET read = 1 WHERE user_id = ? AND read = 0`

	qDelete = `DELETE FROM notifications WHERE id = ? AND user_id = ?`

	// トランザクション終了まで保持されるユーザー単位のロック。
	// READ COMMITTED では他トランザクションの未コミットの挿入が見えないため、
	// ロックなしでは並行する刈り込みが同じ行を消し合い6件以上残る。
	qLockUserPG = `SELECT pg_advisory_xact_lock(?)`

	// 保持順（created_at DESC, id DESC）で上位に入らない行を削除する。
	// 同じユーザーへの書き込みはlockUserで直列化した上で実行する。
	qPrune = `DELETE FROM notifications WHERE user_id = ? AND id NOT IN (
SELECT id FROM notifications WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?)`
)

// Store は通知の永続化を担う。全ての読み書きは呼び出し元ユーザーのIDで絞り込まれる。
type Store struct {
	db           *sqlx.DB
	queryTimeout time.Duration
	// now は作成日時の採番に使う。テストで差し替える。
	now func() time.Time
}

// NewStore は新しいStoreを生成する。queryTimeoutが0以下の場合はタイムアウトを付けない。
func NewStore(db *sqlx.DB, queryTimeout time.Duration) *Store {
	return &Store{
		db:           db,
		queryTimeout: queryTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

// Create は未読の通知を1件保存する。IDと作成日時はここで採番される。
func (s *Store) Create(ctx context.Context, in NewNotification) (*Notification, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.insert(ctx, s.db, in)
	if err != nil {
		return nil, err
	}
	mCreated.WithLabelValues(string(n.Type)).Inc()
	return n, nil
}

// CreateAndPrune は通知の保存と保持件数の刈り込みを1トランザクションで行う。
// 戻り値の int64 は削除された古い通知の件数。
func (s *Store) CreateAndPrune(ctx context.Context, in NewNotification) (*Notification, int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		n      *Notification
		pruned int64
	)
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.lockUser(ctx, tx, in.UserID); err != nil {
			return err
		}
		var err error
		if n, err = s.insert(ctx, tx, in); err != nil {
			return err
		}
		pruned, err = prune(ctx, tx, in.UserID)
		return err
	})
	if err != nil {
		return nil, 0, err
	}

	mCreated.WithLabelValues(string(n.Type)).Inc()
	mPruned.Add(float64(pruned))
	return n, pruned, nil
}

// Prune はユーザーの通知のうち新しい順に RetentionLimit 件を残して削除し、削除件数を返す。
// 何度実行しても結果は変わらない。
func (s *Store) Prune(ctx context.Context, userID int64) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int64
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.lockUser(ctx, tx, userID); err != nil {
			return err
		}
		var err error
		n, err = prune(ctx, tx, userID)
		return err
	})
	if err != nil {
		return 0, err
	}
	mPruned.Add(float64(n))
	return n, nil
}

// ListForUser はユーザーの通知を新しい順に最大limit件返す。
// limitが0以下またはMaxListLimitを超える場合はMaxListLimitとして扱う。
func (s *Store) ListForUser(ctx context.Context, userID int64, limit int) ([]Notification, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	out := []Notification{}
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(qListForUser), userID, limit); err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	return out, nil
}

// ListUnread はユーザーの未読通知を新しい順に返す。
func (s *Store) ListUnread(ctx context.Context, userID int64) ([]Notification, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	out := []Notification{}
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(qListUnread), userID); err != nil {
		return nil, fmt.Errorf("未読通知一覧の取得に失敗: %w", err)
	}
	return out, nil
}

// CountUnread はユーザーの未読通知数を返す。
func (s *Store) CountUnread(ctx context.Context, userID int64) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var count int64
	if err := s.db.GetContext(ctx, &count, s.db.Rebind(qCountUnread), userID); err != nil {
		return 0, fmt.Errorf("未読通知数の取得に失敗: %w", err)
	}
	return count, nil
}

// MarkRead は呼び出し元ユーザーの通知を既読にする。
// 該当行がない場合（存在しない、または他ユーザーの通知）はErrNotFoundを返す。
// 既読済みの通知に対しても成功する。
func (s *Store) MarkRead(ctx context.Context, id, userID int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(qMarkRead), id, userID)
	if err != nil {
		return fmt.Errorf("通知の既読処理に失敗: %w", err)
	}
	return requireAffected(res)
}

// MarkAllRead はユーザーの未読通知を全て既読にし、更新件数を返す。
func (s *Store) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(qMarkAllRead), userID)
	if err != nil {
		return 0, fmt.Errorf("全通知の既読処理に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	return n, nil
}

// Delete は呼び出し元ユーザーの通知を削除する。ErrNotFoundの扱いはMarkReadと同じ。
func (s *Store) Delete(ctx context.Context, id, userID int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(qDelete), id, userID)
	if err != nil {
		return fmt.Errorf("通知の削除に失敗: %w", err)
	}
	return requireAffected(res)
}

func (s *Store) insert(ctx context.Context, q sqlx.ExtContext, in NewNotification) (*Notification, error) {
	if in.Type == "" {
		in.Type = KindInfo
	}
	n := &Notification{
		UserID:     in.UserID,
		Title:      in.Title,
		Message:    in.Message,
		Type:       in.Type,
		SenderID:   sql.NullInt64{Int64: in.SenderID, Valid: in.SenderID != 0},
		SenderName: sql.NullString{String: in.SenderName, Valid: in.SenderName != ""},
		CreatedAt:  s.now(),
	}

	err := q.QueryRowxContext(ctx, q.Rebind(qInsert),
		n.UserID, n.Title, n.Message, string(n.Type), n.SenderID, n.SenderName, n.CreatedAt,
	).Scan(&n.ID)
	if err != nil {
		return nil, fmt.Errorf("通知の作成に失敗: %w", err)
	}
	return n, nil
}

func prune(ctx context.Context, q sqlx.ExtContext, userID int64) (int64, error) {
	res, err := q.ExecContext(ctx, q.Rebind(qPrune), userID, userID, RetentionLimit)
	if err != nil {
		return 0, fmt.Errorf("古い通知の削除に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return n, nil
}

// lockUser は同じユーザーへの「作成 → 刈り込み」をトランザクション単位で直列化する。
// SQLiteは接続を1本に絞っているため、トランザクション自体が直列に実行される。
func (s *Store) lockUser(ctx context.Context, tx *sqlx.Tx, userID int64) error {
	if s.db.DriverName() != "pgx" {
		return nil
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(qLockUserPG), userID); err != nil {
		return fmt.Errorf("ユーザー単位のロック取得に失敗: %w", err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗: %w", err)
	}
	return nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// isNotFound はsql.ErrNoRowsをErrNotFoundに読み替える。
func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, ErrNotFound)
}
