package notification

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound は操作対象の通知が存在しないか、呼び出し元の所有ではないことを表す。
	// 他ユーザーの通知IDの存在を漏らさないため、両者は区別しない。
	ErrNotFound = errors.New("通知が見つかりません")
	// ErrNoRecipients は一斉送信の有効な受信者が1人もいないことを表す。
	ErrNoRecipients = errors.New("有効な受信者がいません")
	// ErrBroadcastFailed は全ての受信者への通知に失敗したことを表す。
	ErrBroadcastFailed = errors.New("全ての受信者への通知に失敗しました")
)

// ValidationError はリクエストの特定フィールドが不正であることを表す。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
