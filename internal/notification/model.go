package notification

import (
	"database/sql"
	"time"
)

// RetentionLimit は1ユーザーあたりに保持する通知の最大件数。
const RetentionLimit = 5

// MaxListLimit は一覧取得で返す最大件数。
const MaxListLimit = 100

// Kind は通知の種類。クライアントの表示の出し分けにのみ使う。
type Kind string

const (
	// KindPersonal は特定ユーザー宛てのメッセージ。
	KindPersonal Kind = "personal"
	// KindGeneral は全体向けのお知らせ。
	KindGeneral Kind = "general"
	// KindInfo はシステムが生成する通知。
	KindInfo Kind = "info"
)

// titleMarkers は一斉送信時にタイトルの先頭へ付ける種類ごとの目印。
var titleMarkers = map[Kind]string{
	KindGeneral:  "📣 ",
	KindPersonal: "💬 ",
}

// DecorateTitle は種類に応じた目印をタイトルに付与する。目印を持たない種類はそのまま返す。
func DecorateTitle(kind Kind, title string) string {
	return titleMarkers[kind] + title
}

// Notification は永続化された1件の通知。
// 作成後に変更されるのは Read（false → true）のみ。
type Notification struct {
	ID         int64          `db:"id"`
	UserID     int64          `db:"user_id"`
	Title      string         `db:"title"`
	Message    string         `db:"message"`
	Type       Kind           `db:"type"`
	Read       bool           `db:"read"`
	SenderID   sql.NullInt64  `db:"sender_id"`
	SenderName sql.NullString `db:"sender_name"`
	CreatedAt  time.Time      `db:"created_at"`
}

// NewNotification は通知作成時の入力。
type NewNotification struct {
	UserID  int64
	Title   string
	Message string
	Type    Kind
	// SenderID が0の場合はシステム生成として扱い、NULLで保存する。
	SenderID int64
	// SenderName が空の場合はNULLで保存する。
	SenderName string
}

// Response は一覧APIとSSEで共通の通知のJSON表現。
type Response struct {
	ID         int64   `json:"id"`
	Title      string  `json:"title"`
	Message    string  `json:"message"`
	Type       Kind    `json:"type"`
	Read       bool    `json:"read"`
	Timestamp  string  `json:"timestamp"`
	SenderName *string `json:"senderName"`
}

// ToResponse は通知をJSON表現に変換する。
func (n *Notification) ToResponse() Response {
	r := Response{
		ID:        n.ID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      n.Type,
		Read:      n.Read,
		Timestamp: n.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if n.SenderName.Valid {
		name := n.SenderName.String
		r.SenderName = &name
	}
	return r
}

// toResponses は通知のスライスをJSON表現のスライスに変換する。空でもnilにはしない。
func toResponses(ns []Notification) []Response {
	out := make([]Response, 0, len(ns))
	for i := range ns {
		out = append(out, ns[i].ToResponse())
	}
	return out
}
