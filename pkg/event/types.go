// Package event は通知サービスが外部のEvent Storeへ送る監査イベントを定義する。
package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeNotification は個々の通知を表す。
	AggregateTypeNotification AggregateType = "Notification"
	// AggregateTypeBroadcast は一斉送信を表す。
	AggregateTypeBroadcast AggregateType = "Broadcast"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeNotificationSent は通知が作成され、ライブ配信が試行されたことを表す。
	TypeNotificationSent Type = "NotificationSent"
	// TypeBroadcastCompleted は一斉送信が完了したことを表す。
	TypeBroadcastCompleted Type = "BroadcastCompleted"
)

// Event はEvent Storeに送る不変のイベントレコード。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// Version はAggregate内でのイベントの順序番号。
	Version int64 `json:"version"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// NotificationSentData はNotificationSentイベントのデータ。
type NotificationSentData struct {
	NotificationID int64  `json:"notification_id"`
	UserID         int64  `json:"user_id"`
	Title          string `json:"title"`
	Type           string `json:"type"`
	// Delivered はライブ配信できたセッション数。
	Delivered int `json:"delivered"`
}

// BroadcastCompletedData はBroadcastCompletedイベントのデータ。
type BroadcastCompletedData struct {
	// BroadcastID は一斉送信ごとに採番される識別子。集約IDに使う。
	BroadcastID string  `json:"broadcast_id"`
	SenderID   int64   `json:"sender_id"`
	Kind       string  `json:"kind"`
	Title      string  `json:"title"`
	Recipients []int64 `json:"recipients"`
	SentTo     []int64 `json:"sent_to"`
}
