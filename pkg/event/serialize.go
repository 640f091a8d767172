package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Version は監査イベントの集約内の順序番号。
// 通知も一斉送信も集約ごとにイベントを1件しか発行しないため固定値になる。
const Version int64 = 1

// Payload は監査イベントのデータ。自身がどの集約のどの種類のイベントかを知っている。
type Payload interface {
	aggregate() (AggregateType, string)
	eventType() Type
}

func (d NotificationSentData) aggregate() (AggregateType, string) {
	return AggregateTypeNotification, "notification-" + strconv.FormatInt(d.NotificationID, 10)
}

func (NotificationSentData) eventType() Type { return TypeNotificationSent }

func (d BroadcastCompletedData) aggregate() (AggregateType, string) {
	return AggregateTypeBroadcast, "broadcast-" + d.BroadcastID
}

func (BroadcastCompletedData) eventType() Type { return TypeBroadcastCompleted }

// New はペイロードからイベントを生成する。
// occurredAt には事象の発生日時（通知なら作成日時）を渡し、UTCで記録する。
func New(p Payload, occurredAt time.Time) (*Event, error) {
	jsonData, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
	}

	aggregateType, aggregateID := p.aggregate()
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     p.eventType(),
		Data:          jsonData,
		Version:       Version,
		CreatedAt:     occurredAt.UTC(),
	}, nil
}
