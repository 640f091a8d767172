package notification

import (
	"context"
	"fmt"

	"github.com/taskflow/notification/internal/config"
	"github.com/taskflow/notification/pkg/event"
	"github.com/taskflow/notification/pkg/httpclient"
)

// eventsPath はEvent Storeのイベント追記エンドポイント。
const eventsPath = "/api/v1/events"

// Auditor は通知に関する監査イベントを記録する。
type Auditor interface {
	Record(ctx context.Context, ev *event.Event) error
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, *event.Event) error { return nil }

// EventStoreAuditor は監査イベントをEvent StoreへPOSTする。
type EventStoreAuditor struct {
	client *httpclient.Client
}

// NewAuditor は設定からAuditorを生成する。eventstore.url が空なら何も記録しない。
func NewAuditor(cfg config.EventStore) Auditor {
	if cfg.URL == "" {
		return nopAuditor{}
	}
	return &EventStoreAuditor{client: httpclient.New(cfg.URL, cfg.Timeout)}
}

// Record はイベントを1件送信する。
func (a *EventStoreAuditor) Record(ctx context.Context, ev *event.Event) error {
	if err := a.client.PostJSON(ctx, eventsPath, ev, nil); err != nil {
		return fmt.Errorf("%sイベントの送信に失敗: %w", ev.EventType, err)
	}
	return nil
}
