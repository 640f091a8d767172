package notification

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/taskflow/notification/internal/mailer"
	"github.com/taskflow/notification/internal/push"
	"github.com/taskflow/notification/pkg/event"
)

const (
	// EventName はSSEで通知を配信するときのイベント名。
	EventName = "notification"
	// DefaultConcurrency は受信者ごとの処理の既定の同時実行数。
	DefaultConcurrency = 8
	// sideEffectTimeout はメール送信と監査イベント送信にかける時間の上限。
	sideEffectTimeout = 30 * time.Second
)

// BroadcastRequest は一斉送信の入力。
type BroadcastRequest struct {
	SenderID int64
	// SenderName が空の場合はユーザーディレクトリから解決する。
	SenderName string
	// Recipients が空でKindがKindGeneralの場合は全ユーザーが宛先になる。
	Recipients []int64
	Title      string
	Message    string
	Kind       Kind
}

// BroadcastResult は一斉送信の結果。各スライスはユーザーID昇順。
type BroadcastResult struct {
	// SentTo は通知を保存できた受信者。
	SentTo []int64
	// Unknown はユーザーディレクトリに存在せず除外された受信者。
	Unknown []int64
	// Failed は保存に失敗した受信者。
	Failed []int64
}

// delivery は1受信者分の処理結果。
type delivery struct {
	user      User
	n         *Notification
	delivered int
}

// Broadcaster は複数ユーザーへの通知を保存し、ライブ配信し、付随処理を起動する。
type Broadcaster struct {
	store       *Store
	hub         *push.Hub
	users       UserDirectory
	mailer      mailer.Sender
	auditor     Auditor
	concurrency int
	log         *zap.Logger

	// pending は非同期の付随処理（メール・監査）の完了待ちに使う。
	pending sync.WaitGroup
}

// BroadcasterOption はBroadcasterの任意設定。
type BroadcasterOption func(*Broadcaster)

// WithMailer はメール送信器を設定する。
func WithMailer(m mailer.Sender) BroadcasterOption {
	return func(b *Broadcaster) { b.mailer = m }
}

// WithAuditor は監査イベントの記録先を設定する。
func WithAuditor(a Auditor) BroadcasterOption {
	return func(b *Broadcaster) { b.auditor = a }
}

// WithConcurrency は受信者ごとの処理の同時実行数を設定する。
func WithConcurrency(n int) BroadcasterOption {
	return func(b *Broadcaster) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// NewBroadcaster は新しいBroadcasterを生成する。
func NewBroadcaster(store *Store, hub *push.Hub, users UserDirectory, log *zap.Logger, opts ...BroadcasterOption) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Broadcaster{
		store:       store,
		hub:         hub,
		users:       users,
		mailer:      mailer.Nop{},
		auditor:     nopAuditor{},
		concurrency: DefaultConcurrency,
		log:         log.With(zap.String("component", "broadcast")),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Broadcast は受信者ごとに「保存と刈り込み → ライブ配信」を行う。
// 受信者ごとの失敗は他の受信者に影響しない。全員が失敗した場合のみ
// ErrBroadcastFailed と各原因を結合したエラーを返す。
// メールと監査イベントは結果を返した後に非同期で送られる。
func (b *Broadcaster) Broadcast(ctx context.Context, req BroadcastRequest) (*BroadcastResult, error) {
	start := time.Now()
	defer func() { mBroadcastDuration.Observe(time.Since(start).Seconds()) }()

	if err := validateBroadcast(&req); err != nil {
		return nil, err
	}

	recipients, unknown, err := b.resolveRecipients(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return &BroadcastResult{Unknown: unknown}, ErrNoRecipients
	}

	senderName := b.resolveSenderName(ctx, req)
	title := DecorateTitle(req.Kind, req.Title)

	var (
		mu       sync.Mutex
		sent     []delivery
		failed   []int64
		failures []error
	)

	g := new(errgroup.Group)
	g.SetLimit(b.concurrency)
	for _, u := range recipients {
		g.Go(func() error {
			d, err := b.deliver(ctx, u, NewNotification{
				UserID:     u.ID,
				Title:      title,
				Message:    req.Message,
				Type:       req.Kind,
				SenderID:   req.SenderID,
				SenderName: senderName,
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				mRecipientFailures.Inc()
				b.log.Warn("受信者への通知に失敗しました", zap.Int64("user_id", u.ID), zap.Error(err))
				failed = append(failed, u.ID)
				failures = append(failures, fmt.Errorf("user %d: %w", u.ID, err))
				return nil
			}
			sent = append(sent, d)
			return nil
		})
	}
	// 受信者ごとのエラーは上で回収しているため、Waitは常にnilを返す。
	_ = g.Wait()

	slices.SortFunc(sent, func(x, y delivery) int { return cmp.Compare(x.user.ID, y.user.ID) })
	slices.Sort(failed)

	res := &BroadcastResult{
		SentTo:  make([]int64, 0, len(sent)),
		Unknown: unknown,
		Failed:  failed,
	}
	for _, d := range sent {
		res.SentTo = append(res.SentTo, d.user.ID)
	}

	if len(sent) == 0 {
		return res, errors.Join(append([]error{ErrBroadcastFailed}, failures...)...)
	}

	b.log.Info("一斉送信が完了しました",
		zap.Int64("sender_id", req.SenderID),
		zap.String("kind", string(req.Kind)),
		zap.Int("sent", len(res.SentTo)),
		zap.Int("failed", len(res.Failed)),
		zap.Int("unknown", len(res.Unknown)),
	)

	b.afterBroadcast(req, title, sent, res, time.Now().UTC())
	return res, nil
}

// Wait は起動済みの付随処理が全て終わるまで待つ。
func (b *Broadcaster) Wait() {
	b.pending.Wait()
}

// deliver は1受信者分の保存・刈り込みを行い、コミット後にライブ配信する。
func (b *Broadcaster) deliver(ctx context.Context, u User, in NewNotification) (delivery, error) {
	n, pruned, err := b.store.CreateAndPrune(ctx, in)
	if err != nil {
		return delivery{}, err
	}
	if pruned > 0 {
		b.log.Debug("古い通知を削除しました", zap.Int64("user_id", u.ID), zap.Int64("pruned", pruned))
	}

	delivered := b.hub.Publish(u.ID, push.Event{
		Name: EventName,
		ID:   strconv.FormatInt(n.ID, 10),
		Data: n.ToResponse(),
	})
	return delivery{user: u, n: n, delivered: delivered}, nil
}

func validateBroadcast(req *BroadcastRequest) error {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return invalid("title", "タイトルは必須です")
	}
	if strings.TrimSpace(req.Message) == "" {
		return invalid("content", "本文は必須です")
	}
	if req.Kind != KindGeneral && req.Kind != KindPersonal {
		return invalid("isGeneral", fmt.Sprintf("未対応の種類です: %q", req.Kind))
	}
	for _, id := range req.Recipients {
		if id <= 0 {
			return invalid("recipients", fmt.Sprintf("不正なユーザーIDです: %d", id))
		}
	}
	return nil
}

// resolveRecipients は宛先を重複排除してユーザーディレクトリで検証する。
// 存在しないIDはunknownとして返す。
func (b *Broadcaster) resolveRecipients(ctx context.Context, req BroadcastRequest) ([]User, []int64, error) {
	if len(req.Recipients) == 0 {
		if req.Kind != KindGeneral {
			return nil, nil, nil
		}
		all, err := b.users.All(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("宛先ユーザーの取得に失敗: %w", err)
		}
		return all, nil, nil
	}

	ids := slices.Clone(req.Recipients)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	found, err := b.users.Lookup(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("宛先ユーザーの取得に失敗: %w", err)
	}

	var (
		users   []User
		unknown []int64
	)
	for _, id := range ids {
		u, ok := found[id]
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		users = append(users, u)
	}
	return users, unknown, nil
}

func (b *Broadcaster) resolveSenderName(ctx context.Context, req BroadcastRequest) string {
	if req.SenderName != "" || req.SenderID <= 0 {
		return req.SenderName
	}
	u, err := b.users.Get(ctx, req.SenderID)
	if err != nil {
		b.log.Debug("送信者名を解決できませんでした", zap.Int64("sender_id", req.SenderID), zap.Error(err))
		return ""
	}
	return u.Name
}

// afterBroadcast はメール送信と監査イベントの記録を非同期に行う。
// 失敗はログとメトリクスに残すだけで、保存済みの通知には影響しない。
func (b *Broadcaster) afterBroadcast(req BroadcastRequest, title string, sent []delivery, res *BroadcastResult, completedAt time.Time) {
	b.pending.Add(1)
	go func() {
		defer b.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()

		for _, d := range sent {
			if d.user.Email == "" {
				continue
			}
			if err := b.mailer.Send(ctx, d.user.Email, title, req.Message); err != nil {
				mSideEffectFailures.WithLabelValues("email").Inc()
				b.log.Warn("通知メールの送信に失敗しました", zap.Int64("user_id", d.user.ID), zap.Error(err))
			}
		}

		for _, d := range sent {
			b.record(ctx, event.NotificationSentData{
				NotificationID: d.n.ID,
				UserID:         d.user.ID,
				Title:          d.n.Title,
				Type:           string(d.n.Type),
				Delivered:      d.delivered,
			}, d.n.CreatedAt)
		}

		recipients := make([]int64, 0, len(res.SentTo)+len(res.Failed))
		recipients = append(recipients, res.SentTo...)
		recipients = append(recipients, res.Failed...)
		slices.Sort(recipients)
		b.record(ctx, event.BroadcastCompletedData{
			BroadcastID: uuid.NewString(),
			SenderID:    req.SenderID,
			Kind:        string(req.Kind),
			Title:       title,
			Recipients:  recipients,
			SentTo:      res.SentTo,
		}, completedAt)
	}()
}

func (b *Broadcaster) record(ctx context.Context, p event.Payload, occurredAt time.Time) {
	ev, err := event.New(p, occurredAt)
	if err != nil {
		b.log.Error("監査イベントの生成に失敗しました", zap.Error(err))
		return
	}
	if err := b.auditor.Record(ctx, ev); err != nil {
		mSideEffectFailures.WithLabelValues("audit").Inc()
		b.log.Warn("監査イベントの送信に失敗しました",
			zap.String("event_type", string(ev.EventType)),
			zap.String("aggregate_id", ev.AggregateID),
			zap.Error(err),
		)
	}
}
