package notification

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taskflow/notification/pkg/middleware"
)

// defaultHeartbeat はキープアライブコメントの既定の送信間隔。
const defaultHeartbeat = 25 * time.Second

// handleStream は認証済みユーザーのSSEストリームを開くハンドラ。
// 接続中は保存済みの通知がコミットされるたびに "notification" イベントとして届く。
// クライアントの切断か書き込み失敗でセッションを解除して終了する。
func (s *Server) handleStream() gin.HandlerFunc {
	heartbeat := s.cfg.Push.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}

	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		ctx := c.Request.Context()

		session := s.hub.Subscribe(userID)
		defer s.hub.Unsubscribe(session)

		log := s.log.With(zap.Int64("user_id", userID), zap.Uint64("session_id", session.ID()))
		log.Debug("SSEストリームを開始しました")
		defer log.Debug("SSEストリームを終了しました")

		h := c.Writer.Header()
		h.Set("Content-Type", sse.ContentType)
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		// リバースプロキシでのバッファリングを止める
		h.Set("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)

		if err := writeComment(c.Writer, "connected"); err != nil {
			return
		}
		c.Writer.Flush()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := writeComment(c.Writer, "ping"); err != nil {
					log.Debug("ハートビートの書き込みに失敗しました", zap.Error(err))
					return
				}
				c.Writer.Flush()
			case ev, ok := <-session.Events():
				if !ok {
					// Hubが閉じられた（シャットダウン）
					return
				}
				err := sse.Encode(c.Writer, sse.Event{
					Event: ev.Name,
					Id:    ev.ID,
					Data:  ev.Data,
				})
				if err != nil {
					log.Debug("イベントの書き込みに失敗しました", zap.Error(err))
					return
				}
				c.Writer.Flush()
			}
		}
	}
}

// writeComment はSSEのコメント行を書き込む。クライアントには無視され、接続の維持に使う。
func writeComment(w io.Writer, text string) error {
	_, err := io.WriteString(w, ": "+text+"\n\n")
	return err
}
