package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/taskflow/notification/internal/config"
	"github.com/taskflow/notification/internal/mailer"
	"github.com/taskflow/notification/internal/push"
	"github.com/taskflow/notification/pkg/middleware"
)

// roleAdmin は一斉送信を許可されたロール。
const roleAdmin = "admin"

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサービス全体の設定。
	cfg *config.Config
	// db はストアとユーザーディレクトリが共有するDB接続。
	db *sqlx.DB
	// store は通知の永続化層。
	store *Store
	// hub は接続中のSSEセッションのレジストリ。
	hub *push.Hub
	// broadcaster は一斉送信のコーディネーター。
	broadcaster *Broadcaster
	log         *zap.Logger
}

// NewServer は設定に従ってDB接続・マイグレーション・依存関係を組み立て、サーバーを生成する。
func NewServer(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}

	db, err := OpenDB(ctx, cfg.DB, log)
	if err != nil {
		return nil, err
	}

	store := NewStore(db, cfg.DB.QueryTimeout)
	users := NewSQLUsers(db, cfg.DB.QueryTimeout)
	hub := push.NewHub(cfg.Push.Buffer)
	broadcaster := NewBroadcaster(store, hub, users, log,
		WithMailer(mailer.New(cfg.SMTP, log)),
		WithAuditor(NewAuditor(cfg.EventStore)),
		WithConcurrency(cfg.Broadcast.Concurrency),
	)

	return newServer(cfg, db, store, hub, broadcaster, log), nil
}

func newServer(cfg *config.Config, db *sqlx.DB, store *Store, hub *push.Hub, broadcaster *Broadcaster, log *zap.Logger) *Server {
	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestLog(log))
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))

	s := &Server{
		router:      router,
		cfg:         cfg,
		db:          db,
		store:       store,
		hub:         hub,
		broadcaster: broadcaster,
		log:         log.With(zap.String("component", "http")),
	}
	s.setupRoutes()
	return s
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルに停止する。
// 停止時は接続中のSSEストリームを終了させ、一斉送信の付随処理の完了を待つ。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.HTTPAddr,
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.Server.ReadTimeout,
		IdleTimeout:       s.cfg.Server.IdleTimeout,
	}
	// SSEのハンドラは自分からは終わらないため、Shutdown開始時にHubを閉じて抜けさせる。
	srv.RegisterOnShutdown(s.hub.Close)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("通知サービスを起動します", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("通知サービスを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.GracefulTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	s.broadcaster.Wait()
	if err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	return nil
}

// Close はDB接続を閉じる。
func (s *Server) Close() error {
	return s.db.Close()
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	secret := s.cfg.Auth.JWTSecret

	api := s.router.Group("/api/v1")

	// EventSourceはヘッダーを付与できないため、ストリームだけクエリのトークンで認証する
	api.GET("/notifications/stream",
		middleware.JWTQueryAuth(secret, middleware.DefaultTokenQueryParam),
		s.handleStream(),
	)

	notifications := api.Group("/notifications")
	notifications.Use(middleware.JWTAuth(secret))
	{
		// 通知一覧取得
		notifications.GET("", s.handleList())
		// 未読通知一覧取得
		notifications.GET("/unread", s.handleListUnread())
		// 未読数取得
		notifications.GET("/unread-count", s.handleUnreadCount())
		// 通知を既読にする
		notifications.PUT("/:id/read", s.handleMarkAsRead())
		// 全通知を既読にする
		notifications.PUT("/read-all", s.handleMarkAllAsRead())
		// 通知を削除する
		notifications.DELETE("/:id", s.handleDelete())
		// 一斉送信（管理者のみ）
		notifications.POST("/broadcast", middleware.RequireRole(roleAdmin), s.handleBroadcast())
	}

	// ヘルスチェック
	s.router.GET("/health", s.handleHealth())
	// Prometheusメトリクス
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// handleList は認証済みユーザーの通知一覧を新しい順に返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		limit := 0
		if raw := c.Query("limit"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil {
				s.respondError(c, invalid("limit", "整数で指定してください"), "")
				return
			}
			limit = v
		}

		ns, err := s.store.ListForUser(c.Request.Context(), userID, limit)
		if err != nil {
			s.respondError(c, err, "通知一覧の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, toResponses(ns))
	}
}

// handleListUnread は認証済みユーザーの未読通知一覧を返すハンドラ。
func (s *Server) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		ns, err := s.store.ListUnread(c.Request.Context(), middleware.GetUserID(c))
		if err != nil {
			s.respondError(c, err, "未読通知一覧の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, toResponses(ns))
	}
}

// handleUnreadCount は認証済みユーザーの未読数を返すハンドラ。
func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := s.store.CountUnread(c.Request.Context(), middleware.GetUserID(c))
		if err != nil {
			s.respondError(c, err, "未読数の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": count})
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
// 他ユーザーの通知は存在しない通知と同じく404になる。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseID(c)
		if err != nil {
			s.respondError(c, err, "")
			return
		}

		if err := s.store.MarkRead(c.Request.Context(), id, middleware.GetUserID(c)); err != nil {
			s.respondError(c, err, "通知の既読処理に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "通知を既読にしました"})
	}
}

// handleMarkAllAsRead は認証済みユーザーの全通知を既読にするハンドラ。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := s.store.MarkAllRead(c.Request.Context(), middleware.GetUserID(c))
		if err != nil {
			s.respondError(c, err, "全通知の既読処理に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"updated": n})
	}
}

// handleDelete は指定された通知を削除するハンドラ。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseID(c)
		if err != nil {
			s.respondError(c, err, "")
			return
		}

		if err := s.store.Delete(c.Request.Context(), id, middleware.GetUserID(c)); err != nil {
			s.respondError(c, err, "通知の削除に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "通知を削除しました"})
	}
}

// broadcastRequest は一斉送信リクエストのJSON構造。
type broadcastRequest struct {
	// Recipients は宛先ユーザーID。isGeneralがtrueで空の場合は全ユーザー。
	Recipients []int64 `json:"recipients"`
	// Title は通知のタイトル。種類に応じた目印が先頭に付く。
	Title string `json:"title"`
	// Content は通知の本文。
	Content string `json:"content"`
	// IsGeneral は全体向けのお知らせかどうか。falseの場合は個人宛て。
	IsGeneral bool `json:"isGeneral"`
}

// handleBroadcast は複数ユーザーへ通知を一斉送信するハンドラ。
func (s *Server) handleBroadcast() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req broadcastRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.respondError(c, invalid("body", fmt.Sprintf("リクエストが不正です: %v", err)), "")
			return
		}

		kind := KindPersonal
		if req.IsGeneral {
			kind = KindGeneral
		}

		in := BroadcastRequest{
			SenderID:   middleware.GetUserID(c),
			Recipients: req.Recipients,
			Title:      req.Title,
			Message:    req.Content,
			Kind:       kind,
		}
		if claims := middleware.GetClaims(c); claims != nil {
			in.SenderName = claims.Name
		}

		// 送信者が切断しても、途中の受信者で打ち切らずに最後まで配信する
		res, err := s.broadcaster.Broadcast(context.WithoutCancel(c.Request.Context()), in)
		if err != nil {
			s.respondError(c, err, "通知の一斉送信に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"sentTo": len(res.SentTo)})
	}
}

// handleHealth はDB疎通を含むヘルスチェックのハンドラ。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.db.PingContext(c.Request.Context()); err != nil {
			s.log.Error("ヘルスチェックでDB疎通に失敗しました", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service": "notification"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	}
}

// parseID はパスパラメータの通知IDを解析する。
func parseID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, invalid("id", "通知IDが不正です")
	}
	return id, nil
}

// respondError はエラーの種類に応じたステータスでレスポンスを返す。
// 想定外のエラーは詳細をログにのみ残し、クライアントにはmsgを返す。
func (s *Server) respondError(c *gin.Context, err error, msg string) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Reason, "field": verr.Field})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": ErrNotFound.Error()})
	case errors.Is(err, ErrNoRecipients):
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrNoRecipients.Error(), "field": "recipients"})
	default:
		s.log.Error(msg,
			zap.String("path", c.FullPath()),
			zap.Int64("user_id", middleware.GetUserID(c)),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
