package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID int64 `json:"user_id"`
	// Name はユーザーの表示名。
	Name string `json:"name,omitempty"`
	// Role はユーザーの権限（"admin" / "member"）。
	Role string `json:"role,omitempty"`
}

const (
	// ctxKeyUserID はGinコンテキストにユーザーIDを格納するキー。
	ctxKeyUserID = "user_id"
	// ctxKeyClaims はGinコンテキストにクレーム全体を格納するキー。
	ctxKeyClaims = "jwt_claims"

	// DefaultTokenQueryParam はストリーム接続でトークンを受け取るクエリパラメータ名。
	DefaultTokenQueryParam = "token"

	// issuer はトークン発行者。
	issuer = "taskflow-auth"
)

// errUnauthorized は認証失敗時に原因を問わず返すメッセージ。
const errUnauthorized = "認証に失敗しました"

var (
	// ErrMissingToken はトークンが指定されていないことを表す。
	ErrMissingToken = errors.New("トークンが指定されていません")
	// ErrInvalidToken はトークンの署名・形式・有効期限のいずれかが不正であることを表す。
	ErrInvalidToken = errors.New("トークンが無効です")
)

// GenerateJWT はユーザー情報から有効期限付きのJWTトークンを生成する。
func GenerateJWT(secret string, userID int64, name, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
		UserID: userID,
		Name:   name,
		Role:   role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// ParseToken はトークン文字列を検証してクレームを返す。
// ヘッダー経由・クエリパラメータ経由のどちらの認証もこの関数で検証する。
func ParseToken(secret, tokenString string) (*JWTClaims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("%w: user_id がありません", ErrInvalidToken)
	}
	return claims, nil
}

// JWTAuth は Authorization: Bearer ヘッダーのJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストにユーザーIDとクレームを設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !found {
			tokenString = ""
		}
		authenticate(c, secret, tokenString)
	}
}

// JWTQueryAuth はクエリパラメータで渡されたJWTトークンを検証するGinミドルウェアを返す。
// ブラウザのEventSourceはヘッダーを付与できないため、SSEストリームの接続で使用する。
// 検証内容はJWTAuthと同一。
func JWTQueryAuth(secret, param string) gin.HandlerFunc {
	if param == "" {
		param = DefaultTokenQueryParam
	}
	return func(c *gin.Context) {
		authenticate(c, secret, c.Query(param))
	}
}

// authenticate はトークンを検証し、失敗時はストリームを開く前に401で中断する。
func authenticate(c *gin.Context, secret, tokenString string) {
	claims, err := ParseToken(secret, tokenString)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
		return
	}

	c.Set(ctxKeyUserID, claims.UserID)
	c.Set(ctxKeyClaims, claims)
	c.Next()
}

// RequireRole は指定ロールを持たないユーザーを403で拒否するGinミドルウェアを返す。
// JWTAuthの後に適用する。
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil || claims.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "この操作を行う権限がありません"})
			return
		}
		c.Next()
	}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。未認証の場合は0を返す。
func GetUserID(c *gin.Context) int64 {
	v, _ := c.Get(ctxKeyUserID)
	if id, ok := v.(int64); ok {
		return id
	}
	return 0
}

// SetUserID はGinコンテキストにユーザーIDを設定する。
// 認証済みの内部呼び出しやテストでJWTAuthを経由せずに利用する。
func SetUserID(c *gin.Context, userID int64) {
	c.Set(ctxKeyUserID, userID)
}

// GetClaims はGinコンテキストからJWTクレームを取得する。
func GetClaims(c *gin.Context) *JWTClaims {
	v, _ := c.Get(ctxKeyClaims)
	if claims, ok := v.(*JWTClaims); ok {
		return claims
	}
	return nil
}
