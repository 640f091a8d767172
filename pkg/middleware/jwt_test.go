package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testSecret はテスト用のJWTシークレット。
const testSecret = "test-secret-key-for-unit-tests"

// newAuthRouter はミドルウェアを適用したテスト用ルーターを生成する。
// ハンドラ内で取得したユーザーIDをcapturedに書き込む。
func newAuthRouter(mw gin.HandlerFunc, captured *int64) *gin.Engine {
	router := gin.New()
	router.Use(mw)
	router.GET("/test", func(c *gin.Context) {
		*captured = GetUserID(c)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

// assertUnauthorized は401と統一された認証エラーメッセージが返ることを検証する。
func assertUnauthorized(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("レスポンスボディのパースに失敗: %v", err)
	}
	if body["error"] != errUnauthorized {
		t.Errorf("error = %q, want %q", body["error"], errUnauthorized)
	}
}

// expiredToken は有効期限切れのトークンを生成する。
func expiredToken(t *testing.T) string {
	t.Helper()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
		UserID: 7,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("トークンの署名に失敗: %v", err)
	}
	return s
}

// TestGenerateJWT はGenerateJWT関数を検証する。
func TestGenerateJWT(t *testing.T) {
	t.Parallel()

	t.Run("生成したトークンをParseTokenで検証できること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT(testSecret, 7, "Alice", "admin", time.Hour)
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		claims, err := ParseToken(testSecret, tokenStr)
		if err != nil {
			t.Fatalf("ParseToken()でエラーが発生: %v", err)
		}
		if claims.UserID != 7 {
			t.Errorf("UserID = %d, want 7", claims.UserID)
		}
		if claims.Name != "Alice" {
			t.Errorf("Name = %q, want %q", claims.Name, "Alice")
		}
		if claims.Role != "admin" {
			t.Errorf("Role = %q, want %q", claims.Role, "admin")
		}
		if claims.Issuer != issuer {
			t.Errorf("Issuer = %q, want %q", claims.Issuer, issuer)
		}
	})

	t.Run("署名アルゴリズムがHS256であること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT(testSecret, 1, "", "", time.Hour)
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		token, _, err := new(jwt.Parser).ParseUnverified(tokenStr, &JWTClaims{})
		if err != nil {
			t.Fatalf("トークンのパースに失敗: %v", err)
		}
		if token.Method.Alg() != "HS256" {
			t.Errorf("署名アルゴリズム = %q, want %q", token.Method.Alg(), "HS256")
		}
	})
}

// TestParseToken はParseToken関数の失敗パターンを検証する。
func TestParseToken(t *testing.T) {
	t.Parallel()

	t.Run("空文字列はErrMissingToken", func(t *testing.T) {
		t.Parallel()

		_, err := ParseToken(testSecret, "")
		if !errors.Is(err, ErrMissingToken) {
			t.Errorf("err = %v, want ErrMissingToken", err)
		}
	})

	t.Run("異なるシークレットではErrInvalidToken", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT("other-secret", 1, "", "", time.Hour)
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}
		if _, err := ParseToken(testSecret, tokenStr); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("err = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("有効期限切れはErrInvalidToken", func(t *testing.T) {
		t.Parallel()

		if _, err := ParseToken(testSecret, expiredToken(t)); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("err = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("有効期限が無いトークンはErrInvalidToken", func(t *testing.T) {
		t.Parallel()

		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, JWTClaims{UserID: 1}).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("トークンの署名に失敗: %v", err)
		}
		if _, err := ParseToken(testSecret, s); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("err = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("user_idが無いトークンはErrInvalidToken", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT(testSecret, 0, "", "", time.Hour)
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}
		if _, err := ParseToken(testSecret, tokenStr); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("err = %v, want ErrInvalidToken", err)
		}
	})
}

// TestJWTAuth はヘッダー認証のJWTAuthミドルウェアを検証する。
func TestJWTAuth(t *testing.T) {
	t.Parallel()

	t.Run("有効なトークンでリクエストが成功すること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT(testSecret, 9, "Bob", "member", time.Hour)
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		var captured int64
		router := newAuthRouter(JWTAuth(testSecret), &captured)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer "+tokenStr)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if captured != 9 {
			t.Errorf("user_id = %d, want 9", captured)
		}
	})

	t.Run("Authorizationヘッダーが無い場合401が返ること", func(t *testing.T) {
		t.Parallel()

		var captured int64
		router := newAuthRouter(JWTAuth(testSecret), &captured)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		assertUnauthorized(t, w)
	})

	t.Run("Bearer接頭辞が無い場合401が返ること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT(testSecret, 9, "", "", time.Hour)
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		var captured int64
		router := newAuthRouter(JWTAuth(testSecret), &captured)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", tokenStr)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assertUnauthorized(t, w)
	})

	t.Run("期限切れトークンは401が返ること", func(t *testing.T) {
		t.Parallel()

		var captured int64
		router := newAuthRouter(JWTAuth(testSecret), &captured)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer "+expiredToken(t))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assertUnauthorized(t, w)
	})

	t.Run("クエリパラメータのトークンはヘッダー認証では受け付けないこと", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT(testSecret, 9, "", "", time.Hour)
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		var captured int64
		router := newAuthRouter(JWTAuth(testSecret), &captured)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test?token="+tokenStr, nil))

		assertUnauthorized(t, w)
	})
}

// TestJWTQueryAuth はクエリパラメータ認証のJWTQueryAuthミドルウェアを検証する。
func TestJWTQueryAuth(t *testing.T) {
	t.Parallel()

	t.Run("クエリパラメータの有効なトークンで成功すること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT(testSecret, 42, "", "", time.Hour)
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		var captured int64
		router := newAuthRouter(JWTQueryAuth(testSecret, ""), &captured)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test?token="+tokenStr, nil))

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if captured != 42 {
			t.Errorf("user_id = %d, want 42", captured)
		}
	})

	t.Run("トークンが無い場合401が返ること", func(t *testing.T) {
		t.Parallel()

		var captured int64
		router := newAuthRouter(JWTQueryAuth(testSecret, "token"), &captured)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		assertUnauthorized(t, w)
	})

	t.Run("期限切れトークンはヘッダー認証と同様に401が返ること", func(t *testing.T) {
		t.Parallel()

		var captured int64
		router := newAuthRouter(JWTQueryAuth(testSecret, "token"), &captured)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test?token="+expiredToken(t), nil))

		assertUnauthorized(t, w)
		if captured != 0 {
			t.Errorf("ハンドラが実行されてはいけない: user_id = %d", captured)
		}
	})
}

// TestRequireRole はロール制御ミドルウェアを検証する。
func TestRequireRole(t *testing.T) {
	t.Parallel()

	newRouter := func() *gin.Engine {
		router := gin.New()
		router.Use(JWTAuth(testSecret), RequireRole("admin"))
		router.GET("/admin", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
		return router
	}

	tests := []struct {
		name string
		role string
		want int
	}{
		{name: "adminロールは許可される", role: "admin", want: http.StatusOK},
		{name: "memberロールは403", role: "member", want: http.StatusForbidden},
		{name: "ロール無しは403", role: "", want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tokenStr, err := GenerateJWT(testSecret, 1, "", tt.role, time.Hour)
			if err != nil {
				t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
			}

			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			req.Header.Set("Authorization", "Bearer "+tokenStr)
			w := httptest.NewRecorder()
			newRouter().ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("ステータスコード = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
