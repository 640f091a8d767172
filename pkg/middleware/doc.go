// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWT認証トークンの検証（ヘッダー／クエリパラメータ）、ロール制御、
// zapによるリクエストログ、パニックリカバリ、CORS設定を含む。
package middleware
