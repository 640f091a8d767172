// Package httpclient は外部サービスへJSONでリクエストを送るHTTPクライアントを提供する。
//
// 通知サービスでは監査イベントをEvent Storeへ送信するために使用する。
package httpclient
