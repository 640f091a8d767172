// Package notification は通知サービスの内部実装を提供する。
//
// ユーザーごとの通知を永続化し、1ユーザーあたり最新RetentionLimit件だけを保持する。
// 一斉送信（Broadcaster）は受信者ごとに 作成 → 刈り込み → ライブ配信 の順で処理し、
// 接続中のセッションへはSSEでイベントを送る。ストアが常に正であり、
// ライブ配信はベストエフォートとして扱う。
package notification
