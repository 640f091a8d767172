// Package obs はロガーとメトリクスなど、サービス共通の観測基盤を提供する。
package obs
