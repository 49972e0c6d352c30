// Package migrations はデータベースマイグレーションのSQLファイルを埋め込む。
package migrations

import "embed"

// FS はバージョン順に適用する *.sql ファイル。
//
//go:embed *.sql
var FS embed.FS
