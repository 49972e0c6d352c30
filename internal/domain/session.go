package domain

import "time"

// Session はログイン中のローカルIDを表す。
// ログインで生成され、ログアウトで破棄される。
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
}
