// Package envelope はメッセージ単位のハイブリッド暗号を提供する。
//
// 各メッセージは使い捨てのAES-256-GCM鍵で暗号化され、その鍵は受信者の
// RSA公開鍵（OAEP/SHA-256）でラップされる。暗号文・ラップ済み鍵・ノンスの
// 3つ組が Envelope で、Codec によりbase64テキストへ変換して保存・送信する。
package envelope
