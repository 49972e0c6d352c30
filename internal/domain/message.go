package domain

// Envelope は1メッセージ分の暗号化結果（バイト列）を表す。
// 3つのフィールドは常にまとめて扱う。
type Envelope struct {
	Ciphertext []byte // AES-256-GCM暗号文（認証タグ付き）
	WrappedKey []byte // RSA-OAEPでラップされた共通鍵
	Nonce      []byte // 12バイトのGCMノンス
}

// SealedMessage は保存・送信用にテキスト化された暗号化メッセージ。
type SealedMessage struct {
	Content      string `json:"content"`
	EncryptedKey string `json:"encryptedKey"`
	IV           string `json:"iv"`
}

// Record は保存層から読み出したメッセージレコードを表す。
// LegacyPlaintext または Encrypted のいずれか。
type Record interface {
	record()
}

// LegacyPlaintext は暗号化導入前に作成された平文レコード。
type LegacyPlaintext struct {
	Content string
}

func (LegacyPlaintext) record() {}

// Encrypted は暗号化済みレコード。
type Encrypted struct {
	Sealed SealedMessage
}

func (Encrypted) record() {}

// ClassifyRecord は保存層の3フィールドからレコード種別を決定する。
// いずれかのフィールドが欠けている場合は平文レコードとして扱う。
func ClassifyRecord(content, encryptedKey, iv string) Record {
	if content == "" || encryptedKey == "" || iv == "" {
		return LegacyPlaintext{Content: content}
	}
	return Encrypted{Sealed: SealedMessage{
		Content:      content,
		EncryptedKey: encryptedKey,
		IV:           iv,
	}}
}

// DecryptionPlaceholder は復号できなかったメッセージの代わりに表示する文字列。
const DecryptionPlaceholder = "[unable to decrypt message]"

// OpenedMessage は Open の結果を表す。
// Failed の場合 Text はプレースホルダーで、Err に原因が入る。
type OpenedMessage struct {
	Text   string
	Legacy bool
	Failed bool
	Err    error
}
