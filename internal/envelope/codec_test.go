package envelope

import (
	"bytes"
	"errors"
	"testing"

	"message-crypto-service/internal/domain"
)

func TestCodec_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"nil", nil},
		{"empty", []byte{}},
		{"single byte", []byte{0x42}},
		{"two bytes", []byte{0x42, 0x43}},
		{"three bytes", []byte{0x42, 0x43, 0x44}},
		{"binary mixed", []byte{0x00, 0xff, 0x7f, 0x80}},
		{"url unsafe chars", []byte{0xfb, 0xf0}},
		{"large data", bytes.Repeat([]byte{0xa5, 0x5a, 0x00}, 4000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := ToText(tt.data)
			decoded, err := FromText(encoded)
			if err != nil {
				t.Fatalf("FromText() error = %v", err)
			}
			if !bytes.Equal(decoded, tt.data) {
				t.Errorf("round trip failed: got %v, want %v", decoded, tt.data)
			}
		})
	}
}

func TestCodec_ToText_StandardAlphabetWithPadding(t *testing.T) {
	tests := []struct {
		data []byte
		want string
	}{
		{[]byte("hello world"), "aGVsbG8gd29ybGQ="},
		{[]byte("a"), "YQ=="},
		{[]byte{0xfb, 0xf0}, "+/A="},
		{[]byte{}, ""},
	}

	for _, tt := range tests {
		if got := ToText(tt.data); got != tt.want {
			t.Errorf("ToText(%v) = %q, want %q", tt.data, got, tt.want)
		}
	}
}

func TestCodec_FromText_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"invalid character", "ab$="},
		{"url alphabet", "-_A="},
		{"missing padding", "YQ"},
		{"bad length", "abc"},
		{"excess padding", "YQ==="},
		{"non-zero trailing bits", "QR=="},
		{"line break", "YQ==\n"},
		{"embedded carriage return", "aGVs\rbG8="},
		{"whitespace", "YQ== "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromText(tt.input)
			if !errors.Is(err, domain.ErrMalformedEncoding) {
				t.Errorf("FromText(%q) error = %v, want ErrMalformedEncoding", tt.input, err)
			}
		})
	}
}

func TestEnvelopeFromSealed(t *testing.T) {
	env := &domain.Envelope{
		Ciphertext: []byte("ciphertext"),
		WrappedKey: []byte("wrapped"),
		Nonce:      []byte("123456789012"),
	}

	sealed := SealedFromEnvelope(env)
	got, err := EnvelopeFromSealed(sealed)
	if err != nil {
		t.Fatalf("EnvelopeFromSealed() error = %v", err)
	}
	if !bytes.Equal(got.Ciphertext, env.Ciphertext) ||
		!bytes.Equal(got.WrappedKey, env.WrappedKey) ||
		!bytes.Equal(got.Nonce, env.Nonce) {
		t.Errorf("envelope mismatch: got %+v, want %+v", got, env)
	}

	broken := []domain.SealedMessage{
		{Content: "not base64!", EncryptedKey: sealed.EncryptedKey, IV: sealed.IV},
		{Content: sealed.Content, EncryptedKey: "%%%", IV: sealed.IV},
		{Content: sealed.Content, EncryptedKey: sealed.EncryptedKey, IV: "MTIz\n"},
	}
	for i, m := range broken {
		if _, err := EnvelopeFromSealed(m); !errors.Is(err, domain.ErrMalformedEncoding) {
			t.Errorf("case %d: want ErrMalformedEncoding, got %v", i, err)
		}
	}
}
