package infra

import (
	"context"
	"fmt"

	kms "cloud.google.com/go/kms/apiv1"
	kmspb "cloud.google.com/go/kms/apiv1/kmspb"
)

// KMSProtector はCloud KMSで鍵スロットを保護する。
type KMSProtector struct {
	client  *kms.KeyManagementClient
	keyName string
}

// NewKMSProtector は指定されたキー名でKMSProtectorを生成する。
func NewKMSProtector(ctx context.Context, keyName string) (*KMSProtector, error) {
	if keyName == "" {
		return nil, fmt.Errorf("KMS_KEY_NAME is required for the kms key protector")
	}

	client, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating KMS client: %w", err)
	}

	return &KMSProtector{
		client:  client,
		keyName: keyName,
	}, nil
}

// Protect は鍵のDERをCloud KMSで暗号化する。aad はスロットの追加認証データ。
func (p *KMSProtector) Protect(ctx context.Context, plaintext, aad []byte) ([]byte, error) {
	req := &kmspb.EncryptRequest{
		Name:                        p.keyName,
		Plaintext:                   plaintext,
		AdditionalAuthenticatedData: aad,
	}
	resp, err := p.client.Encrypt(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("encrypting: %w", err)
	}
	return resp.Ciphertext, nil
}

// Unprotect はCloud KMSで保護済みの鍵を復号する。
func (p *KMSProtector) Unprotect(ctx context.Context, ciphertext, aad []byte) ([]byte, error) {
	req := &kmspb.DecryptRequest{
		Name:                        p.keyName,
		Ciphertext:                  ciphertext,
		AdditionalAuthenticatedData: aad,
	}
	resp, err := p.client.Decrypt(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return resp.Plaintext, nil
}

// Close はKMSクライアントを閉じる。
func (p *KMSProtector) Close() error {
	return p.client.Close()
}
