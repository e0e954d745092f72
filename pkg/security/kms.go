package security

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
)

// kmsAPI is the subset of *kms.Client this package calls, so tests can
// supply a fake instead of reaching AWS.
type kmsAPI interface {
	GenerateDataKey(ctx context.Context, in *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSCipher implements envelope encryption against an AWS KMS key:
// every Encrypt call asks KMS for a fresh 256-bit data key, uses it once
// with AES-256-GCM locally, and stores the KMS-wrapped data key
// alongside the ciphertext so Decrypt can ask KMS to unwrap it again.
// The plaintext data key never leaves memory.
type KMSCipher struct {
	client kmsAPI
	keyID  string
}

// NewKMSCipher builds a KMSCipher against the given key (an alias, ARN,
// or key ID understood by KMS).
func NewKMSCipher(client *kms.Client, keyID string) *KMSCipher {
	return &KMSCipher{client: client, keyID: keyID}
}

// envelope wire format: [4-byte wrapped-key length][wrapped key][nonce][ciphertext+tag]
func (c *KMSCipher) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: cannot encrypt empty data")
	}

	dk, err := c.client.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(c.keyID),
		KeySpec: kmstypes.DataKeySpecAes256,
	})
	if err != nil {
		return nil, fmt.Errorf("security: kms generate data key: %w", err)
	}

	block, err := aes.NewCipher(dk.Plaintext)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)

	out := make([]byte, 4+len(dk.CiphertextBlob)+len(sealed))
	binary.BigEndian.PutUint32(out[:4], uint32(len(dk.CiphertextBlob)))
	copy(out[4:], dk.CiphertextBlob)
	copy(out[4+len(dk.CiphertextBlob):], sealed)
	return out, nil
}

func (c *KMSCipher) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 4 {
		return nil, fmt.Errorf("security: ciphertext too short")
	}
	wrappedLen := binary.BigEndian.Uint32(ciphertext[:4])
	rest := ciphertext[4:]
	if uint32(len(rest)) < wrappedLen {
		return nil, fmt.Errorf("security: ciphertext truncated")
	}
	wrappedKey := rest[:wrappedLen]
	sealed := rest[wrappedLen:]

	unwrapped, err := c.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: wrappedKey,
		KeyId:          aws.String(c.keyID),
	})
	if err != nil {
		return nil, fmt.Errorf("security: kms decrypt data key: %w", err)
	}

	block, err := aes.NewCipher(unwrapped.Plaintext)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create GCM: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("security: ciphertext too short")
	}
	nonce, sealed := sealed[:nonceSize], sealed[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("security: decrypt: %w", err)
	}
	return plaintext, nil
}
