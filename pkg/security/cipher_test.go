package security

import (
	"bytes"
	"context"
	"testing"
)

func TestNewLocalCipher(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{name: "valid 32-byte key", key: make([]byte, 32), wantErr: false},
		{name: "invalid short key", key: make([]byte, 16), wantErr: true},
		{name: "invalid long key", key: make([]byte, 64), wantErr: true},
		{name: "empty key", key: []byte{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewLocalCipher(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewLocalCipher() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && c == nil {
				t.Error("NewLocalCipher() returned nil without error")
			}
		})
	}
}

func TestNewLocalCipherFromPassphrase(t *testing.T) {
	tests := []struct {
		name       string
		passphrase string
		wantErr    bool
	}{
		{name: "valid passphrase", passphrase: "my-secure-passphrase", wantErr: false},
		{name: "empty passphrase", passphrase: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewLocalCipherFromPassphrase(tt.passphrase)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewLocalCipherFromPassphrase() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && c == nil {
				t.Error("NewLocalCipherFromPassphrase() returned nil without error")
			}
		})
	}
}

func TestLocalCipher_EncryptDecryptRoundtrip(t *testing.T) {
	ctx := context.Background()
	key := make([]byte, 32)
	copy(key, []byte("test-encryption-key-32-bytes-!!"))

	c, err := NewLocalCipher(key)
	if err != nil {
		t.Fatalf("NewLocalCipher() error = %v", err)
	}

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{name: "simple string", plaintext: []byte("hello world")},
		{name: "json data", plaintext: []byte(`{"username":"admin","password":"secret123"}`)},
		{name: "binary data", plaintext: []byte{0x00, 0x01, 0x02, 0xFF, 0xFE, 0xFD}},
		{name: "large data", plaintext: bytes.Repeat([]byte("test"), 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := c.Encrypt(ctx, tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if bytes.Equal(ciphertext, tt.plaintext) {
				t.Error("ciphertext should not equal plaintext")
			}

			decrypted, err := c.Decrypt(ctx, ciphertext)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(decrypted, tt.plaintext) {
				t.Errorf("decrypted = %v, want %v", decrypted, tt.plaintext)
			}
		})
	}
}

func TestLocalCipher_Errors(t *testing.T) {
	ctx := context.Background()
	c, _ := NewLocalCipher(make([]byte, 32))

	if _, err := c.Encrypt(ctx, nil); err == nil {
		t.Error("Encrypt() should fail on empty data")
	}
	if _, err := c.Decrypt(ctx, nil); err == nil {
		t.Error("Decrypt() should fail on empty data")
	}
	if _, err := c.Decrypt(ctx, []byte{0x01, 0x02}); err == nil {
		t.Error("Decrypt() should fail on too-short ciphertext")
	}
	if _, err := c.Decrypt(ctx, bytes.Repeat([]byte("x"), 100)); err == nil {
		t.Error("Decrypt() should fail on corrupted ciphertext")
	}
}

func TestLocalCipher_WrongKey(t *testing.T) {
	ctx := context.Background()
	key1 := make([]byte, 32)
	copy(key1, []byte("key-one-32-bytes-long-!!!!!!!!!!"))
	key2 := make([]byte, 32)
	copy(key2, []byte("key-two-32-bytes-long-!!!!!!!!!!"))

	c1, _ := NewLocalCipher(key1)
	c2, _ := NewLocalCipher(key2)

	ciphertext, err := c1.Encrypt(ctx, []byte("secret data"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if _, err := c2.Decrypt(ctx, ciphertext); err == nil {
		t.Error("Decrypt() should fail with the wrong key")
	}
}
