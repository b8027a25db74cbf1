package hlsbuf

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"sync"
)

// Decryptor decrypts AES-128 segment bytes, given the key URL and IV taken
// from an EXT-X-KEY tag. The default implementation fetches and caches the
// key bytes per URL (one key commonly covers many segments) and runs
// AES-128-CBC with PKCS7 unpadding, exactly as the teacher's
// decryptSegmentData/removePKCS7Padding do for on-the-fly AES-128 segments.
type Decryptor interface {
	Decrypt(ctx context.Context, data []byte, keyURL string, iv [16]byte) ([]byte, error)
}

type aesDecryptor struct {
	downloader Downloader

	mu   sync.Mutex
	keys map[string][]byte
}

func newAESDecryptor(downloader Downloader) *aesDecryptor {
	return &aesDecryptor{
		downloader: downloader,
		keys:       make(map[string][]byte),
	}
}

func (d *aesDecryptor) Decrypt(ctx context.Context, data []byte, keyURL string, iv [16]byte) ([]byte, error) {
	key, err := d.fetchKey(ctx, keyURL)
	if err != nil {
		return nil, fmt.Errorf("fetch AES key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("AES cipher: %w", err)
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("segment data length %d not block-aligned", len(data))
	}
	decrypted := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(decrypted, data)
	return removePKCS7Padding(decrypted), nil
}

func (d *aesDecryptor) fetchKey(ctx context.Context, keyURL string) ([]byte, error) {
	d.mu.Lock()
	if key, ok := d.keys[keyURL]; ok {
		d.mu.Unlock()
		return key, nil
	}
	d.mu.Unlock()

	key, err := d.downloader.Get(ctx, keyURL, nil)
	if err != nil {
		return nil, err
	}
	if len(key) != 16 {
		return nil, fmt.Errorf("invalid AES-128 key length: %d", len(key))
	}

	d.mu.Lock()
	d.keys[keyURL] = key
	d.mu.Unlock()
	return key, nil
}

// removePKCS7Padding strips PKCS7 padding from decrypted data.
func removePKCS7Padding(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	padLen := int(data[len(data)-1])
	if padLen <= 0 || padLen > len(data) || padLen > aes.BlockSize {
		return data
	}
	for i := len(data) - padLen; i < len(data); i++ {
		if data[i] != byte(padLen) {
			return data
		}
	}
	return data[:len(data)-padLen]
}
