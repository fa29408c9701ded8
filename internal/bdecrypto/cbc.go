package bdecrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// CBCDecrypt / CBCEncrypt wrap crypto/cipher's standard CBC block mode.
// BDE sectors are always a whole number of 16-byte blocks, so no padding
// handling is needed here.
func CBCDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("bdecrypto: cbc ciphertext size %d is not a multiple of %d", len(ciphertext), aes.BlockSize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return out, nil
}

func CBCEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	if len(plaintext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("bdecrypto: cbc plaintext size %d is not a multiple of %d", len(plaintext), aes.BlockSize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plaintext)
	return out, nil
}
