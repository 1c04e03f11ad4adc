package interfaces

// Cipher encrypts and decrypts session material. Implementations must
// be safe for concurrent use.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}
