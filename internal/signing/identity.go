package signing

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
)

// ErrKeyUnavailable is returned when the private key cannot be loaded.
var ErrKeyUnavailable = errors.New("signing key unavailable")

/**
 * Signing identity of a repository account
 * @property {string} Username - Account name sent as API-Username
 * @property {string} KeyFile - Private key file (PEM PKCS#1/PKCS#8 or OpenSSH format)
 * @description
 * - The key is read lazily on the first Sign and kept for the life of the identity
 * - RSA keys sign with PKCS#1 v1.5 over SHA-256, Ed25519 keys sign the raw challenge
 */
type Identity struct {
	Username string
	KeyFile  string

	mu  sync.Mutex
	key crypto.Signer
}

func NewIdentity(username, keyFile string) *Identity {
	return &Identity{Username: username, KeyFile: keyFile}
}

/**
 * Sign an authentication challenge
 * @param {string} challenge - Server issued nonce
 * @returns {(string, error)} Base64 signature, ErrKeyUnavailable if the key cannot be loaded
 */
func (id *Identity) Sign(challenge string) (string, error) {
	key, err := id.loadKey()
	if err != nil {
		return "", err
	}
	var sig []byte
	switch k := key.(type) {
	case *rsa.PrivateKey:
		digest := sha256.Sum256([]byte(challenge))
		sig, err = rsa.SignPKCS1v15(rand.Reader, k, crypto.SHA256, digest[:])
	case ed25519.PrivateKey:
		sig = ed25519.Sign(k, []byte(challenge))
	default:
		return "", fmt.Errorf("%w: unsupported key type %T in '%s'", ErrKeyUnavailable, key, id.KeyFile)
	}
	if err != nil {
		return "", fmt.Errorf("sign challenge for '%s': %v", id.Username, err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// PublicKeyPEM returns the PKIX public key registered at the repository.
func (id *Identity) PublicKeyPEM() (string, error) {
	key, err := id.loadKey()
	if err != nil {
		return "", err
	}
	der, err := x509.MarshalPKIXPublicKey(key.Public())
	if err != nil {
		return "", fmt.Errorf("marshal public key of '%s': %v", id.Username, err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

func (id *Identity) loadKey() (crypto.Signer, error) {
	id.mu.Lock()
	defer id.mu.Unlock()
	if id.key != nil {
		return id.key, nil
	}
	key, err := LoadPrivateKey(id.KeyFile)
	if err != nil {
		return nil, err
	}
	id.key = key
	return key, nil
}

/**
 * Load a private key file
 * @param {string} path - Key file path
 * @returns {(crypto.Signer, error)} RSA or Ed25519 signer
 * @throws
 * - ErrKeyUnavailable wrapping the read or parse failure
 */
func LoadPrivateKey(path string) (crypto.Signer, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no key file configured", ErrKeyUnavailable)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	raw, err := ssh.ParseRawPrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("%w: parse '%s': %v", ErrKeyUnavailable, path, err)
	}
	switch k := raw.(type) {
	case *rsa.PrivateKey:
		if err := k.Validate(); err != nil {
			return nil, fmt.Errorf("%w: invalid RSA key '%s': %v", ErrKeyUnavailable, path, err)
		}
		return k, nil
	case ed25519.PrivateKey:
		return k, nil
	case *ed25519.PrivateKey:
		return *k, nil
	default:
		return nil, fmt.Errorf("%w: unsupported key type %T in '%s'", ErrKeyUnavailable, raw, path)
	}
}

/**
 * Generate a new RSA-2048 key file for account registration
 * @param {string} path - Destination, must not exist yet
 * @returns {error} Returns error if the file exists or cannot be written
 */
func GenerateKey(path string) error {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("generate key: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	if err := pem.Encode(file, block); err != nil {
		return err
	}
	return file.Close()
}

/**
 * Verify a challenge signature with a PKIX public key
 * @param {string} publicPEM - Public key in PEM format
 * @param {string} challenge - Signed nonce
 * @param {string} signature - Base64 signature produced by Identity.Sign
 */
func Verify(publicPEM, challenge, signature string) error {
	block, _ := pem.Decode([]byte(publicPEM))
	if block == nil {
		return errors.New("invalid public key PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("parse public key: %v", err)
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("decode signature: %v", err)
	}
	switch k := pub.(type) {
	case *rsa.PublicKey:
		digest := sha256.Sum256([]byte(challenge))
		return rsa.VerifyPKCS1v15(k, crypto.SHA256, digest[:], sig)
	case ed25519.PublicKey:
		if !ed25519.Verify(k, []byte(challenge), sig) {
			return errors.New("ed25519 signature mismatch")
		}
		return nil
	default:
		return fmt.Errorf("unsupported public key type %T", pub)
	}
}
