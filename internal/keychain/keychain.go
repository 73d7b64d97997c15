// Package keychain manages the agent's signing keypair.
//
// The keypair identifies the agent to the provisioning backend: the public
// key is the agent ID and the private key signs provisioning challenges.
// Keys are generated once and persisted under the agent's data directory;
// subsequent constructions load the existing material. The keychain is
// immutable after construction and has no stop step.
package keychain

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// keypairFile is the on-disk representation of the keypair.
type keypairFile struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// Keychain holds the agent's Ed25519 keypair.
type Keychain struct {
	publicKey  ed25519.PublicKey
	privateKey ed25519.PrivateKey
}

// New loads the keypair stored at path, generating and persisting a fresh
// one when the file does not exist.
func New(path string) (*Keychain, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return generate(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read keypair %s: %w", path, err)
	}

	var stored keypairFile
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("parse keypair %s: %w", path, err)
	}

	pub, err := hex.DecodeString(stored.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("keypair %s: invalid public key", path)
	}
	priv, err := hex.DecodeString(stored.PrivateKey)
	if err != nil || len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair %s: invalid private key", path)
	}

	return &Keychain{publicKey: pub, privateKey: priv}, nil
}

func generate(path string) (*Keychain, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}

	data, err := json.MarshalIndent(keypairFile{
		PublicKey:  hex.EncodeToString(pub),
		PrivateKey: hex.EncodeToString(priv),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode keypair: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("write keypair %s: %w", path, err)
	}

	return &Keychain{publicKey: pub, privateKey: priv}, nil
}

// AgentID returns the hex-encoded public key used as the agent's identity.
func (k *Keychain) AgentID() string {
	return hex.EncodeToString(k.publicKey)
}

// PublicKey returns the raw public key.
func (k *Keychain) PublicKey() ed25519.PublicKey {
	return k.publicKey
}

// Sign signs msg with the agent's private key and returns the hex-encoded
// signature.
func (k *Keychain) Sign(msg []byte) string {
	return hex.EncodeToString(ed25519.Sign(k.privateKey, msg))
}

// Verify reports whether sig is a valid hex-encoded signature of msg under
// the agent's public key.
func (k *Keychain) Verify(msg []byte, sig string) bool {
	raw, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return ed25519.Verify(k.publicKey, msg, raw)
}
