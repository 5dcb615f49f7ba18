// signer.go produces armored detached PGP signatures over exported bundles so
// auditors can verify provenance with the public key alone.
package archive

import (
	"bytes"
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

// Signer holds the PGP signing identity for bundle exports.
type Signer struct {
	entity *openpgp.Entity
}

// NewSignerFromFile loads an armored PGP private key from disk. Encrypted keys
// are rejected: the service has no passphrase prompt, so deployment must
// provide an unencrypted signing key.
func NewSignerFromFile(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	return NewSigner(data)
}

// NewSigner parses an armored PGP private key.
func NewSigner(armoredKey []byte) (*Signer, error) {
	entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(armoredKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("signing key ring is empty")
	}

	entity := entities[0]
	if entity.PrivateKey == nil {
		return nil, fmt.Errorf("signing key has no private key material")
	}
	if entity.PrivateKey.Encrypted {
		return nil, fmt.Errorf("signing key is passphrase-protected; provide an unencrypted key")
	}

	return &Signer{entity: entity}, nil
}

// NewSignerFromEntity wraps an already-parsed entity. Used by tests that
// generate throwaway keys.
func NewSignerFromEntity(entity *openpgp.Entity) *Signer {
	return &Signer{entity: entity}
}

// Sign returns an armored detached signature over data.
func (s *Signer) Sign(data []byte) ([]byte, error) {
	var sig bytes.Buffer
	w, err := armor.Encode(&sig, openpgp.SignatureType, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create armor encoder: %w", err)
	}
	if err := openpgp.DetachSign(w, s.entity, bytes.NewReader(data), nil); err != nil {
		return nil, fmt.Errorf("failed to sign data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize signature armor: %w", err)
	}
	return sig.Bytes(), nil
}

// Verify checks an armored detached signature against data using the signer's
// public key.
func (s *Signer) Verify(data, armoredSig []byte) error {
	block, err := armor.Decode(bytes.NewReader(armoredSig))
	if err != nil {
		return fmt.Errorf("failed to decode signature armor: %w", err)
	}

	_, err = openpgp.CheckDetachedSignature(
		openpgp.EntityList{s.entity},
		bytes.NewReader(data),
		block.Body,
		nil,
	)
	if err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}
