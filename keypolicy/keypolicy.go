// Package keypolicy enforces the minimum key strength the Signer accepts,
// grounded on the teacher's weak-key rejection idiom.
package keypolicy

import (
	"crypto/rsa"

	berrors "github.com/ota-server/updateserver/errors"
)

// MinRSAModulusBits is the smallest RSA key size the Signer will use.
// Keys below this are rejected even though the PEM Codec itself accepts
// them structurally.
const MinRSAModulusBits = 2048

// CheckRSAKey rejects RSA keys too weak to sign manifests with.
func CheckRSAKey(key *rsa.PrivateKey) error {
	if key == nil {
		return berrors.ValidationError("keypolicy: nil key")
	}
	bits := key.N.BitLen()
	if bits < MinRSAModulusBits {
		return berrors.ValidationError("keypolicy: RSA modulus too small (%d bits, minimum %d)", bits, MinRSAModulusBits)
	}
	return nil
}
