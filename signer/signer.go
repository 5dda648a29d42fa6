// Package signer implements manifest signing: RSASSA-PKCS1-v1_5 over
// SHA-256, with output formatted as a structured-headers dictionary
// (spec §4.2).
package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	berrors "github.com/ota-server/updateserver/errors"
	"github.com/ota-server/updateserver/keypolicy"
)

// pkcs1Message is surfaced, with guidance, whenever the supplied key is
// PKCS#1 rather than PKCS#8.
const pkcs1Message = "signer: PKCS#1 (RSA PRIVATE KEY) is not accepted; convert the key to PKCS#8 (e.g. `openssl pkcs8 -topk8 -nocrypt`)"

// ParsePKCS8RSAKey parses a normalized PEM private key, accepting only
// PKCS#8. A structurally valid PKCS#1 key is rejected with a specific
// message instructing conversion (spec §4.1 last line).
func ParsePKCS8RSAKey(normalizedPEM string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(normalizedPEM))
	if block == nil {
		return nil, berrors.ValidationError("signer: no PEM block found")
	}

	if block.Type == "RSA PRIVATE KEY" {
		return nil, berrors.ValidationError(pkcs1Message)
	}
	if block.Type != "PRIVATE KEY" {
		return nil, berrors.ValidationError("signer: unsupported key block type %q", block.Type)
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// A PKCS#1 body sometimes arrives mislabeled as PRIVATE KEY; give
		// the same actionable error rather than a generic parse failure.
		if _, err2 := x509.ParsePKCS1PrivateKey(block.Bytes); err2 == nil {
			return nil, berrors.ValidationError(pkcs1Message)
		}
		return nil, berrors.ValidationError("signer: failed to parse PKCS#8 key: %s", err)
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, berrors.ValidationError("signer: PKCS#8 key is not RSA")
	}

	if err := keypolicy.CheckRSAKey(rsaKey); err != nil {
		return nil, err
	}
	return rsaKey, nil
}

// Sign produces the base64 RSASSA-PKCS1-v1_5/SHA-256 signature over the
// exact manifest JSON bytes sent to the client.
func Sign(key *rsa.PrivateKey, manifestJSON []byte) (string, error) {
	digest := sha256.Sum256(manifestJSON)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", berrors.InternalError("signer: sign failed: %s", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Header formats the structured-headers dictionary value for the
// expo-signature header/part-header: sig="<b64>", keyid="main".
func Header(sigB64 string) string {
	return fmt.Sprintf("sig=%q, keyid=%q", sigB64, "main")
}

// Verify checks a base64 RSASSA-PKCS1-v1_5/SHA-256 signature against
// manifestJSON under the given public key. Used by tests (spec §8
// scenario 3).
func Verify(pub *rsa.PublicKey, manifestJSON []byte, sigB64 string) error {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return berrors.ValidationError("signer: signature is not valid base64: %s", err)
	}
	digest := sha256.Sum256(manifestJSON)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return berrors.ValidationError("signer: signature verification failed: %s", err)
	}
	return nil
}
