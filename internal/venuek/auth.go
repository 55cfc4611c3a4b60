// Package venuek is the client for venue K, a centralized exchange shaped
// like Kalshi: RSA-PSS signed REST requests and a gorilla/websocket
// orderbook-delta feed. It generalizes the teacher's internal/kalshi
// package verbatim — same PEM loading, same signature scheme, same
// snapshot/delta orderbook maintenance — onto the decimal-probability
// quote.Side/NormalizedQuote shapes the rest of this module shares across
// both venues, rather than the teacher's int-cents types.
package venuek

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Credentials bundles the API key ID and the RSA private key used to sign
// every request, mirroring the teacher's kalshi.Config.
type Credentials struct {
	AccessKeyID string
	PrivateKey  *rsa.PrivateKey
}

// LoadPrivateKey reads a PEM-encoded RSA private key from path, trying
// PKCS8 first and falling back to PKCS1 — some key export tools emit one,
// some the other, exactly as the teacher's auth.go handles it.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("venuek: reading private key file: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("venuek: no PEM block found in %s", path)
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("venuek: PKCS8 key in %s is not RSA", path)
		}
		return rsaKey, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("venuek: could not parse private key in %s as PKCS8 or PKCS1", path)
}

// sign computes the RSA-PSS signature over timestampMs+method+path, the
// message format venue K requires on every signed request.
func sign(key *rsa.PrivateKey, timestampMs int64, method, path string) (string, error) {
	msg := strconv.FormatInt(timestampMs, 10) + method + path
	digest := sha256.Sum256([]byte(msg))
	sig, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return "", fmt.Errorf("venuek: signing request: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// authHeaders returns the KALSHI-ACCESS-KEY/TIMESTAMP/SIGNATURE triplet
// for a single request.
func authHeaders(creds Credentials, method, path string) (map[string]string, error) {
	ts := time.Now().UnixMilli()
	sig, err := sign(creds.PrivateKey, ts, method, path)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"KALSHI-ACCESS-KEY":       creds.AccessKeyID,
		"KALSHI-ACCESS-TIMESTAMP": strconv.FormatInt(ts, 10),
		"KALSHI-ACCESS-SIGNATURE": sig,
	}, nil
}
