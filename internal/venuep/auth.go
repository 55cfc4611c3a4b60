// Package venuep is the client for venue P, an on-chain CLOB shaped like
// Polymarket: EIP-712 signed orders, a two-layer auth scheme (L1 wallet
// signature bootstraps L2 API credentials, L2 HMAC signs ongoing trading
// requests), and a resty REST client with per-category token-bucket rate
// limiting. It generalizes 0xtitan6-polymarket-mm's internal/exchange
// package onto this module's IOC-leg role instead of that repo's
// market-making quote loop.
package venuep

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Credentials is the L2 API key triplet derived once from an L1 EIP-712
// signature, the same shape 0xtitan6-polymarket-mm's exchange.Credentials
// uses.
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
}

// Auth holds the signing key and derived L2 credentials for venue P.
type Auth struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int64
	creds      Credentials
}

// NewAuth builds an Auth from a hex-encoded private key (no 0x prefix
// required). The funder address equals the EOA address for a plain
// signature-type-0 wallet, matching the simplest case 0xtitan6 supports.
func NewAuth(privateKeyHex string, chainID int64) (*Auth, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("venuep: parsing private key: %w", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	return &Auth{privateKey: key, address: addr, chainID: chainID}, nil
}

// SetCredentials installs the L2 API credentials after DeriveAPIKey
// succeeds.
func (a *Auth) SetCredentials(creds Credentials) { a.creds = creds }

// Address returns the signer's on-chain address.
func (a *Auth) Address() common.Address { return a.address }

// L1Headers signs the ClobAuth typed-data message and returns the headers
// required for L1-authenticated requests (deriving a fresh API key),
// following 0xtitan6-polymarket-mm's signClobAuth exactly.
func (a *Auth) L1Headers(nonce int) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := a.signClobAuth(timestamp, nonce)
	if err != nil {
		return nil, fmt.Errorf("venuep: sign clob auth: %w", err)
	}
	return map[string]string{
		"POLY_ADDRESS":   a.address.Hex(),
		"POLY_SIGNATURE": sig,
		"POLY_TIMESTAMP": timestamp,
		"POLY_NONCE":     strconv.Itoa(nonce),
	}, nil
}

func (a *Auth) signClobAuth(timestamp string, nonce int) (string, error) {
	domain := apitypes.TypedDataDomain{
		Name:    "ClobAuthDomain",
		Version: "1",
		ChainId: (*ethmath.HexOrDecimal256)(big.NewInt(a.chainID)),
	}
	typesDef := apitypes.Types{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
		},
		"ClobAuth": {
			{Name: "address", Type: "address"},
			{Name: "timestamp", Type: "string"},
			{Name: "nonce", Type: "uint256"},
			{Name: "message", Type: "string"},
		},
	}
	message := apitypes.TypedDataMessage{
		"address":   a.address.Hex(),
		"timestamp": timestamp,
		"nonce":     fmt.Sprintf("%d", nonce),
		"message":   "This message attests that I control the given wallet",
	}

	typedData := apitypes.TypedData{
		Types:       typesDef,
		PrimaryType: "ClobAuth",
		Domain:      domain,
		Message:     message,
	}
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", fmt.Errorf("venuep: typed data hash: %w", err)
	}
	sig, err := crypto.Sign(hash, a.privateKey)
	if err != nil {
		return "", fmt.Errorf("venuep: sign typed data: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + common.Bytes2Hex(sig), nil
}

// L2Headers signs an HMAC over timestamp+method+path[+body] using the
// derived L2 secret, for every ongoing trading request.
func (a *Auth) L2Headers(method, path, body string) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := a.buildHMAC(timestamp, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("venuep: build hmac: %w", err)
	}
	return map[string]string{
		"POLY_ADDRESS":    a.address.Hex(),
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  timestamp,
		"POLY_API_KEY":    a.creds.APIKey,
		"POLY_PASSPHRASE": a.creds.Passphrase,
	}, nil
}

// buildHMAC tries the secret as each common base64 variant before giving
// up, since venue P has historically returned secrets in more than one
// encoding — same defensive decode 0xtitan6 performs.
func (a *Auth) buildHMAC(timestamp, method, path, body string) (string, error) {
	decoders := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}
	var secretBytes []byte
	var err error
	for _, d := range decoders {
		secretBytes, err = d.DecodeString(a.creds.Secret)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("venuep: decode secret: %w", err)
	}

	message := timestamp + method + path
	if body != "" {
		message += body
	}
	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// PriceToAmounts converts a limit price and size into the on-chain
// maker/taker USDC-scaled amounts the CTF exchange contract expects,
// following 0xtitan6-polymarket-mm's PriceToAmounts/roundDown: 6-decimal
// USDC scaling, BUY pays USDC for tokens, SELL gives tokens for USDC.
// amountDecimals is the market's tick-size-derived rounding precision.
func PriceToAmounts(side string, price, size float64, amountDecimals int) (makerAmount, takerAmount *big.Int) {
	const usdcScale = 1_000_000.0
	sizeRounded := roundDown(size, 2)

	if side == "BUY" {
		cost := roundDown(sizeRounded*price, amountDecimals)
		return toScaledInt(cost, usdcScale), toScaledInt(sizeRounded, usdcScale)
	}
	revenue := roundDown(sizeRounded*price, amountDecimals)
	return toScaledInt(sizeRounded, usdcScale), toScaledInt(revenue, usdcScale)
}

// roundDown truncates val to the given number of decimal places.
func roundDown(val float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return float64(int64(val*pow)) / pow
}

func toScaledInt(val, scale float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(val), big.NewFloat(scale))
	i, _ := f.Int(nil)
	return i
}
