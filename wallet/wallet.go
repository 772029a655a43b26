package wallet

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ChallengeDomain is embedded in every challenge message so signatures
// produced for this platform cannot be presented elsewhere.
const ChallengeDomain = "Agent Payment Platform"

const (
	addressHexLen   = 40
	signatureLen    = 65
	legacyVOffset   = 27
	challengeFormat = "Sign this message to authenticate with %s\n\nWallet: %s\nNonce: %s\nTimestamp: %s"
)

var (
	// ErrInvalidAddress is returned when an address fails format or
	// checksum validation.
	ErrInvalidAddress = errors.New("invalid wallet address")
	// ErrRecoveryFailed is returned when a signer cannot be recovered
	// from a message/signature pair.
	ErrRecoveryFailed = errors.New("signature recovery failed")
)

// Verifier validates wallet addresses and wallet-produced signatures.
// It is stateless apart from the injectable clock used when building
// challenge messages.
type Verifier struct {
	nowFn func() time.Time
}

// NewVerifier constructs a Verifier using the wall clock.
func NewVerifier() *Verifier {
	return &Verifier{nowFn: time.Now}
}

// WithClock overrides the clock, primarily for deterministic tests.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	if now != nil {
		v.nowFn = now
	}
	return v
}

// Normalize validates addr and returns its canonical EIP-55 checksummed
// form. Mixed-case input must carry a correct checksum; all-lower and
// all-upper renderings are accepted as checksum-agnostic.
func (v *Verifier) Normalize(addr string) (string, error) {
	trimmed := strings.TrimSpace(addr)
	if !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		return "", fmt.Errorf("%w: missing 0x prefix", ErrInvalidAddress)
	}
	hexPart := trimmed[2:]
	if len(hexPart) != addressHexLen {
		return "", fmt.Errorf("%w: expected %d hex characters, got %d", ErrInvalidAddress, addressHexLen, len(hexPart))
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return "", fmt.Errorf("%w: non-hexadecimal characters", ErrInvalidAddress)
	}
	checksummed := common.HexToAddress(trimmed).Hex()
	if hexPart != strings.ToLower(hexPart) && hexPart != strings.ToUpper(hexPart) {
		if trimmed != checksummed {
			return "", fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
		}
	}
	return checksummed, nil
}

// IsValidAddress reports whether addr passes Normalize.
func (v *Verifier) IsValidAddress(addr string) bool {
	_, err := v.Normalize(addr)
	return err == nil
}

// BuildChallenge produces the message a wallet owner signs to prove
// control of addr. The nonce and timestamp make each message unique;
// single-use enforcement of the nonce is the caller's responsibility.
func (v *Verifier) BuildChallenge(addr, nonce string) string {
	timestamp := v.nowFn().UTC().Format(time.RFC3339)
	return fmt.Sprintf(challengeFormat, ChallengeDomain, addr, nonce, timestamp)
}

// Verify recovers the signer of message from a personal-sign signature
// and compares it case-insensitively against claimed. Malformed input
// and recovery failures are a negative result, never an error.
func (v *Verifier) Verify(message, signature, claimed string) bool {
	recovered, err := v.RecoverSigner(message, signature)
	if err != nil {
		return false
	}
	return strings.EqualFold(recovered, claimed)
}

// RecoverSigner returns the checksummed address that produced signature
// over message using the Ethereum personal-sign encoding.
func (v *Verifier) RecoverSigner(message, signature string) (string, error) {
	sig, err := decodeSignature(signature)
	if err != nil {
		return "", err
	}
	digest := personalSignDigest(message)
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRecoveryFailed, err)
	}
	return ethcrypto.PubkeyToAddress(*pub).Hex(), nil
}

// personalSignDigest hashes message with the eth_sign prefix so the
// recovery interoperates with wallet personal_sign implementations.
func personalSignDigest(message string) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return ethcrypto.Keccak256([]byte(prefixed))
}

func decodeSignature(signature string) ([]byte, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(signature), "0x")
	sig, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: signature is not hex", ErrRecoveryFailed)
	}
	if len(sig) != signatureLen {
		return nil, fmt.Errorf("%w: expected %d signature bytes, got %d", ErrRecoveryFailed, signatureLen, len(sig))
	}
	// Wallets emit the legacy 27/28 recovery id; secp256k1 wants 0/1.
	if sig[64] >= legacyVOffset {
		adjusted := make([]byte, signatureLen)
		copy(adjusted, sig)
		adjusted[64] -= legacyVOffset
		sig = adjusted
	}
	if sig[64] > 1 {
		return nil, fmt.Errorf("%w: invalid recovery id", ErrRecoveryFailed)
	}
	return sig, nil
}
