// Package signer hands transaction envelopes to a signing agent and returns
// the signed envelope. The agent may be a local keypair (deployment flows) or
// an external wallet bridged through Func; either way it is outside the
// lifecycle manager's control and may reject, stall or answer garbage.
package signer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
	"github.com/tyler-smith/go-bip39"
)

var (
	// ErrUnavailable indicates the signing agent could not be reached.
	ErrUnavailable = errors.New("signer unavailable")

	// ErrDeclined indicates the agent refused to sign the envelope.
	ErrDeclined = errors.New("signing declined")

	// ErrMalformed indicates the agent returned something that does not
	// parse as a signed transaction envelope.
	ErrMalformed = errors.New("malformed signer response")
)

// SignOptions identifies the network and account a signature is requested for.
type SignOptions struct {
	NetworkPassphrase string
	Address           string
}

// Signer produces a signed envelope from an unsigned (or simulation-assembled)
// envelope in base64 XDR transport form. Signing may block until the agent
// responds or ctx is cancelled; implementations must honor cancellation.
type Signer interface {
	SignTransaction(ctx context.Context, envelopeXDR string, opts SignOptions) (string, error)
	// Address returns the account the signer controls, or "" when the
	// signer fronts an external agent that manages its own accounts.
	Address() string
}

// Func adapts a plain function into a Signer, used to bridge interactive
// wallet agents.
type Func func(ctx context.Context, envelopeXDR string, opts SignOptions) (string, error)

// SignTransaction invokes the wrapped function.
func (f Func) SignTransaction(ctx context.Context, envelopeXDR string, opts SignOptions) (string, error) {
	return f(ctx, envelopeXDR, opts)
}

// Address always returns "" for a bridged agent.
func (f Func) Address() string { return "" }

// KeypairSigner signs locally with a held ed25519 keypair.
type KeypairSigner struct {
	kp *keypair.Full
}

// NewKeypairSigner creates a signer around an existing keypair.
func NewKeypairSigner(kp *keypair.Full) *KeypairSigner {
	return &KeypairSigner{kp: kp}
}

// NewFromSecret creates a signer from an S... secret seed.
func NewFromSecret(secret string) (*KeypairSigner, error) {
	kp, err := keypair.ParseFull(strings.TrimSpace(secret))
	if err != nil {
		return nil, fmt.Errorf("failed to parse secret seed: %w", err)
	}
	return &KeypairSigner{kp: kp}, nil
}

// NewFromSeedPhrase derives a signer from a BIP-39 mnemonic, the way the
// deployment tooling provisions its deployer identity.
func NewFromSeedPhrase(mnemonic string) (*KeypairSigner, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if mnemonic == "" {
		return nil, fmt.Errorf("seed phrase cannot be empty")
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid seed phrase")
	}

	seed := bip39.NewSeed(mnemonic, "")
	var raw [32]byte
	copy(raw[:], seed[:32])

	kp, err := keypair.FromRawSeed(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to derive keypair from seed phrase: %w", err)
	}
	return &KeypairSigner{kp: kp}, nil
}

// NewFromFile creates a signer from key material stored in a file. The file
// may hold either a secret seed or a seed phrase.
func NewFromFile(path string) (*KeypairSigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file %s: %w", path, err)
	}
	s, err := parseKeyMaterial(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse key from %s: %w", path, err)
	}
	return s, nil
}

// NewFromEnv creates a signer from key material in an environment variable.
func NewFromEnv(envVar string) (*KeypairSigner, error) {
	data := os.Getenv(envVar)
	if data == "" {
		return nil, fmt.Errorf("environment variable %s is not set or empty", envVar)
	}
	s, err := parseKeyMaterial(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key from %s: %w", envVar, err)
	}
	return s, nil
}

// SignTransaction signs the envelope with the held keypair. The request is
// declined when it names an account this signer does not control.
func (s *KeypairSigner) SignTransaction(ctx context.Context, envelopeXDR string, opts SignOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if opts.NetworkPassphrase == "" {
		return "", fmt.Errorf("network passphrase cannot be empty")
	}
	if opts.Address != "" && opts.Address != s.kp.Address() {
		return "", fmt.Errorf("%w: signer holds %s, request is for %s",
			ErrDeclined, s.kp.Address(), opts.Address)
	}

	generic, err := txnbuild.TransactionFromXDR(envelopeXDR)
	if err != nil {
		return "", fmt.Errorf("failed to parse envelope: %w", err)
	}
	tx, ok := generic.Transaction()
	if !ok {
		return "", fmt.Errorf("envelope is not a simple transaction")
	}

	signed, err := tx.Sign(opts.NetworkPassphrase, s.kp)
	if err != nil {
		return "", fmt.Errorf("failed to sign envelope: %w", err)
	}
	return signed.Base64()
}

// Address returns the account address of the held keypair.
func (s *KeypairSigner) Address() string {
	return s.kp.Address()
}

// Config represents signer configuration
type Config struct {
	Type string `yaml:"type"` // "seed-phrase" | "file" | "env"
	Key  string `yaml:"key"`  // mnemonic or path or env name
}

// NewFromConfig creates a signer from configuration
func NewFromConfig(cfg *Config) (Signer, error) {
	if cfg == nil || cfg.Type == "" {
		return nil, fmt.Errorf("no signer configuration provided")
	}

	switch cfg.Type {
	case "seed-phrase":
		if cfg.Key == "" {
			return nil, fmt.Errorf("seed-phrase signer requires a mnemonic")
		}
		return NewFromSeedPhrase(cfg.Key)

	case "file":
		if cfg.Key == "" {
			return nil, fmt.Errorf("file signer requires a key path")
		}
		return NewFromFile(cfg.Key)

	case "env":
		if cfg.Key == "" {
			return nil, fmt.Errorf("env signer requires an environment variable name")
		}
		return NewFromEnv(cfg.Key)

	default:
		return nil, fmt.Errorf("unsupported signer type: %s", cfg.Type)
	}
}

// parseKeyMaterial accepts either a secret seed or a seed phrase.
func parseKeyMaterial(data string) (*KeypairSigner, error) {
	data = strings.TrimSpace(data)
	if strings.HasPrefix(data, "S") && !strings.Contains(data, " ") {
		return NewFromSecret(data)
	}
	return NewFromSeedPhrase(data)
}
