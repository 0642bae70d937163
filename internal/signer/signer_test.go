package signer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
	"github.com/stretchr/testify/require"
)

const testPassphrase = "Test SDF Network ; September 2015"

// abandon x11 + about is a well-known valid BIP-39 vector.
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func buildEnvelope(t *testing.T, source string) string {
	t.Helper()
	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount: &txnbuild.SimpleAccount{AccountID: source, Sequence: 7},
		Operations:    []txnbuild.Operation{&txnbuild.BumpSequence{BumpTo: 0}},
		BaseFee:       txnbuild.MinBaseFee,
		Preconditions: txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(300)},
	})
	require.NoError(t, err)
	b64, err := tx.Base64()
	require.NoError(t, err)
	return b64
}

func TestKeypairSignerSigns(t *testing.T) {
	kp, err := keypair.Random()
	require.NoError(t, err)
	s := NewKeypairSigner(kp)

	signed, err := s.SignTransaction(context.Background(), buildEnvelope(t, kp.Address()), SignOptions{
		NetworkPassphrase: testPassphrase,
		Address:           kp.Address(),
	})
	require.NoError(t, err)

	generic, err := txnbuild.TransactionFromXDR(signed)
	require.NoError(t, err)
	tx, ok := generic.Transaction()
	require.True(t, ok)
	require.Len(t, tx.Signatures(), 1)
}

func TestKeypairSignerDeclinesForeignAccount(t *testing.T) {
	kp, err := keypair.Random()
	require.NoError(t, err)
	other, err := keypair.Random()
	require.NoError(t, err)

	s := NewKeypairSigner(kp)
	_, err = s.SignTransaction(context.Background(), buildEnvelope(t, kp.Address()), SignOptions{
		NetworkPassphrase: testPassphrase,
		Address:           other.Address(),
	})
	require.ErrorIs(t, err, ErrDeclined)
}

func TestKeypairSignerHonorsCancellation(t *testing.T) {
	kp, err := keypair.Random()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = NewKeypairSigner(kp).SignTransaction(ctx, buildEnvelope(t, kp.Address()), SignOptions{
		NetworkPassphrase: testPassphrase,
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewFromSeedPhrase(t *testing.T) {
	s, err := NewFromSeedPhrase(testMnemonic)
	require.NoError(t, err)
	require.NotEmpty(t, s.Address())

	// Derivation is deterministic.
	again, err := NewFromSeedPhrase(testMnemonic)
	require.NoError(t, err)
	require.Equal(t, s.Address(), again.Address())

	_, err = NewFromSeedPhrase("definitely not a mnemonic")
	require.Error(t, err)
}

func TestNewFromSecret(t *testing.T) {
	kp, err := keypair.Random()
	require.NoError(t, err)

	s, err := NewFromSecret(kp.Seed())
	require.NoError(t, err)
	require.Equal(t, kp.Address(), s.Address())

	_, err = NewFromSecret("SINVALID")
	require.Error(t, err)
}

func TestNewFromConfig(t *testing.T) {
	kp, err := keypair.Random()
	require.NoError(t, err)

	keyFile := filepath.Join(t.TempDir(), "deployer.key")
	require.NoError(t, os.WriteFile(keyFile, []byte(kp.Seed()+"\n"), 0o600))

	t.Setenv("FORWARDS_TEST_KEY", testMnemonic)

	cases := []struct {
		name string
		cfg  *Config
		ok   bool
	}{
		{"seed phrase", &Config{Type: "seed-phrase", Key: testMnemonic}, true},
		{"file", &Config{Type: "file", Key: keyFile}, true},
		{"env", &Config{Type: "env", Key: "FORWARDS_TEST_KEY"}, true},
		{"nil", nil, false},
		{"unknown type", &Config{Type: "hsm", Key: "x"}, false},
		{"missing key", &Config{Type: "seed-phrase"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := NewFromConfig(tc.cfg)
			if tc.ok {
				require.NoError(t, err)
				require.NotEmpty(t, s.Address())
			} else {
				require.Error(t, err)
			}
		})
	}
}
