package envelope

import (
	"crypto/sha256"
	"fmt"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"

	"github.com/kalefi/forwards/types/scval"
)

// DeriveContractID computes the address a create-contract deployment will
// produce for a deployer account and salt on a given network, before the
// transaction is submitted.
func DeriveContractID(networkPassphrase, deployer string, salt [32]byte) (string, error) {
	deployerAddr, err := scval.ScAddressFromString(deployer)
	if err != nil {
		return "", fmt.Errorf("invalid deployer address %s: %w", deployer, err)
	}

	preimage := xdr.HashIdPreimage{
		Type: xdr.EnvelopeTypeEnvelopeTypeContractId,
		ContractId: &xdr.HashIdPreimageContractId{
			NetworkId: xdr.Hash(sha256.Sum256([]byte(networkPassphrase))),
			ContractIdPreimage: xdr.ContractIdPreimage{
				Type: xdr.ContractIdPreimageTypeContractIdPreimageFromAddress,
				FromAddress: &xdr.ContractIdPreimageFromAddress{
					Address: deployerAddr,
					Salt:    xdr.Uint256(salt),
				},
			},
		},
	}

	raw, err := preimage.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to encode contract id preimage: %w", err)
	}
	id := sha256.Sum256(raw)
	return strkey.Encode(strkey.VersionByteContract, id[:])
}
