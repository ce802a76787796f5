package tokensink

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// mintSelector / burnSelector are the 4-byte function selectors for the
// sink contract's mint(bytes32,address,uint256) and burn(bytes32,uint256),
// the same selector-from-signature derivation go-ethereum's abi package
// uses internally. The denom is passed as its keccak256 hash rather than
// as a dynamic ABI string, keeping the call encoding fixed-width the same
// way a plain token transfer encoding is fixed-width.
var (
	mintSelector = crypto.Keccak256([]byte("mint(bytes32,address,uint256)"))[:4]
	burnSelector = crypto.Keccak256([]byte("burn(bytes32,uint256)"))[:4]
)

// denomHash reduces a denom string to the bytes32 identifier the sink
// contract expects.
func denomHash(denom string) [32]byte {
	return crypto.Keccak256Hash([]byte(denom))
}

// encodeMint builds the calldata for mint(bytes32 denom, address to, uint256 amount).
func encodeMint(denom string, to common.Address, amount *big.Int) []byte {
	d := denomHash(denom)

	data := make([]byte, 0, 4+32+32+32)
	data = append(data, mintSelector...)
	data = append(data, d[:]...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}

// encodeBurn builds the calldata for burn(bytes32 denom, uint256 amount).
func encodeBurn(denom string, amount *big.Int) []byte {
	d := denomHash(denom)

	data := make([]byte, 0, 4+32+32)
	data = append(data, burnSelector...)
	data = append(data, d[:]...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}
