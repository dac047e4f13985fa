package util

import (
	"encoding/hex"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// ParseUint64 accepts decimal or 0x-prefixed hexadecimal.
func ParseUint64(s string) (uint64, bool) {
	return math.ParseUint64(strings.TrimSpace(s))
}

// CodeHash keccak256 of a code image, used to key lifted programs
func CodeHash(code []byte) string {
	return hex.EncodeToString(crypto.Keccak256(code))
}

func HexCodeHash(code string) (string, []byte, error) {
	data, err := hex.DecodeString(strings.TrimPrefix(code, "0x"))
	if err != nil {
		return "", nil, err
	}
	result := crypto.Keccak256(data)
	return hex.EncodeToString(result), result, nil
}

// InstructionIndex returns the index of the first address >= address in a sorted list, or -1.
func InstructionIndex(addrs []uint64, address uint64) int {
	i := sort.Search(len(addrs), func(i int) bool { return addrs[i] >= address })
	if i == len(addrs) {
		return -1
	}
	return i
}
