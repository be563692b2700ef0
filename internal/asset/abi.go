package asset

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Some older tokens return symbol and name as bytes32, so both layouts are
// tried.
const (
	erc20StringJSON = `[
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "symbol", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "name", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"}
]`
	erc20Bytes32JSON = `[
  {"inputs": [], "name": "symbol", "outputs": [{"type": "bytes32"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "name", "outputs": [{"type": "bytes32"}], "stateMutability": "view", "type": "function"}
]`
)

var (
	erc20Once    sync.Once
	erc20String  abi.ABI
	erc20Bytes32 abi.ABI
	erc20Err     error
)

func erc20ABIs() (abi.ABI, abi.ABI, error) {
	erc20Once.Do(func() {
		erc20String, erc20Err = abi.JSON(strings.NewReader(erc20StringJSON))
		if erc20Err != nil {
			return
		}
		erc20Bytes32, erc20Err = abi.JSON(strings.NewReader(erc20Bytes32JSON))
	})
	return erc20String, erc20Bytes32, erc20Err
}
