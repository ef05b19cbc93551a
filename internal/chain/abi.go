package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const factoryABIJSON = `[
  {"type":"function","name":"getAddress","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"createAccount","stateMutability":"nonpayable",
   "inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],
   "outputs":[{"name":"ret","type":"address"}]}
]`

const accountABIJSON = `[
  {"type":"function","name":"execute","stateMutability":"nonpayable",
   "inputs":[{"name":"dest","type":"address"},{"name":"value","type":"uint256"},{"name":"func","type":"bytes"}],
   "outputs":[]}
]`

const entryPointABIJSON = `[
  {"type":"function","name":"getNonce","stateMutability":"view",
   "inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],
   "outputs":[{"name":"nonce","type":"uint256"}]}
]`

const tokenABIJSON = `[
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"decimals","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"transfer","stateMutability":"nonpayable",
   "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"mint","stateMutability":"nonpayable",
   "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[]}
]`

var (
	factoryABI    = mustParseABI(factoryABIJSON)
	accountABI    = mustParseABI(accountABIJSON)
	entryPointABI = mustParseABI(entryPointABIJSON)
	tokenABI      = mustParseABI(tokenABIJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
