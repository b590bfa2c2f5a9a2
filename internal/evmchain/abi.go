package evmchain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// htlcABIJSON is the minimal ABI surface the relayer needs: the three
// lifecycle events it observes and the two calls the withdrawal executor
// submits. No abigen bindings are available for this contract, so the
// observer and executor decode/encode against this ABI directly via
// go-ethereum's abi package rather than generated Go types.
const htlcABIJSON = `[
	{
		"type": "event",
		"name": "HTLCCreated",
		"anonymous": false,
		"inputs": [
			{"name": "contractId", "type": "bytes32", "indexed": true},
			{"name": "sender", "type": "address", "indexed": true},
			{"name": "receiver", "type": "address", "indexed": true},
			{"name": "token", "type": "address", "indexed": false},
			{"name": "amount", "type": "uint256", "indexed": false},
			{"name": "hashlock", "type": "bytes32", "indexed": false},
			{"name": "timelock", "type": "uint256", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "HTLCWithdrawn",
		"anonymous": false,
		"inputs": [
			{"name": "contractId", "type": "bytes32", "indexed": true},
			{"name": "preimage", "type": "bytes32", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "HTLCRefunded",
		"anonymous": false,
		"inputs": [
			{"name": "contractId", "type": "bytes32", "indexed": true}
		]
	},
	{
		"type": "function",
		"name": "withdraw",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "contractId", "type": "bytes32"},
			{"name": "preimage", "type": "bytes32"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "refund",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "contractId", "type": "bytes32"}
		],
		"outputs": []
	}
]`

func parseHTLCABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(htlcABIJSON))
}
