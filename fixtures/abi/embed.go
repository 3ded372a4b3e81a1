package abi

import _ "embed"

// ABI of the deployed Transactions ledger contract, used to derive selectors
// at startup and as a decoder test fixture.

//go:embed transactions.json
var Transactions []byte
