package main

import "github.com/ignatzorin/escrow-ledger/cmd/ledgerctl/cmd"

func main() {
	cmd.Execute()
}
