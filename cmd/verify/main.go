// Command verify is a manual cross-check tool: given a mnemonic file, it
// prints the signatory xpub and the first few derived child pubkeys so an
// operator can compare them against another implementation before trusting
// a validator's declared key.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Fantasim/nbtcbridge/internal/signerkey"
)

func main() {
	mnemonicFile := flag.String("mnemonic-file", "", "path to file containing a 24-word BIP-39 mnemonic (required)")
	network := flag.String("network", "testnet", "mainnet or testnet")
	count := flag.Int("count", 3, "number of child pubkeys to derive")
	flag.Parse()

	if *mnemonicFile == "" {
		fmt.Fprintln(os.Stderr, "--mnemonic-file is required")
		os.Exit(1)
	}

	signer := signerkey.New(*mnemonicFile, *network)

	xpub, err := signer.Xpub()
	if err != nil {
		fmt.Fprintf(os.Stderr, "derive xpub: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("=== Signatory xpub (%s) ===\n", *network)
	fmt.Println(xpub.String())

	fmt.Println("\n=== Derived child pubkeys (by sigset index) ===")
	for i := uint32(0); i < uint32(*count); i++ {
		pubkey, err := xpub.DeriveChildPubkey(i)
		if err != nil {
			fmt.Fprintf(os.Stderr, "derive child pubkey at index %d: %v\n", i, err)
			os.Exit(1)
		}
		fmt.Printf("  sigset %d: %x\n", i, pubkey)
	}
}
