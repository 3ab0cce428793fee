// Command keygen prints a random hex-encoded master secret suitable for
// FLEXCORE_SECRETS_ENCRYPTION_KEY (the HKDF input from which the
// ChaCha20-Poly1305 key is derived), so an operator never has to make
// one by hand.
package main

import (
	"fmt"
	"log"

	"github.com/flexprice/flexcore/internal/security"
)

func main() {
	key, err := security.GenerateRandomKey()
	if err != nil {
		log.Fatalf("unable to generate key: %v", err)
	}
	fmt.Println(key)
}
