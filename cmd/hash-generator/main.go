// Command hash-generator produces the bcrypt hash of an API key for the
// auth.api_keys configuration section.
//
// Usage: hash-generator <api-key> [<api-key>...]
package main

import (
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: hash-generator <api-key> [<api-key>...]")
		os.Exit(2)
	}

	for _, key := range os.Args[1:] {
		hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error hashing key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s\n", hash)
	}
}
