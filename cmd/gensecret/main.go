// Prints fresh random secrets of the wallet service in .env format
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

const defaultBytesLen = 32

var secretKeys = []string{"SECRET_KEY", "INTERNAL_API_KEY", "GATEWAY_SECRET"}

func secret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func main() {
	n := pflag.IntP("bytes", "b", defaultBytesLen, "Length of every secret in bytes")
	pflag.Parse()

	if *n < 16 {
		fmt.Fprintf(os.Stderr, "secret must be at least 16 bytes, got %d\n", *n)
		os.Exit(1)
	}

	for _, key := range secretKeys {
		value, err := secret(*n)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error while generating %s: %v\n", key, err)
			os.Exit(1)
		}
		fmt.Printf("%s=%s\n", key, value)
	}
}
