package main

import (
	"fmt"
	"os"

	"github.com/tjfontaine/completion-gateway/internal/adapters/auth/apikey"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./cmd/keygen <api-key> [subject]")
		fmt.Println("Generates a SHA-256 hash of the provided API key for use in config.yaml")
		os.Exit(1)
	}

	apiKey := os.Args[1]
	subject := "generated"
	if len(os.Args) > 2 {
		subject = os.Args[2]
	}
	keyHash := apikey.HashAPIKey(apiKey)

	fmt.Printf("SHA-256 Hash: %s\n", keyHash)
	fmt.Println("\nAdd this to your config.yaml:")
	fmt.Printf("auth:\n")
	fmt.Printf("  api_keys:\n")
	fmt.Printf("    - key_hash: \"%s\"\n", keyHash)
	fmt.Printf("      subject: \"%s\"\n", subject)
	fmt.Printf("      description: \"Generated key\"\n")
}
