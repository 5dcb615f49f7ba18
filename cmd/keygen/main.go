// Package main implements keygen, a development helper that mints an API key
// pair: the raw key to hand to a client and the bcrypt hash plus display
// prefix to store. It prints a ready-to-run INSERT so a local database can be
// seeded without going through the admin endpoint.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/fieldtrace/fieldtrace/internal/auth"
)

func main() {
	name := flag.String("name", "dev-key", "key name")
	prefix := flag.String("prefix", "ft_", "key prefix")
	scopes := flag.String("scopes", "changes:read,changes:write", "comma-separated scopes")
	flag.Parse()

	scopeList := strings.Split(*scopes, ",")
	for i := range scopeList {
		scopeList[i] = strings.TrimSpace(scopeList[i])
	}
	if err := auth.ValidateScopes(scopeList); err != nil {
		log.Fatalf("invalid scopes: %v", err)
	}

	key, hash, displayPrefix, err := auth.GenerateAPIKey(*prefix)
	if err != nil {
		log.Fatalf("failed to generate key: %v", err)
	}

	scopesJSON, err := json.Marshal(scopeList)
	if err != nil {
		log.Fatalf("failed to marshal scopes: %v", err)
	}

	fmt.Printf("API key:  %s\n", key)
	fmt.Printf("Prefix:   %s\n", displayPrefix)
	fmt.Printf("Hash:     %s\n", hash)
	fmt.Printf("Scopes:   %s\n", scopesJSON)
	fmt.Println()
	fmt.Println("-- store it:")
	fmt.Printf(
		"INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at)\nVALUES ('%s', '%s', '%s', '%s', '%s', now());\n",
		uuid.New().String(), *name, hash, displayPrefix, scopesJSON,
	)
}
