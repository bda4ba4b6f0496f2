// Command devtoken mints a user bearer token for local development. Identity
// is issued upstream in real deployments; this only signs with JWT_SECRET.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sharegate/sharegate/internal/auth"
	"github.com/sharegate/sharegate/internal/config"
)

func main() {
	userID := flag.String("user", "", "user ID to put in the token subject")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: devtoken -user <id> [-ttl 24h]")
		os.Exit(2)
	}

	cfg := config.Load()
	if cfg.IsProduction {
		fmt.Fprintln(os.Stderr, "devtoken refuses to run with ENVIRONMENT=production")
		os.Exit(1)
	}

	token, err := auth.NewTokenManager(cfg.Auth.JWTSecret).GenerateToken(*userID, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
