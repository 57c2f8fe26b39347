// Command appointly-token mints a bearer token for a user id, signed with the
// server's configured secret.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"appointly/internal/auth"
	"appointly/internal/config"
)

func main() {
	uid := flag.Int64("uid", 0, "user id to embed in the token")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	token, err := auth.MakeToken(*uid, cfg.JWTSecret, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mint token: %v\n", err)
		os.Exit(2)
	}
	fmt.Println(token)
}
