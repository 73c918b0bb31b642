// Command sessiontoken mints a session token for calling the authenticated
// render job routes locally.
//
//	SESSION_JWT_SECRET=dev go run ./cmd/sessiontoken -user u-1 -client Acme
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"renderdesk/internal/auth"
)

func main() {
	user := flag.String("user", "", "user id placed in the token subject (required)")
	client := flag.String("client", "", "client claim; empty falls back to the profile or Shared")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	cookie := flag.Bool("cookie", false, "print a Cookie header instead of the bare token")
	flag.Parse()

	secret := mustEnv("SESSION_JWT_SECRET")
	if strings.TrimSpace(*user) == "" {
		fmt.Fprintln(os.Stderr, "-user is required")
		flag.Usage()
		os.Exit(2)
	}

	sessions := auth.NewSessions(secret, os.Getenv("SESSION_COOKIE_NAME"))
	tok, err := sessions.Mint(strings.TrimSpace(*user), strings.TrimSpace(*client), *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mint token:", err)
		os.Exit(1)
	}

	if *cookie {
		fmt.Printf("Cookie: %s=%s\n", sessions.CookieName(), tok)
		return
	}
	fmt.Println(tok)
}

func mustEnv(k string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		fmt.Fprintf(os.Stderr, "missing env %s\n", k)
		os.Exit(1)
	}
	return v
}
