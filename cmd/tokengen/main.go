// Package main mints bearer tokens for local runs of the blockcreds API.
// Tokens are signed with the dev key unless -key is given.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	jwttoken "blockcreds/internal/jwt_token"
	id "blockcreds/pkg/domain"
)

const (
	// Matches config.FromEnv when JWT_SIGNING_KEY is not set.
	devSigningKey   = "dev-secret-key-change-in-production"
	defaultIssuer   = "blockcreds"
	defaultTokenTTL = time.Hour
)

type tokenOutput struct {
	Token     string   `json:"token"`
	Subject   string   `json:"sub"`
	Scopes    []string `json:"scope"`
	ExpiresIn string   `json:"expires_in"`
}

func main() {
	fs := flag.NewFlagSet("tokengen", flag.ExitOnError)
	subject := fs.String("sub", "", "Directory reference (UUID) of the caller. Generated if empty.")
	scopes := fs.String("scopes", jwttoken.ScopeIssue+","+jwttoken.ScopeVerify, "Comma-separated scopes")
	ttl := fs.Duration("ttl", defaultTokenTTL, "Token time-to-live")
	key := fs.String("key", envOr("JWT_SIGNING_KEY", devSigningKey), "HS256 signing key")
	issuer := fs.String("issuer", envOr("JWT_ISSUER", defaultIssuer), "Issuer and audience claim")
	asJSON := fs.Bool("json", false, "Output as JSON")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `tokengen - mint a bearer token for the blockcreds API

Usage:
  tokengen [flags]

Examples:
  tokengen
  tokengen -sub 550e8400-e29b-41d4-a716-446655440000 -scopes credentials:issue
  tokengen -json`)
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])

	userID := id.NewUserID()
	if *subject != "" {
		parsed, err := id.ParseUserID(*subject)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -sub: %v\n", err)
			os.Exit(1)
		}
		userID = parsed
	}
	scopeList := parseScopes(*scopes)

	svc := jwttoken.NewJWTService(*key, *issuer, *issuer, *ttl)
	token, err := svc.GenerateAccessToken(context.Background(), userID, scopeList)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error generating token: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(tokenOutput{
			Token:     token,
			Subject:   userID.String(),
			Scopes:    scopeList,
			ExpiresIn: ttl.String(),
		}); err != nil {
			fmt.Fprintf(os.Stderr, "error encoding JSON: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Printf("Subject:    %s\n", userID)
	fmt.Printf("Scopes:     %v\n", scopeList)
	fmt.Printf("Expires In: %s\n\n", *ttl)
	fmt.Println(token)
	fmt.Println()
	fmt.Println(`curl -H "Authorization: Bearer <token>" http://localhost:8080/credentials`)
}

func parseScopes(scopes string) []string {
	var result []string
	for _, s := range strings.Split(scopes, ",") {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
