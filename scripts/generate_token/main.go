package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"time"

	"activity-ledger/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func main() {
	userID := flag.String("user", "", "user ID to put in the sub claim (random if empty)")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *userID == "" {
		*userID = uuid.New().String()
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": *userID,
		"iat": now.Unix(),
		"exp": now.Add(*ttl).Unix(),
	})

	secret := []byte(cfg.JWTSecret)
	if decoded, err := base64.StdEncoding.DecodeString(cfg.JWTSecret); err == nil {
		secret = decoded
	}

	tokenString, err := token.SignedString(secret)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	fmt.Printf("Token for user %s (expires %s):\n", *userID, now.Add(*ttl).Format(time.RFC3339))
	fmt.Println("-----------------------------------------------")
	fmt.Println(tokenString)
	fmt.Println("-----------------------------------------------")
}
