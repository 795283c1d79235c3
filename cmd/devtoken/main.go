// devtoken выпускает access-токен для локальной разработки: в проде токены
// выдает внешний Auth-сервис.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"artisan_chat/internal/config"
	"artisan_chat/pkg/jwt"

	"github.com/google/uuid"
)

func main() {
	userID := flag.String("user", "", "user id (random if empty)")
	email := flag.String("email", "dev@example.com", "email claim")
	name := flag.String("name", "Dev User", "display name claim")
	avatar := flag.String("avatar", "", "avatar url claim")
	ttl := flag.Duration("ttl", 0, "token lifetime (JWT_ACCESS_TTL if zero)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	id := uuid.New()
	if *userID != "" {
		if id, err = uuid.Parse(*userID); err != nil {
			log.Fatalf("Invalid user id: %v", err)
		}
	}

	lifetime := cfg.JWT.AccessTTL
	if *ttl > 0 {
		lifetime = *ttl
	}

	token, err := jwt.GenerateAccessToken(id, *email, *name, *avatar, cfg.JWT.AccessSecret, cfg.JWT.Issuer, lifetime)
	if err != nil {
		log.Fatalf("Failed to generate token: %v", err)
	}

	fmt.Printf("user_id=%s expires_at=%s\n", id, time.Now().Add(lifetime).Format(time.RFC3339))
	fmt.Println(token)
}
