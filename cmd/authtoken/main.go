// Package main выпускает значение cookie auth_token для покупателя или администратора.
//
// Секрет берётся из AUTH_SECRET, тот же, что у сервера:
//
//	AUTH_SECRET=... authtoken -role admin
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"

	"github.com/mmeshcher/mmo-shop/internal/middleware"
)

type tokenConfig struct {
	AuthSecret string `env:"AUTH_SECRET"`
}

var errNoSecret = errors.New("AUTH_SECRET is required")

func issue(secret, userID, role string) (string, error) {
	if secret == "" {
		return "", errNoSecret
	}

	id := uuid.New()
	if userID != "" {
		parsed, err := uuid.Parse(userID)
		if err != nil {
			return "", fmt.Errorf("parse user id: %w", err)
		}
		id = parsed
	}

	r := middleware.Role(role)
	if r != middleware.RoleBuyer && r != middleware.RoleAdmin {
		return "", fmt.Errorf("unknown role %q", role)
	}

	return middleware.NewAuthMiddleware(secret).Sign(id, r), nil
}

func main() {
	userID := flag.String("u", "", "user id, a new one is generated when empty")
	role := flag.String("role", string(middleware.RoleBuyer), "buyer or admin")
	flag.Parse()

	var cfg tokenConfig
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, "parse env:", err)
		os.Exit(1)
	}

	token, err := issue(cfg.AuthSecret, *userID, *role)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
}
