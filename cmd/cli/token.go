package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/walnut-ops/walnut/internal/config"
	"github.com/walnut-ops/walnut/internal/middleware"
)

var (
	flagSubject  string
	flagTTLMin   int
	flagNoExpiry bool
)

// tokenCmd mints an HS256 bearer token from the configured JWT secret.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate a bearer token (HS256) for API authentication",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		secret := cfg.JWT.Secret
		if secret == "" {
			return fmt.Errorf("jwt.secret is empty; set it in config")
		}
		now := time.Now()
		claims := map[string]interface{}{
			"sub": flagSubject,
			"iat": now.Unix(),
		}
		if !flagNoExpiry {
			claims["exp"] = now.Add(time.Duration(flagTTLMin) * time.Minute).Unix()
		}
		tok, err := middleware.SignHS256(claims, secret)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&flagSubject, "sub", "operator", "subject (sub) claim")
	tokenCmd.Flags().IntVar(&flagTTLMin, "ttl", 60, "token time-to-live in minutes")
	tokenCmd.Flags().BoolVar(&flagNoExpiry, "no-exp", false, "do not include exp claim")
}
