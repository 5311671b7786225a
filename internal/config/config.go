package config

import (
	"encoding/base64"
	"fmt"
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	RedisURL       string
	SigningKey     []byte
	AllowedOrigins []string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

// NewConfig validates and assembles the server configuration. RedisURL is
// optional: an empty string disables cluster fan-out.
func NewConfig(serverAddr, databaseDSN, redisURL, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		RedisURL:       redisURL,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
	}, nil
}
