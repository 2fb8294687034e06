// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/grantd/grantd/pkg/authserver"
	serverkeys "github.com/grantd/grantd/pkg/authserver/keys"
	"github.com/grantd/grantd/pkg/logger"
	"github.com/grantd/grantd/pkg/oauth"
	"github.com/grantd/grantd/pkg/storage"
)

// settings is the full configuration file schema.
type settings struct {
	Issuer  string `mapstructure:"issuer"`
	Address string `mapstructure:"address"`

	// Secret keys the token seal. SecretFile wins when both are set.
	Secret     string `mapstructure:"secret"`
	SecretFile string `mapstructure:"secret_file"`

	Grants                  []string      `mapstructure:"grants"`
	AccessTokenTTL          time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL         time.Duration `mapstructure:"refresh_token_ttl"`
	AuthorizationCodeTTL    time.Duration `mapstructure:"authorization_code_ttl"`
	RememberApprovedClients bool          `mapstructure:"remember_approved_clients"`

	// LoginURL is where unauthenticated authorize requests are sent.
	LoginURL string `mapstructure:"login_url"`

	// SessionHeader names the trusted header carrying the authenticated
	// user, for deployments behind an authenticating reverse proxy.
	SessionHeader string `mapstructure:"session_header"`

	Storage storageSettings  `mapstructure:"storage"`
	Keys    keySettings      `mapstructure:"keys"`
	Clients []clientSettings `mapstructure:"clients"`
	Users   []userSettings   `mapstructure:"users"`
	Roles   []roleSettings   `mapstructure:"roles"`
}

type storageSettings struct {
	Backend string        `mapstructure:"backend"`
	Redis   redisSettings `mapstructure:"redis"`
}

type redisSettings struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type keySettings struct {
	Dir              string   `mapstructure:"dir"`
	SigningKeyFile   string   `mapstructure:"signing_key_file"`
	FallbackKeyFiles []string `mapstructure:"fallback_key_files"`
}

type clientSettings struct {
	ID           string   `mapstructure:"id"`
	Name         string   `mapstructure:"name"`
	Secret       string   `mapstructure:"secret"`
	Confidential bool     `mapstructure:"confidential"`
	RedirectURI  string   `mapstructure:"redirect_uri"`
	RequirePKCE  bool     `mapstructure:"require_pkce"`
	ThirdParty   bool     `mapstructure:"third_party"`
	DefaultUser  string   `mapstructure:"default_user"`
	Scopes       []string `mapstructure:"scopes"`
}

type userSettings struct {
	ID       string   `mapstructure:"id"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	Blocked  bool     `mapstructure:"blocked"`
	Roles    []string `mapstructure:"roles"`
}

type roleSettings struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

// loadSettings reads the configuration file and environment into settings.
// Environment variables use the GRANTD_ prefix with underscores for nesting.
func loadSettings(configPath string) (*settings, error) {
	v := viper.New()
	v.SetEnvPrefix("GRANTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("address", ":8080")
	v.SetDefault("grants", []string{
		string(oauth.GrantTypeAuthorizationCode),
		string(oauth.GrantTypeRefreshToken),
	})
	v.SetDefault("remember_approved_clients", true)
	v.SetDefault("session_header", "X-Forwarded-User")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.redis.address", "localhost:6379")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("grantd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/grantd")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read configuration: %w", err)
		}
	}

	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return &s, nil
}

// serverConfig translates settings into the authorization server Config.
func (s *settings) serverConfig() (authserver.Config, error) {
	secret := []byte(s.Secret)
	if s.SecretFile != "" {
		data, err := os.ReadFile(s.SecretFile) // #nosec G304 - path comes from operator configuration
		if err != nil {
			return authserver.Config{}, fmt.Errorf("failed to read secret file: %w", err)
		}
		secret = []byte(strings.TrimSpace(string(data)))
	}

	grants := make([]oauth.GrantType, 0, len(s.Grants))
	for _, raw := range s.Grants {
		grants = append(grants, oauth.GrantType(raw))
	}

	return authserver.Config{
		Issuer:                  s.Issuer,
		Grants:                  grants,
		AccessTokenTTL:          s.AccessTokenTTL,
		RefreshTokenTTL:         s.RefreshTokenTTL,
		AuthorizationCodeTTL:    s.AuthorizationCodeTTL,
		Secret:                  secret,
		RememberApprovedClients: s.RememberApprovedClients,
		Keys: serverkeys.Config{
			KeyDir:           s.Keys.Dir,
			SigningKeyFile:   s.Keys.SigningKeyFile,
			FallbackKeyFiles: s.Keys.FallbackKeyFiles,
		},
	}, nil
}

// buildStorage constructs the configured storage backend.
func buildStorage(ctx context.Context, s *settings) (storage.Storage, error) {
	switch s.Storage.Backend {
	case "", "memory":
		return storage.NewMemoryStorage(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     s.Storage.Redis.Address,
			Password: s.Storage.Redis.Password,
			DB:       s.Storage.Redis.DB,
		})
		store := storage.NewRedisStorage(client)
		if err := store.Health(ctx); err != nil {
			return nil, fmt.Errorf("redis backend is unreachable: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", s.Storage.Backend)
	}
}

// seedStorage registers the configured roles, users, and clients. Plaintext
// secrets and passwords are hashed here; values already in bcrypt form are
// stored as-is.
func seedStorage(ctx context.Context, store storage.Storage, s *settings) error {
	for _, role := range s.Roles {
		if err := store.RegisterRole(ctx, oauth.Scope{ID: role.ID, Name: role.Name}); err != nil {
			return fmt.Errorf("failed to register role %s: %w", role.ID, err)
		}
	}

	for _, user := range s.Users {
		hash, err := hashIfPlaintext(user.Password)
		if err != nil {
			return fmt.Errorf("failed to hash password for user %s: %w", user.ID, err)
		}
		if err := store.RegisterUser(ctx, &oauth.User{
			ID:           user.ID,
			Username:     user.Username,
			PasswordHash: hash,
			Blocked:      user.Blocked,
			Roles:        user.Roles,
		}); err != nil {
			return fmt.Errorf("failed to register user %s: %w", user.ID, err)
		}
	}

	for _, client := range s.Clients {
		hash, err := hashIfPlaintext(client.Secret)
		if err != nil {
			return fmt.Errorf("failed to hash secret for client %s: %w", client.ID, err)
		}
		if err := store.RegisterClient(ctx, &oauth.Client{
			ID:            client.ID,
			Name:          client.Name,
			SecretHash:    hash,
			Confidential:  client.Confidential,
			RedirectURI:   client.RedirectURI,
			RequirePKCE:   client.RequirePKCE,
			ThirdParty:    client.ThirdParty,
			DefaultUserID: client.DefaultUser,
			Scopes:        client.Scopes,
		}); err != nil {
			return fmt.Errorf("failed to register client %s: %w", client.ID, err)
		}
		logger.Infow("registered client", "client_id", client.ID, "third_party", client.ThirdParty)
	}
	return nil
}

func hashIfPlaintext(value string) (string, error) {
	if value == "" || strings.HasPrefix(value, "$2") {
		return value, nil
	}
	return oauth.HashClientSecret(value)
}
