// Package config loads client and server settings from .otakushelf.yaml and
// OTAKUSHELF_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

const (
	envPrefix  = "OTAKUSHELF"
	configName = ".otakushelf" // .yaml is implicit

	devSecret = "dev-secret-change-me"
)

type Timeouts struct {
	Read     time.Duration
	Write    time.Duration
	Import   time.Duration
	Metadata time.Duration
}

// Client holds what the command-line front-end needs.
type Client struct {
	APIURL           string
	AniListURL       string
	AniListCacheTTL  time.Duration
	TokenPath        string
	LogLevel         string
	Timeouts         Timeouts
	ImportClearDelay time.Duration
}

type Server struct {
	ListenAddr    string
	DBPath        string
	LogLevel      string
	LogFormat     string
	JWTSecret     string
	JWTIssuer     string
	JWTTTL        time.Duration
	ProgressEvery int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_url", "http://localhost:5000")
	v.SetDefault("anilist_url", "https://graphql.anilist.co")
	v.SetDefault("anilist_cache_ttl", "6h")
	v.SetDefault("token_path", "~/.otakushelf/token.json")
	v.SetDefault("log_level", "warn")
	v.SetDefault("log_format", "json")
	v.SetDefault("timeouts.read", "15s")
	v.SetDefault("timeouts.write", "10s")
	v.SetDefault("timeouts.import", "15s")
	v.SetDefault("timeouts.metadata", "8s")
	v.SetDefault("import_clear_delay", "2s")

	v.SetDefault("listen_addr", ":5000")
	v.SetDefault("db_path", "~/.otakushelf/list.db")
	v.SetDefault("jwt_secret", devSecret)
	v.SetDefault("jwt_issuer", "otakushelf")
	v.SetDefault("jwt_ttl_hours", 24)
	v.SetDefault("import_progress_every", 5)
}

// New returns a viper instance with defaults, environment binding and, when
// present, the config file from $OTAKUSHELF_CONFIG_PATH or the working dir.
func New() (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName(configName)
	if override := os.Getenv(envPrefix + "_CONFIG_PATH"); override != "" {
		v.AddConfigPath(override)
	}
	v.AddConfigPath("./")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func LoadClient() (Client, error) {
	v, err := New()
	if err != nil {
		return Client{}, err
	}
	return ClientFrom(v)
}

func ClientFrom(v *viper.Viper) (Client, error) {
	tokenPath, err := homedir.Expand(v.GetString("token_path"))
	if err != nil {
		return Client{}, fmt.Errorf("expand token_path: %w", err)
	}
	c := Client{
		APIURL:          strings.TrimRight(v.GetString("api_url"), "/"),
		AniListURL:      v.GetString("anilist_url"),
		AniListCacheTTL: v.GetDuration("anilist_cache_ttl"),
		TokenPath:       tokenPath,
		LogLevel:        v.GetString("log_level"),
		Timeouts: Timeouts{
			Read:     v.GetDuration("timeouts.read"),
			Write:    v.GetDuration("timeouts.write"),
			Import:   v.GetDuration("timeouts.import"),
			Metadata: v.GetDuration("timeouts.metadata"),
		},
		ImportClearDelay: v.GetDuration("import_clear_delay"),
	}
	if c.APIURL == "" {
		return Client{}, errors.New("api_url must not be empty")
	}
	return c, nil
}

func LoadServer() (Server, error) {
	v, err := New()
	if err != nil {
		return Server{}, err
	}
	return ServerFrom(v)
}

func ServerFrom(v *viper.Viper) (Server, error) {
	dbPath, err := homedir.Expand(v.GetString("db_path"))
	if err != nil {
		return Server{}, fmt.Errorf("expand db_path: %w", err)
	}

	ttl := v.GetInt("jwt_ttl_hours")
	if ttl <= 0 {
		ttl = 24
	}
	s := Server{
		ListenAddr:    v.GetString("listen_addr"),
		DBPath:        dbPath,
		LogLevel:      v.GetString("log_level"),
		LogFormat:     v.GetString("log_format"),
		JWTSecret:     v.GetString("jwt_secret"),
		JWTIssuer:     v.GetString("jwt_issuer"),
		JWTTTL:        time.Duration(ttl) * time.Hour,
		ProgressEvery: v.GetInt("import_progress_every"),
	}
	if s.JWTSecret == "" {
		return Server{}, errors.New("jwt_secret must not be empty")
	}
	return s, nil
}

// DevSecret reports whether the server still signs with the built-in secret.
func (s Server) DevSecret() bool { return s.JWTSecret == devSecret }
