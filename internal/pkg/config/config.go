// Package config turns the environment into the explicit settings the
// service is built from.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/PayProxy/internal/pkg/env"
	"github.com/ManuelReschke/PayProxy/internal/pkg/s3backup"
)

type App struct {
	Env            string
	Host           string
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	HandlerTimeout time.Duration
}

func (a App) Addr() string {
	return a.Host + ":" + a.Port
}

type Database struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

// DSN is the go-sql-driver/mysql data source name. Times are stored in UTC.
func (d Database) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// MigrateURL is the golang-migrate database URL for the same database.
func (d Database) MigrateURL() string {
	return fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type Cache struct {
	Host     string
	Port     string
	Password string
}

func (c Cache) Addr() string {
	return c.Host + ":" + c.Port
}

// Processor holds the hosted payment page credentials.
type Processor struct {
	Mode      string
	AccessKey string
	ProfileID string
	SecretKey string
}

// Platform holds the keys and URLs shared with the platform.
type Platform struct {
	SecretKey            string
	PublicKey            string
	TimestampMaxAge      time.Duration
	URL                  string
	IndividualDetailPath string
	RegistrarDetailPath  string
	RegistrarUsersPath   string
	CanceledRedirectURL  string
}

// StorageKey is one encoded version of the vault keypair.
type StorageKey struct {
	ID     int
	Public string
	Secret string
}

type Storage struct {
	ActiveKeyID int
	Keys        []StorageKey
}

type Subscriptions struct {
	GraceDays                    int
	RaiseIfMultipleSubscriptions bool
	RaiseIfSubscriptionNotFound  bool
	PreventMultipleSubscriptions bool
	ReferencePrefix              string
	TimeZone                     string
}

type Mail struct {
	Host        string
	Port        string
	Username    string
	Password    string
	Sender      string
	AdminEmails []string
}

type Admin struct {
	Username string
	Password string
}

type RateLimit struct {
	Max    int
	Window time.Duration
}

type Jobs struct {
	Workers int
}

// Config is built once at startup and passed to the constructors that need it.
type Config struct {
	App           App
	Database      Database
	Cache         Cache
	Processor     Processor
	Platform      Platform
	Storage       Storage
	Subscriptions Subscriptions
	Mail          Mail
	Admin         Admin
	RateLimit     RateLimit
	Archive       s3backup.Config
	Jobs          Jobs
}

// Load reads the configuration from env. Malformed numbers and booleans are
// reported together.
func Load() (*Config, error) {
	p := &parser{}

	appEnv := env.GetEnv("APP_ENV", "prod")
	cfg := &Config{
		App: App{
			Env:            appEnv,
			Host:           env.GetEnv("APP_HOST", "0.0.0.0"),
			Port:           env.GetEnv("APP_PORT", "8080"),
			ReadTimeout:    p.seconds("APP_READ_TIMEOUT_SECONDS", 10),
			WriteTimeout:   p.seconds("APP_WRITE_TIMEOUT_SECONDS", 10),
			HandlerTimeout: p.seconds("APP_HANDLER_TIMEOUT_SECONDS", 8),
		},
		Database: Database{
			User:     env.GetEnv("DB_USER", ""),
			Password: env.GetEnv("DB_PASSWORD", ""),
			Host:     env.GetEnv("DB_HOST", "127.0.0.1"),
			Port:     env.GetEnv("DB_PORT", "3306"),
			Name:     env.GetEnv("DB_NAME", ""),
		},
		Cache: Cache{
			Host:     env.GetEnv("CACHE_HOST", "localhost"),
			Port:     env.GetEnv("CACHE_PORT", "6379"),
			Password: env.GetEnv("CACHE_PASSWORD", ""),
		},
		Processor: Processor{
			Mode:      env.GetEnv("CS_MODE", "test"),
			AccessKey: env.GetEnv("CS_ACCESS_KEY", ""),
			ProfileID: env.GetEnv("CS_PROFILE_ID", ""),
			SecretKey: env.GetEnv("CS_SECRET_KEY", ""),
		},
		Platform: Platform{
			SecretKey:            env.GetEnv("PERMA_PAYMENTS_SECRET_KEY", ""),
			PublicKey:            env.GetEnv("PERMA_PUBLIC_KEY", ""),
			TimestampMaxAge:      p.seconds("PERMA_TIMESTAMP_MAX_AGE_SECONDS", 120),
			URL:                  strings.TrimRight(env.GetEnv("PERMA_URL", "http://localhost:8000"), "/"),
			IndividualDetailPath: env.GetEnv("INDIVIDUAL_DETAIL_PATH", "/manage/users"),
			RegistrarDetailPath:  env.GetEnv("REGISTRAR_DETAIL_PATH", "/manage/registrars"),
			RegistrarUsersPath:   env.GetEnv("REGISTRAR_USERS_PATH", "/manage/registrar-users"),
			CanceledRedirectURL:  env.GetEnv("PERMA_SUBSCRIPTION_CANCELED_REDIRECT_URL", "http://localhost:8000/settings/subscription"),
		},
		Subscriptions: Subscriptions{
			GraceDays:                    p.int("GRACE_PERIOD", 2),
			RaiseIfMultipleSubscriptions: p.bool("RAISE_IF_MULTIPLE_SUBSCRIPTIONS_FOUND", true),
			RaiseIfSubscriptionNotFound:  p.bool("RAISE_IF_SUBSCRIPTION_NOT_FOUND", true),
			PreventMultipleSubscriptions: p.bool("PREVENT_MULTIPLE_SUBSCRIPTIONS", true),
			ReferencePrefix:              env.GetEnv("REFERENCE_NUMBER_PREFIX", "PERMA"),
			TimeZone:                     env.GetEnv("TIME_ZONE", "UTC"),
		},
		Mail: Mail{
			Host:        env.GetEnv("SMTP_HOST", ""),
			Port:        env.GetEnv("SMTP_PORT", "25"),
			Username:    env.GetEnv("SMTP_USERNAME", ""),
			Password:    env.GetEnv("SMTP_PASSWORD", ""),
			Sender:      env.GetEnv("SMTP_SENDER", ""),
			AdminEmails: splitList(env.GetEnv("ADMIN_EMAILS", "")),
		},
		Admin: Admin{
			Username: env.GetEnv("ADMIN_USERNAME", ""),
			Password: env.GetEnv("ADMIN_PASSWORD", ""),
		},
		RateLimit: RateLimit{
			Max:    p.int("RATE_LIMIT_MAX", 30),
			Window: p.seconds("RATE_LIMIT_WINDOW_SECONDS", 60),
		},
		Archive: s3backup.Config{
			AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
			Region:          env.GetEnv("S3_REGION", "us-east-1"),
			BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
			EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
			Enabled:         p.bool("S3_ARCHIVE_ENABLED", false),
			AppEnv:          appEnv,
		},
		Jobs: Jobs{
			Workers: p.int("JOBQUEUE_WORKERS", 2),
		},
	}
	cfg.Storage = p.storage()

	if err := cfg.Archive.Validate(); err != nil {
		p.errs = append(p.errs, err)
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Location resolves TIME_ZONE.
func (s Subscriptions) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("TIME_ZONE: %w", err)
	}
	return loc, nil
}

type parser struct {
	errs []error
}

func (p *parser) int(key string, def int) int {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be an integer, got %q", key, raw))
		return def
	}
	return n
}

func (p *parser) bool(key string, def bool) bool {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be a boolean, got %q", key, raw))
		return def
	}
	return b
}

func (p *parser) seconds(key string, def int) time.Duration {
	return time.Duration(p.int(key, def)) * time.Second
}

// storage reads the vault key ring. The active key may be configured without
// an id suffix; older versions listed in STORAGE_KEY_IDS use
// STORAGE_VAULT_PUBLIC_KEY_<id> and STORAGE_VAULT_SECRET_KEY_<id>.
func (p *parser) storage() Storage {
	active := p.int("STORAGE_ENCRYPTION_KEY_ID", 1)
	s := Storage{ActiveKeyID: active}

	ids := []int{active}
	for _, raw := range splitList(env.GetEnv("STORAGE_KEY_IDS", "")) {
		id, err := strconv.Atoi(raw)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("STORAGE_KEY_IDS must list integers, got %q", raw))
			continue
		}
		if id != active {
			ids = append(ids, id)
		}
	}

	for _, id := range ids {
		key := StorageKey{
			ID:     id,
			Public: env.GetEnv(fmt.Sprintf("STORAGE_VAULT_PUBLIC_KEY_%d", id), ""),
			Secret: env.GetEnv(fmt.Sprintf("STORAGE_VAULT_SECRET_KEY_%d", id), ""),
		}
		if id == active {
			if key.Public == "" {
				key.Public = env.GetEnv("STORAGE_VAULT_PUBLIC_KEY", "")
			}
			if key.Secret == "" {
				key.Secret = env.GetEnv("STORAGE_VAULT_SECRET_KEY", "")
			}
		}
		s.Keys = append(s.Keys, key)
	}
	return s
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
