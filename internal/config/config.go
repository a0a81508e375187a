package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kacper-wojtaszczyk/oar-distribution/internal/archive"
)

// FileEnvVar names the optional YAML config file.
const FileEnvVar = "DISTRIBUTION_CONFIG"

const (
	DeliverySpool  = "spool"
	DeliveryStream = "stream"
)

// Config holds application configuration.
type Config struct {
	RMMBaseURL string

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOUseSSL    bool
	CacheBucket    string

	Port string

	MetadataTimeout time.Duration
	MetadataRetries int

	FetchTimeout     time.Duration
	FetchConcurrency int
	CompressionLevel int
	ArchivePolicy    archive.Policy
	ArchiveDelivery  string
	ArchiveSpoolDir  string

	TLSInsecureSkipVerify bool
	TLSCAFile             string
}

type ErrMissingRequiredEnvVar struct {
	Name string
}

func (e *ErrMissingRequiredEnvVar) Error() string {
	return fmt.Sprintf("required environment variable %q is not set", e.Name)
}

type ErrInvalidEnvVar struct {
	Name  string
	Value string
	Err   error
}

func (e *ErrInvalidEnvVar) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("environment variable %q has invalid value %q: %v", e.Name, e.Value, e.Err)
	}
	return fmt.Sprintf("environment variable %q has invalid value %q", e.Name, e.Value)
}

func (e *ErrInvalidEnvVar) Unwrap() error {
	return e.Err
}

// source looks values up in the environment first, then in the config file.
type source struct {
	file map[string]string
	err  error
}

func (s *source) get(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.file[key]
}

func (s *source) required(key string) string {
	v := s.get(key)
	if v == "" && s.err == nil {
		s.err = &ErrMissingRequiredEnvVar{Name: key}
	}
	return v
}

func (s *source) str(key, fallback string) string {
	if v := s.get(key); v != "" {
		return v
	}
	return fallback
}

func (s *source) invalid(key, value string, err error) {
	if s.err == nil {
		s.err = &ErrInvalidEnvVar{Name: key, Value: value, Err: err}
	}
}

func (s *source) boolean(key string, fallback bool) bool {
	v := s.get(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		s.invalid(key, v, nil)
		return fallback
	}
	return b
}

func (s *source) integer(key string, fallback, min int) int {
	v := s.get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min {
		s.invalid(key, v, nil)
		return fallback
	}
	return n
}

func (s *source) duration(key string, fallback time.Duration) time.Duration {
	v := s.get(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		s.invalid(key, v, nil)
		return fallback
	}
	return d
}

// Load reads configuration from environment variables, on top of the YAML file
// at path (or $DISTRIBUTION_CONFIG) when one is given.
// Returns an error if required variables are missing or malformed.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(FileEnvVar)
	}
	file, err := readFile(path)
	if err != nil {
		return nil, err
	}
	s := &source{file: file}

	config := Config{
		RMMBaseURL:       s.required("RMM_BASE_URL"),
		MinIOEndpoint:    s.required("MINIO_ENDPOINT"),
		MinIOAccessKey:   s.required("MINIO_ACCESS_KEY"),
		MinIOSecretKey:   s.required("MINIO_SECRET_KEY"),
		CacheBucket:      s.required("CACHE_BUCKET"),
		MinIOUseSSL:      s.boolean("MINIO_USE_SSL", false),
		Port:             s.str("PORT", "8080"),
		MetadataTimeout:  s.duration("METADATA_TIMEOUT", 30*time.Second),
		MetadataRetries:  s.integer("METADATA_RETRIES", 0, 0),
		FetchTimeout:     s.duration("FETCH_TIMEOUT", 10*time.Minute),
		FetchConcurrency: s.integer("FETCH_CONCURRENCY", 4, 1),
		CompressionLevel: s.integer("COMPRESSION_LEVEL", -1, -2),
		ArchiveSpoolDir:  s.str("ARCHIVE_SPOOL_DIR", os.TempDir()),
		TLSCAFile:        s.str("TLS_CA_FILE", ""),

		TLSInsecureSkipVerify: s.boolean("TLS_INSECURE_SKIP_VERIFY", false),
	}

	if config.CompressionLevel > 9 {
		s.invalid("COMPRESSION_LEVEL", strconv.Itoa(config.CompressionLevel), nil)
	}

	policy := s.get("ARCHIVE_POLICY")
	if config.ArchivePolicy, err = archive.ParsePolicy(policy); err != nil {
		s.invalid("ARCHIVE_POLICY", policy, err)
	}

	config.ArchiveDelivery = strings.ToLower(s.str("ARCHIVE_DELIVERY", DeliverySpool))
	if config.ArchiveDelivery != DeliverySpool && config.ArchiveDelivery != DeliveryStream {
		s.invalid("ARCHIVE_DELIVERY", config.ArchiveDelivery, nil)
	}

	if s.err != nil {
		return nil, s.err
	}
	return &config, nil
}

// readFile decodes a flat YAML mapping keyed by environment variable names.
func readFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	values := map[string]string{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return values, nil
}
