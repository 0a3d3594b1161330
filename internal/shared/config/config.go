package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"filevault-backend/internal/shared/telemetry"
)

const (
	defaultQuotaLimitBytes = 10 << 20 // 10MB
	defaultMaxUploadBytes  = 100 << 20
)

// Config holds application configuration.
type Config struct {
	Port                   string
	Env                    string
	DatabaseURL            string
	CORSAllowOrigin        []string
	ObjectStoreType        string
	BlobDir                string
	BlobCompression        string
	SpoolDir               string
	AWSRegion              string
	S3Bucket               string
	S3Prefix               string
	SSEKMSKeyID            string
	QuotaDefaultLimitBytes int64
	QuotaChargeDuplicates  bool
	MaxUploadBytes         int64
	RateLimitRPS           float64
	RateLimitBurst         int
	AuthTrustUserHeader    bool
	JWTSecret              string
	LogLevel               string
	LogFormat              string
	HTTPReadTimeout        time.Duration
	HTTPWriteTimeout       time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// Values from the optional YAML file named by CONFIG_FILE sit between the
// defaults and the environment.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	src := source{file: map[string]string{}}
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		values, err := loadFile(path)
		if err != nil {
			telemetry.Warn("config.file_ignored", map[string]any{"path": path, "error": err})
		} else {
			src.file = values
		}
	}

	env := normalizeEnv(src.str("ENV", "dev"))
	dbURL := src.str("DATABASE_URL", "")

	if env == "production" && dbURL == "" {
		telemetry.Warn("config.database_url_missing", map[string]any{"env": env})
	}

	return Config{
		Port:                   src.str("PORT", "8080"),
		Env:                    env,
		DatabaseURL:            dbURL,
		CORSAllowOrigin:        splitAndTrim(src.str("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		ObjectStoreType:        normalizeStoreType(src.str("OBJECT_STORE", "local")),
		BlobDir:                src.str("BLOB_DIR", "./data/blobs"),
		BlobCompression:        normalizeCompression(src.str("BLOB_COMPRESSION", "none")),
		SpoolDir:               src.str("SPOOL_DIR", os.TempDir()),
		AWSRegion:              src.str("AWS_REGION", ""),
		S3Bucket:               src.str("S3_BUCKET", ""),
		S3Prefix:               src.str("S3_PREFIX", ""),
		SSEKMSKeyID:            src.str("SSE_KMS_KEY_ID", ""),
		QuotaDefaultLimitBytes: src.int64("QUOTA_DEFAULT_LIMIT_BYTES", defaultQuotaLimitBytes),
		QuotaChargeDuplicates:  src.bool("QUOTA_CHARGE_DUPLICATES", true),
		MaxUploadBytes:         src.int64("MAX_UPLOAD_BYTES", defaultMaxUploadBytes),
		RateLimitRPS:           src.float("RATE_LIMIT_RPS", 2),
		RateLimitBurst:         int(src.int64("RATE_LIMIT_BURST", 4)),
		AuthTrustUserHeader:    src.bool("AUTH_TRUST_USER_HEADER", env != "production"),
		JWTSecret:              src.str("JWT_SECRET", ""),
		LogLevel:               src.str("LOG_LEVEL", "info"),
		LogFormat:              src.str("LOG_FORMAT", "json"),
		HTTPReadTimeout:        src.duration("HTTP_READ_TIMEOUT", 60*time.Second),
		HTTPWriteTimeout:       src.duration("HTTP_WRITE_TIMEOUT", 120*time.Second),
	}
}

type source struct {
	file map[string]string
}

func (s source) str(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if val, ok := s.file[key]; ok && val != "" {
		return val
	}
	return def
}

func (s source) int64(key string, def int64) int64 {
	raw := strings.TrimSpace(s.str(key, ""))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		telemetry.Warn("config.invalid_int", map[string]any{"key": key, "value": raw})
		return def
	}
	return val
}

func (s source) float(key string, def float64) float64 {
	raw := strings.TrimSpace(s.str(key, ""))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		telemetry.Warn("config.invalid_float", map[string]any{"key": key, "value": raw})
		return def
	}
	return val
}

func (s source) bool(key string, def bool) bool {
	raw := strings.TrimSpace(s.str(key, ""))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		telemetry.Warn("config.invalid_bool", map[string]any{"key": key, "value": raw})
		return def
	}
	return val
}

func (s source) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(s.str(key, ""))
	if raw == "" {
		return def
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		telemetry.Warn("config.invalid_duration", map[string]any{"key": key, "value": raw})
		return def
	}
	return val
}

// loadFile reads a flat YAML mapping of config keys. Keys are matched
// case-insensitively against the environment variable names.
func loadFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		key := strings.ToUpper(strings.TrimSpace(k))
		switch val := v.(type) {
		case nil:
			continue
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, strings.TrimSpace(toString(p)))
			}
			out[key] = strings.Join(parts, ",")
		default:
			out[key] = toString(val)
		}
	}
	return out, nil
}

func toString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := yaml.Marshal(val)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(b))
	}
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeCompression(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "zstd":
		return "zstd"
	default:
		return "none"
	}
}
