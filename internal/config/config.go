package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	ListenAddr  string

	// PublicBaseURL is the externally reachable base URL used when
	// constructing gateway return and cancel links.
	PublicBaseURL string

	OTLPEndpoint string

	Zoho    ZohoConfig
	AuthNet AuthNetConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
}

// ZohoConfig carries the Zoho Books OAuth and organization settings.
type ZohoConfig struct {
	ClientID       string
	ClientSecret   string
	RefreshToken   string
	OrganizationID string
	AccountsURL    string
	APIBaseURL     string
}

// AuthNetConfig carries the Authorize.Net merchant credentials.
type AuthNetConfig struct {
	LoginID        string
	TransactionKey string
	SignatureKey   string
	APIBaseURL     string
	PaymentPageURL string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "payrelay"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("ENVIRONMENT", "development"),
		ListenAddr:    getenv("LISTEN_ADDR", ":8080"),
		PublicBaseURL: strings.TrimRight(getenv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		OTLPEndpoint:  getenv("OTLP_ENDPOINT", "localhost:4317"),
		Zoho: ZohoConfig{
			ClientID:       strings.TrimSpace(getenv("ZOHO_CLIENT_ID", "")),
			ClientSecret:   strings.TrimSpace(getenv("ZOHO_CLIENT_SECRET", "")),
			RefreshToken:   strings.TrimSpace(getenv("ZOHO_REFRESH_TOKEN", "")),
			OrganizationID: strings.TrimSpace(getenv("ZOHO_ORGANIZATION_ID", "")),
			AccountsURL:    getenv("ZOHO_ACCOUNTS_URL", "https://accounts.zoho.com"),
			APIBaseURL:     getenv("ZOHO_API_BASE_URL", "https://www.zohoapis.com/books/v3"),
		},
		AuthNet: AuthNetConfig{
			LoginID:        strings.TrimSpace(getenv("AUTHNET_LOGIN_ID", "")),
			TransactionKey: strings.TrimSpace(getenv("AUTHNET_TRANSACTION_KEY", "")),
			SignatureKey:   strings.TrimSpace(getenv("AUTHNET_SIGNATURE_KEY", "")),
			APIBaseURL:     getenv("AUTHNET_API_BASE_URL", "https://api.authorize.net/xml/v1/request.api"),
			PaymentPageURL: getenv("AUTHNET_PAYMENT_PAGE_URL", "https://accept.authorize.net/payment/payment"),
		},
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "payrelay"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 2),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 10),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}
