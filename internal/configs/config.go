package configs

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// StorageConfig выбирает реализацию хранилища каталога
type StorageConfig struct {
	Driver string
	// SeedOfficeID - офис, для которого memory-драйвер включает все источники при старте
	SeedOfficeID      string
	SeedCrawlInterval time.Duration
}

// DBconfig хранит конфигурацию для БД
type DBconfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MigrateOnStart  bool
}

// RabbitMQConfig хранит конфигурацию для RabbitMQ
type RabbitMQConfig struct {
	Enabled bool
	URL     string
}

type StdoutLogConfig struct {
	Level string
}

type FluentBitConfig struct {
	Host    string
	Port    int
	Enabled bool
	Level   string
}

// HTTPConfig - тонкий HTTP-интерфейс запуска стадий
type HTTPConfig struct {
	Enabled        bool
	Port           string
	AllowedOrigins []string
}

// FetchConfig - общий для всех стадий HTTP-клиент
type FetchConfig struct {
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	UserAgent   string
	RandomDelay time.Duration
	Parallelism int
}

// HarvestConfig - сбор поисковой выдачи
type HarvestConfig struct {
	MaxPages      int
	ItemBudget    int
	PriceMin      float64
	PriceMax      float64
	OtodomBaseURL string
	OlxBaseURL    string
	GratkaBaseURL string
}

// PipelineConfig - бюджеты раундов полного прогона
type PipelineConfig struct {
	EnrichLimit    int
	EnrichRoundCap int
	VerifyLimit    int
	VerifyRoundCap int
	GeocodeEnabled bool
	GeocodeLimit   int
	RcnEnabled     bool
	RcnLimit       int
}

type EnrichConfig struct {
	// RetryCooldown - через сколько повторять обогащение строки, у которой поля так и не нашлись
	RetryCooldown time.Duration
}

type VerifyConfig struct {
	Interval time.Duration
}

type GeocoderConfig struct {
	URL          string
	Delay        time.Duration
	Email        string
	CountryCodes string
}

// RcnConfig - реестр цен и стоимостей (геопортал)
type RcnConfig struct {
	WFSURL       string
	WMSURL       string
	WFSLayers    []string
	WMSLayers    []string
	RadiusM      float64
	Cooldown     time.Duration
	Delay        time.Duration
	LinkTemplate string
}

type SchedulerConfig struct {
	Enabled     bool
	Spec        string
	Concurrency int
}

// AppConfig хранит всю конфигурацию приложения
type AppConfig struct {
	AppName      string
	Storage      StorageConfig
	Database     DBconfig
	RabbitMQ     RabbitMQConfig
	FluentBit    FluentBitConfig
	StdoutLogger StdoutLogConfig
	HTTP         HTTPConfig
	Fetch        FetchConfig
	Harvest      HarvestConfig
	Pipeline     PipelineConfig
	Enrich       EnrichConfig
	Verify       VerifyConfig
	Geocoder     GeocoderConfig
	Rcn          RcnConfig
	Scheduler    SchedulerConfig
}

// LoadConfig загружает конфигурацию из переменных окружения.
// Отсутствие .env не ошибка: в контейнере переменные приходят из окружения.
func LoadConfig(envPath ...string) (*AppConfig, error) {
	var err error
	if len(envPath) > 0 {
		err = godotenv.Load(envPath[0])
	} else {
		err = godotenv.Load()
	}
	if err != nil {
		log.Printf("Info: Could not load .env file (path: %v): %v. Using process environment.\n", envPath, err)
	}

	cfg := &AppConfig{}
	cfg.AppName = getEnvAsString("APP_NAME", "listing-pipeline-service")

	cfg.Storage.Driver = strings.ToLower(getEnvAsString("STORAGE_DRIVER", StorageDriverPostgres))
	cfg.Storage.SeedOfficeID = os.Getenv("MEMORY_SEED_OFFICE_ID")
	cfg.Storage.SeedCrawlInterval = getEnvAsDuration("MEMORY_SEED_CRAWL_INTERVAL", 6*time.Hour)

	cfg.Database.URL = os.Getenv("DATABASE_URL")
	cfg.Database.MaxConns = getEnvAsInt("DATABASE_MAX_CONNS", 10)
	cfg.Database.MinConns = getEnvAsInt("DATABASE_MIN_CONNS", 1)
	cfg.Database.MaxConnLifetime = getEnvAsDuration("DATABASE_MAX_CONN_LIFETIME", time.Hour)
	cfg.Database.MigrateOnStart = getEnvAsBool("DATABASE_MIGRATE_ON_START", true)

	cfg.RabbitMQ.Enabled = getEnvAsBool("RABBITMQ_ENABLED", false)
	cfg.RabbitMQ.URL = os.Getenv("RABBITMQ_URL")

	cfg.FluentBit.Enabled = getEnvAsBool("FLUENTBIT_ENABLED", false)
	if cfg.FluentBit.Enabled {
		cfg.FluentBit.Host = os.Getenv("FLUENTBIT_HOST")
		if cfg.FluentBit.Host == "" {
			log.Println("WARNING: FLUENTBIT_ENABLED is true, but FLUENTBIT_HOST is not set. Disabling Fluent Bit.")
			cfg.FluentBit.Enabled = false
		}
		cfg.FluentBit.Port = getEnvAsInt("FLUENTBIT_PORT", 24224)
		cfg.FluentBit.Level = getEnvAsString("FLUENTBIT_LOG_LEVEL", "info")
	}
	cfg.StdoutLogger.Level = getEnvAsString("STDOUT_LOG_LEVEL", "debug")

	cfg.HTTP.Enabled = getEnvAsBool("HTTP_ENABLED", true)
	cfg.HTTP.Port = getEnvAsString("HTTP_PORT", "8090")
	cfg.HTTP.AllowedOrigins = getEnvAsStringSlice("HTTP_ALLOWED_ORIGINS", []string{"*"})

	cfg.Fetch.Timeout = getEnvAsDuration("FETCH_TIMEOUT", 20*time.Second)
	cfg.Fetch.MaxAttempts = getEnvAsInt("FETCH_MAX_ATTEMPTS", 3)
	cfg.Fetch.BaseDelay = getEnvAsDuration("FETCH_BASE_DELAY", 500*time.Millisecond)
	cfg.Fetch.MaxDelay = getEnvAsDuration("FETCH_MAX_DELAY", 8*time.Second)
	cfg.Fetch.UserAgent = getEnvAsString("FETCH_USER_AGENT", "")
	cfg.Fetch.RandomDelay = getEnvAsDuration("FETCH_RANDOM_DELAY", time.Second)
	cfg.Fetch.Parallelism = getEnvAsInt("FETCH_PARALLELISM", 2)

	cfg.Harvest.MaxPages = getEnvAsInt("HARVEST_MAX_PAGES", 3)
	cfg.Harvest.ItemBudget = getEnvAsInt("HARVEST_ITEM_BUDGET", 120)
	cfg.Harvest.PriceMin = getEnvAsFloat("HARVEST_PRICE_MIN", 100)
	cfg.Harvest.PriceMax = getEnvAsFloat("HARVEST_PRICE_MAX", 1e9)
	cfg.Harvest.OtodomBaseURL = getEnvAsString("OTODOM_BASE_URL", "https://www.otodom.pl")
	cfg.Harvest.OlxBaseURL = getEnvAsString("OLX_BASE_URL", "https://www.olx.pl")
	cfg.Harvest.GratkaBaseURL = getEnvAsString("GRATKA_BASE_URL", "https://gratka.pl")

	cfg.Pipeline.EnrichLimit = getEnvAsInt("PIPELINE_ENRICH_LIMIT", 25)
	cfg.Pipeline.EnrichRoundCap = getEnvAsInt("PIPELINE_ENRICH_ROUND_CAP", 4)
	cfg.Pipeline.VerifyLimit = getEnvAsInt("PIPELINE_VERIFY_LIMIT", 25)
	cfg.Pipeline.VerifyRoundCap = getEnvAsInt("PIPELINE_VERIFY_ROUND_CAP", 2)
	cfg.Pipeline.GeocodeEnabled = getEnvAsBool("PIPELINE_GEOCODE_ENABLED", true)
	cfg.Pipeline.GeocodeLimit = getEnvAsInt("PIPELINE_GEOCODE_LIMIT", 25)
	cfg.Pipeline.RcnEnabled = getEnvAsBool("PIPELINE_RCN_ENABLED", false)
	cfg.Pipeline.RcnLimit = getEnvAsInt("PIPELINE_RCN_LIMIT", 20)

	cfg.Enrich.RetryCooldown = getEnvAsDuration("ENRICH_RETRY_COOLDOWN", 6*time.Hour)
	cfg.Verify.Interval = getEnvAsDuration("VERIFY_INTERVAL", 24*time.Hour)

	cfg.Geocoder.URL = getEnvAsString("GEOCODER_URL", "https://nominatim.openstreetmap.org/search")
	cfg.Geocoder.Delay = getEnvAsDuration("GEOCODER_DELAY", 1100*time.Millisecond)
	cfg.Geocoder.Email = os.Getenv("GEOCODER_EMAIL")
	cfg.Geocoder.CountryCodes = getEnvAsString("GEOCODER_COUNTRY_CODES", "pl")

	cfg.Rcn.WFSURL = os.Getenv("RCN_WFS_URL")
	cfg.Rcn.WMSURL = os.Getenv("RCN_WMS_URL")
	cfg.Rcn.WFSLayers = getEnvAsStringSlice("RCN_WFS_LAYERS", []string{"ms:dzialki", "ms:budynki", "ms:lokale"})
	cfg.Rcn.WMSLayers = getEnvAsStringSlice("RCN_WMS_LAYERS", []string{"dzialki", "budynki", "lokale"})
	cfg.Rcn.RadiusM = getEnvAsFloat("RCN_RADIUS_M", 150)
	cfg.Rcn.Cooldown = getEnvAsDuration("RCN_COOLDOWN", 30*24*time.Hour)
	cfg.Rcn.Delay = getEnvAsDuration("RCN_DELAY", 500*time.Millisecond)
	cfg.Rcn.LinkTemplate = getEnvAsString("RCN_LINK_TEMPLATE",
		"https://mapy.geoportal.gov.pl/imap/Imgp_2.html?gpmap=gp0&bbox={minx},{miny},{maxx},{maxy}&variant=RCN")

	cfg.Scheduler.Enabled = getEnvAsBool("SCHEDULER_ENABLED", false)
	cfg.Scheduler.Spec = getEnvAsString("SCHEDULER_SPEC", "*/30 * * * *")
	cfg.Scheduler.Concurrency = getEnvAsInt("SCHEDULER_CONCURRENCY", 2)

	return cfg, nil
}

// Validate проверяет конфигурацию, без которой запуск бессмыслен.
// Ошибки здесь прерывают старт до начала любой работы.
func (c *AppConfig) Validate() error {
	switch c.Storage.Driver {
	case StorageDriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL environment variable is required for storage driver %q", c.Storage.Driver)
		}
	case StorageDriverMemory:
		if c.Storage.SeedOfficeID != "" {
			if _, err := uuid.Parse(c.Storage.SeedOfficeID); err != nil {
				return fmt.Errorf("MEMORY_SEED_OFFICE_ID must be a UUID: %w", err)
			}
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver)
	}

	if c.RabbitMQ.Enabled && c.RabbitMQ.URL == "" {
		return fmt.Errorf("RABBITMQ_URL environment variable is required when RABBITMQ_ENABLED is true")
	}
	if c.Pipeline.GeocodeEnabled && c.Geocoder.URL == "" {
		return fmt.Errorf("GEOCODER_URL is required when geocoding is enabled")
	}
	if c.Pipeline.RcnEnabled {
		if c.Rcn.WFSURL == "" || c.Rcn.WMSURL == "" {
			return fmt.Errorf("RCN_WFS_URL and RCN_WMS_URL are required when RCN is enabled")
		}
		if c.Rcn.RadiusM <= 0 {
			return fmt.Errorf("RCN_RADIUS_M must be positive, got %v", c.Rcn.RadiusM)
		}
	}
	if c.Harvest.PriceMin >= c.Harvest.PriceMax {
		return fmt.Errorf("HARVEST_PRICE_MIN (%v) must be below HARVEST_PRICE_MAX (%v)", c.Harvest.PriceMin, c.Harvest.PriceMax)
	}
	if c.Scheduler.Enabled {
		if _, err := cron.ParseStandard(c.Scheduler.Spec); err != nil {
			return fmt.Errorf("invalid SCHEDULER_SPEC %q: %w", c.Scheduler.Spec, err)
		}
	}
	return nil
}

// getEnvAsString читает переменную окружения как строку или возвращает значение по умолчанию
func getEnvAsString(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt читает переменную окружения как int или возвращает значение по умолчанию
// Логирует ошибку, если переменная есть, но не может быть преобразована в int
func getEnvAsInt(key string, defaultValue int) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	valueInt, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Environment variable %s (value: %s) could not be parsed as int: %v. Using default value: %d\n", key, valueStr, err, defaultValue)
		return defaultValue
	}
	return valueInt
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Warning: Environment variable %s (value: %s) could not be parsed as float: %v. Using default value: %v\n", key, valueStr, err, defaultValue)
		return defaultValue
	}
	return value
}

// getEnvAsBool читает переменную окружения как bool или возвращает значение по умолчанию
func getEnvAsBool(key string, defaultValue bool) bool {
	valStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	valBool, err := strconv.ParseBool(valStr)
	if err != nil {
		log.Printf("Warning: Environment variable %s (value: %s) could not be parsed as bool: %v. Using default value: %t\n", key, valStr, err, defaultValue)
		return defaultValue
	}
	return valBool
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value, err := time.ParseDuration(valStr)
	if err != nil {
		log.Printf("Warning: Environment variable %s (value: %s) could not be parsed as duration: %v. Using default value: %s\n", key, valStr, err, defaultValue)
		return defaultValue
	}
	return value
}

// getEnvAsStringSlice читает список через запятую, пустые элементы пропускаются
func getEnvAsStringSlice(key string, defaultValue []string) []string {
	valStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
