// Пакет config — загрузка и валидация конфигурации репозитория
// из переменных окружения (префикс SR_).
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые значения перечислимых параметров.
const (
	StorageFilesystem = "filesystem"
	StorageMemory     = "memory"
	StorageS3         = "s3"

	FetcherRecid = "recid"
	FetcherDOI   = "doi"
)

// Config содержит все параметры конфигурации сервиса.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Публичный базовый URL сервиса (landing page записей)
	PublicURL string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- JWT ---

	// Включена ли проверка JWT (false — только для локальной разработки)
	AuthEnabled bool
	// URL Keycloak, из которого вычисляются issuer и JWKS
	KeycloakURL string
	// Имя realm в Keycloak
	KeycloakRealm string
	// Issuer JWT
	JWTIssuer string
	// URL JWKS endpoint
	JWTJWKSURL string
	// CA-сертификат для TLS-соединения с JWKS (пусто — системный пул)
	JWKSCACertPath string
	// Claim с ORCID пользователя
	JWTORCIDClaim string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// --- DOI ---

	// Основной DOI-префикс (например, 10.5281)
	DOIPrefix string
	// Суффикс DOI перед номером записи (например, zenodo)
	DOISuffix string
	// Дополнительные локальные префиксы (legacy)
	DOILocalPrefixes []string
	// Таблица переназначения recid → номер в DOI (исторические перенумерации)
	DOIRecidRemap map[int64]int64
	// Префикс OAI-идентификаторов: oai:<prefix>:<recid>
	OAIIDPrefix string

	// --- Депозиты ---

	// Имя стратегии депозита (реестр deposit.Register)
	DepositStrategy string
	// Имя fetcher'а PID опубликованного релиза: recid или doi
	PIDFetcher string

	// --- ScienceData ---

	// Внутренний URL ScienceData (запросы от имени пользователя)
	ScienceDataURL string
	// Публичный URL ScienceData (ссылки isSupplementTo)
	ScienceDataPublicURL string
	// Путь к CA-сертификату ScienceData (опционально)
	ScienceDataCACertPath string
	// Отключить проверку TLS-сертификата ScienceData
	ScienceDataInsecure bool
	// Таймаут одного HTTP-запроса к ScienceData
	ScienceDataTimeout time.Duration
	// Максимальное число повторов идемпотентных запросов
	ScienceDataMaxRetries int
	// Ограничение частоты запросов (запросов в секунду, 0 — без ограничения)
	ScienceDataRateLimit float64
	// Размер пачки для rate limiter
	ScienceDataRateBurst int
	// Накладывать ли метаданные из ScienceData поверх значений по умолчанию
	UseScienceDataMetadata bool

	// --- DataCite ---

	DataCiteEnabled  bool
	DataCiteURL      string
	DataCiteUser     string
	DataCitePassword string
	// Издатель в метаданных DataCite
	DataCitePublisher string
	// Таймаут фоновой регистрации DOI
	DataCiteTimeout time.Duration

	// --- Хранилище файлов ---

	StorageBackend string
	StorageDataDir string
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// --- Кэш пользователей ScienceData ---

	UserCacheSize int
	UserCacheTTL  time.Duration

	// --- Мониторинг ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
	TracingEnabled         bool
	TracingExporter        string
	TracingOTLPEndpoint    string
	TracingSampleRate      float64

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("SR_PORT", 8000)
	if err != nil {
		return nil, fmt.Errorf("SR_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("SR_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("SR_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("SR_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("SR_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("SR_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.PublicURL = strings.TrimRight(getEnvDefault("SR_PUBLIC_URL", "http://localhost:8000"), "/")

	// --- PostgreSQL ---

	if err := loadDatabase(cfg); err != nil {
		return nil, err
	}

	// --- JWT ---

	if err := loadAuth(cfg); err != nil {
		return nil, err
	}

	// --- DOI ---

	if err := loadDOI(cfg); err != nil {
		return nil, err
	}

	// --- Депозиты ---

	cfg.DepositStrategy = getEnvDefault("SR_DEPOSIT_STRATEGY", "zenodo")

	cfg.PIDFetcher = getEnvDefault("SR_PID_FETCHER", FetcherRecid)
	if cfg.PIDFetcher != FetcherRecid && cfg.PIDFetcher != FetcherDOI {
		return nil, fmt.Errorf("SR_PID_FETCHER: недопустимое значение %q, допустимые: recid, doi", cfg.PIDFetcher)
	}

	// --- ScienceData ---

	if err := loadScienceData(cfg); err != nil {
		return nil, err
	}

	// --- DataCite ---

	if err := loadDataCite(cfg); err != nil {
		return nil, err
	}

	// --- Хранилище ---

	if err := loadStorage(cfg); err != nil {
		return nil, err
	}

	// --- Кэш ---

	cfg.UserCacheSize, err = getEnvInt("SR_USER_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("SR_USER_CACHE_SIZE: %w", err)
	}
	if cfg.UserCacheSize < 1 {
		return nil, fmt.Errorf("SR_USER_CACHE_SIZE: значение %d должно быть положительным", cfg.UserCacheSize)
	}
	cfg.UserCacheTTL, err = getEnvDuration("SR_USER_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SR_USER_CACHE_TTL: %w", err)
	}

	// --- Мониторинг ---

	cfg.DephealthGroup = getEnvDefault("SR_DEPHEALTH_GROUP", "sciencerepo")
	cfg.DephealthCheckInterval, err = getEnvDuration("SR_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SR_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	cfg.TracingEnabled, err = getEnvBool("SR_TRACING_ENABLED", false)
	if err != nil {
		return nil, fmt.Errorf("SR_TRACING_ENABLED: %w", err)
	}
	cfg.TracingExporter = getEnvDefault("SR_TRACING_EXPORTER", "stdout")
	cfg.TracingOTLPEndpoint = getEnvDefault("SR_TRACING_OTLP_ENDPOINT", "localhost:4317")
	cfg.TracingSampleRate, err = getEnvFloat("SR_TRACING_SAMPLE_RATE", 1.0)
	if err != nil {
		return nil, fmt.Errorf("SR_TRACING_SAMPLE_RATE: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("SR_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SR_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// LoadDOI загружает только параметры DOI. Используется командами CLI,
// которым не нужна база данных.
func LoadDOI() (*Config, error) {
	cfg := &Config{}
	if err := loadDOI(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDatabase(cfg *Config) error {
	var err error

	cfg.DBHost, err = getEnvRequired("SR_DB_HOST")
	if err != nil {
		return err
	}
	cfg.DBPort, err = getEnvInt("SR_DB_PORT", 5432)
	if err != nil {
		return fmt.Errorf("SR_DB_PORT: %w", err)
	}
	cfg.DBName, err = getEnvRequired("SR_DB_NAME")
	if err != nil {
		return err
	}
	cfg.DBUser, err = getEnvRequired("SR_DB_USER")
	if err != nil {
		return err
	}
	cfg.DBPassword, err = getEnvRequired("SR_DB_PASSWORD")
	if err != nil {
		return err
	}

	cfg.DBSSLMode = getEnvDefault("SR_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return fmt.Errorf("SR_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}
	return nil
}

func loadAuth(cfg *Config) error {
	var err error

	cfg.AuthEnabled, err = getEnvBool("SR_AUTH_ENABLED", true)
	if err != nil {
		return fmt.Errorf("SR_AUTH_ENABLED: %w", err)
	}

	cfg.KeycloakURL = strings.TrimRight(getEnvDefault("SR_KEYCLOAK_URL", ""), "/")
	cfg.KeycloakRealm = getEnvDefault("SR_KEYCLOAK_REALM", "sciencerepo")

	// Issuer и JWKS вычисляются из Keycloak URL, если не заданы явно
	defaultIssuer, defaultJWKS := "", ""
	if cfg.KeycloakURL != "" {
		defaultIssuer = fmt.Sprintf("%s/realms/%s", cfg.KeycloakURL, cfg.KeycloakRealm)
		defaultJWKS = fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", cfg.KeycloakURL, cfg.KeycloakRealm)
	}
	cfg.JWTIssuer = getEnvDefault("SR_JWT_ISSUER", defaultIssuer)
	cfg.JWTJWKSURL = getEnvDefault("SR_JWT_JWKS_URL", defaultJWKS)
	if cfg.AuthEnabled && cfg.JWTJWKSURL == "" {
		return fmt.Errorf("SR_JWT_JWKS_URL: обязателен при SR_AUTH_ENABLED=true (или задайте SR_KEYCLOAK_URL)")
	}

	cfg.JWKSCACertPath = getEnvDefault("SR_JWKS_CA_CERT_PATH", "")
	cfg.JWTORCIDClaim = getEnvDefault("SR_JWT_ORCID_CLAIM", "orcid")

	cfg.JWKSClientTimeout, err = getEnvDuration("SR_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return fmt.Errorf("SR_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("SR_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return fmt.Errorf("SR_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("SR_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return fmt.Errorf("SR_JWT_LEEWAY: %w", err)
	}
	return nil
}

func loadDOI(cfg *Config) error {
	cfg.DOIPrefix = getEnvDefault("SR_DOI_PREFIX", "10.5072")
	if !strings.HasPrefix(cfg.DOIPrefix, "10.") {
		return fmt.Errorf("SR_DOI_PREFIX: префикс %q должен начинаться с 10.", cfg.DOIPrefix)
	}
	cfg.DOISuffix = getEnvDefault("SR_DOI_SUFFIX", "sciencerepo")
	cfg.DOILocalPrefixes = parseCSV(getEnvDefault("SR_DOI_LOCAL_PREFIXES", ""))

	cfg.DOIRecidRemap = make(map[int64]int64)
	if path := getEnvDefault("SR_DOI_RECID_REMAP_FILE", ""); path != "" {
		if err := loadRemapFile(path, cfg.DOIRecidRemap); err != nil {
			return fmt.Errorf("SR_DOI_RECID_REMAP_FILE: %w", err)
		}
	}
	// Значения из переменной окружения перекрывают файл
	if err := parseRemap(getEnvDefault("SR_DOI_RECID_REMAP", ""), cfg.DOIRecidRemap); err != nil {
		return fmt.Errorf("SR_DOI_RECID_REMAP: %w", err)
	}

	cfg.OAIIDPrefix = getEnvDefault("SR_OAI_ID_PREFIX", "sciencerepo.org")
	return nil
}

func loadScienceData(cfg *Config) error {
	var err error

	cfg.ScienceDataURL = strings.TrimRight(getEnvDefault("SR_SCIENCEDATA_URL", "https://10.2.0.13"), "/")
	if _, perr := url.ParseRequestURI(cfg.ScienceDataURL); perr != nil {
		return fmt.Errorf("SR_SCIENCEDATA_URL: некорректный URL %q", cfg.ScienceDataURL)
	}
	cfg.ScienceDataPublicURL = strings.TrimRight(getEnvDefault("SR_SCIENCEDATA_PUBLIC_URL", "https://sciencedata.dk"), "/")
	cfg.ScienceDataCACertPath = getEnvDefault("SR_SCIENCEDATA_CA_CERT_PATH", "")

	cfg.ScienceDataInsecure, err = getEnvBool("SR_SCIENCEDATA_INSECURE", false)
	if err != nil {
		return fmt.Errorf("SR_SCIENCEDATA_INSECURE: %w", err)
	}
	cfg.ScienceDataTimeout, err = getEnvDuration("SR_SCIENCEDATA_TIMEOUT", 60*time.Second)
	if err != nil {
		return fmt.Errorf("SR_SCIENCEDATA_TIMEOUT: %w", err)
	}
	cfg.ScienceDataMaxRetries, err = getEnvInt("SR_SCIENCEDATA_MAX_RETRIES", 3)
	if err != nil {
		return fmt.Errorf("SR_SCIENCEDATA_MAX_RETRIES: %w", err)
	}
	if cfg.ScienceDataMaxRetries < 0 || cfg.ScienceDataMaxRetries > 10 {
		return fmt.Errorf("SR_SCIENCEDATA_MAX_RETRIES: значение %d вне допустимого диапазона 0-10", cfg.ScienceDataMaxRetries)
	}
	cfg.ScienceDataRateLimit, err = getEnvFloat("SR_SCIENCEDATA_RATE_LIMIT", 10)
	if err != nil {
		return fmt.Errorf("SR_SCIENCEDATA_RATE_LIMIT: %w", err)
	}
	cfg.ScienceDataRateBurst, err = getEnvInt("SR_SCIENCEDATA_RATE_BURST", 5)
	if err != nil {
		return fmt.Errorf("SR_SCIENCEDATA_RATE_BURST: %w", err)
	}
	cfg.UseScienceDataMetadata, err = getEnvBool("SR_SCIENCEDATA_USE_METADATA", true)
	if err != nil {
		return fmt.Errorf("SR_SCIENCEDATA_USE_METADATA: %w", err)
	}
	return nil
}

func loadDataCite(cfg *Config) error {
	var err error

	cfg.DataCiteEnabled, err = getEnvBool("SR_DATACITE_ENABLED", false)
	if err != nil {
		return fmt.Errorf("SR_DATACITE_ENABLED: %w", err)
	}
	cfg.DataCiteURL = strings.TrimRight(getEnvDefault("SR_DATACITE_URL", "https://mds.test.datacite.org"), "/")
	cfg.DataCiteUser = getEnvDefault("SR_DATACITE_USER", "")
	cfg.DataCitePassword = getEnvDefault("SR_DATACITE_PASSWORD", "")
	if cfg.DataCiteEnabled && (cfg.DataCiteUser == "" || cfg.DataCitePassword == "") {
		return fmt.Errorf("SR_DATACITE_USER и SR_DATACITE_PASSWORD обязательны при SR_DATACITE_ENABLED=true")
	}
	cfg.DataCitePublisher = getEnvDefault("SR_DATACITE_PUBLISHER", "ScienceRepo")
	cfg.DataCiteTimeout, err = getEnvDuration("SR_DATACITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return fmt.Errorf("SR_DATACITE_TIMEOUT: %w", err)
	}
	return nil
}

func loadStorage(cfg *Config) error {
	var err error

	cfg.StorageBackend = getEnvDefault("SR_STORAGE_BACKEND", StorageFilesystem)
	switch cfg.StorageBackend {
	case StorageFilesystem, StorageMemory:
	case StorageS3:
		cfg.S3Bucket, err = getEnvRequired("SR_S3_BUCKET")
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("SR_STORAGE_BACKEND: недопустимое значение %q, допустимые: filesystem, memory, s3", cfg.StorageBackend)
	}
	cfg.StorageDataDir = getEnvDefault("SR_STORAGE_DATA_DIR", "./data/files")
	cfg.S3Region = getEnvDefault("SR_S3_REGION", "us-east-1")
	cfg.S3Endpoint = getEnvDefault("SR_S3_ENDPOINT", "")
	cfg.S3AccessKey = getEnvDefault("SR_S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnvDefault("SR_S3_SECRET_KEY", "")
	cfg.S3UsePathStyle, err = getEnvBool("SR_S3_USE_PATH_STYLE", false)
	if err != nil {
		return fmt.Errorf("SR_S3_USE_PATH_STYLE: %w", err)
	}
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов метрик).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	return fmt.Sprintf(
		"pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.DBUser), url.QueryEscape(c.DBPassword), c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное число: %q", val)
	}
	return f, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// parseRemap разбирает список вида "7468:7448,7469:7449" в таблицу.
func parseRemap(s string, dst map[int64]int64) error {
	for _, pair := range parseCSV(s) {
		from, to, ok := strings.Cut(pair, ":")
		if !ok {
			return fmt.Errorf("некорректная пара %q, ожидается формат from:to", pair)
		}
		f, err := strconv.ParseInt(strings.TrimSpace(from), 10, 64)
		if err != nil {
			return fmt.Errorf("некорректный recid %q", from)
		}
		t, err := strconv.ParseInt(strings.TrimSpace(to), 10, 64)
		if err != nil {
			return fmt.Errorf("некорректный recid %q", to)
		}
		dst[f] = t
	}
	return nil
}

// remapFile — формат YAML-файла таблицы переназначения.
type remapFile struct {
	RecidRemap map[int64]int64 `yaml:"recid_remap"`
}

// loadRemapFile читает YAML-файл вида:
//
//	recid_remap:
//	  7468: 7448
func loadRemapFile(path string, dst map[int64]int64) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("чтение файла: %w", err)
	}
	var f remapFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("разбор YAML: %w", err)
	}
	for k, v := range f.RecidRemap {
		dst[k] = v
	}
	return nil
}
