package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Драйверы удалённого хранилища.
const (
	RemoteDriverMemory   = "memory"
	RemoteDriverPostgres = "postgres"
)

// Переменные окружения, переопределяющие конфигурацию.
const (
	EnvConfigFile          = "POS_CONFIG_FILE"
	EnvDeviceID            = "POS_DEVICE_ID"
	EnvLocalDB             = "POS_LOCAL_DB"
	EnvRemoteDriver        = "POS_REMOTE_DRIVER"
	EnvPostgresDSN         = "POS_POSTGRES_DSN"
	EnvPostgresAutoMigrate = "POS_POSTGRES_AUTO_MIGRATE"
	EnvHTTPAddr            = "POS_HTTP_ADDR"
	EnvGRPCAddr            = "POS_GRPC_ADDR"
	EnvMetricsAddr         = "POS_METRICS_ADDR"
	EnvKafkaBrokers        = "POS_KAFKA_BROKERS"
	EnvKafkaTopic          = "POS_KAFKA_TOPIC"
	EnvKafkaGroupID        = "POS_KAFKA_GROUP_ID"
	EnvBillPrefix          = "POS_BILL_PREFIX"
	EnvTimezone            = "POS_TIMEZONE"
	EnvProbeInterval       = "POS_PROBE_INTERVAL"
	EnvProbeTimeout        = "POS_PROBE_TIMEOUT"
	EnvBacklogMaxAge       = "POS_BACKLOG_MAX_AGE"
	EnvLogLevel            = "POS_LOG_LEVEL"
)

// Config описывает настройки кассового узла.
type Config struct {
	DeviceID            string        `yaml:"device_id"`
	LocalDBPath         string        `yaml:"local_db_path"`
	RemoteDriver        string        `yaml:"remote_driver"`
	PostgresDSN         string        `yaml:"postgres_dsn"`
	PostgresAutoMigrate bool          `yaml:"postgres_auto_migrate"`
	HTTPAddr            string        `yaml:"http_addr"`
	GRPCAddr            string        `yaml:"grpc_addr"`
	MetricsAddr         string        `yaml:"metrics_addr"`
	KafkaBrokers        []string      `yaml:"kafka_brokers"`
	KafkaTopic          string        `yaml:"kafka_topic"`
	KafkaGroupID        string        `yaml:"kafka_group_id"`
	BillPrefix          string        `yaml:"bill_prefix"`
	Timezone            string        `yaml:"timezone"`
	ProbeInterval       time.Duration `yaml:"probe_interval"`
	ProbeTimeout        time.Duration `yaml:"probe_timeout"`
	BacklogMaxAge       time.Duration `yaml:"backlog_max_age"`
	LogLevel            string        `yaml:"log_level"`
}

// DefaultConfig возвращает конфигурацию одиночной кассы без внешних сервисов.
func DefaultConfig() Config {
	return Config{
		DeviceID:            "pos-1",
		LocalDBPath:         "posync.db",
		RemoteDriver:        RemoteDriverMemory,
		PostgresAutoMigrate: true,
		HTTPAddr:            ":8080",
		GRPCAddr:            ":50051",
		MetricsAddr:         ":9090",
		KafkaTopic:          "pos.changes",
		BillPrefix:          "PH",
		Timezone:            "Local",
		ProbeInterval:       5 * time.Second,
		ProbeTimeout:        2 * time.Second,
		BacklogMaxAge:       15 * time.Minute,
		LogLevel:            "info",
	}
}

// LoadConfig читает YAML поверх значений по умолчанию. Неизвестные ключи — ошибка.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv переопределяет поля из окружения. Некорректные значения пропускаются
// с предупреждением, поле сохраняет прежнее значение.
func ApplyEnv(cfg Config, lookup func(string) (string, bool)) (Config, []string) {
	var warnings []string
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil || d <= 0 {
			warnings = append(warnings, fmt.Sprintf("%s: invalid duration %q, keeping %s", key, v, *dst))
			return
		}
		*dst = d
	}

	str(EnvDeviceID, &cfg.DeviceID)
	str(EnvLocalDB, &cfg.LocalDBPath)
	str(EnvRemoteDriver, &cfg.RemoteDriver)
	cfg.RemoteDriver = strings.ToLower(cfg.RemoteDriver)
	str(EnvPostgresDSN, &cfg.PostgresDSN)
	if v, ok := lookup(EnvPostgresAutoMigrate); ok && strings.TrimSpace(v) != "" {
		if b, ok := parseBool(v); ok {
			cfg.PostgresAutoMigrate = b
		} else {
			warnings = append(warnings, fmt.Sprintf("%s: invalid bool %q, keeping %t", EnvPostgresAutoMigrate, v, cfg.PostgresAutoMigrate))
		}
	}
	str(EnvHTTPAddr, &cfg.HTTPAddr)
	str(EnvGRPCAddr, &cfg.GRPCAddr)
	str(EnvMetricsAddr, &cfg.MetricsAddr)
	if v, ok := lookup(EnvKafkaBrokers); ok && strings.TrimSpace(v) != "" {
		cfg.KafkaBrokers = splitList(v)
	}
	str(EnvKafkaTopic, &cfg.KafkaTopic)
	str(EnvKafkaGroupID, &cfg.KafkaGroupID)
	str(EnvBillPrefix, &cfg.BillPrefix)
	str(EnvTimezone, &cfg.Timezone)
	dur(EnvProbeInterval, &cfg.ProbeInterval)
	dur(EnvProbeTimeout, &cfg.ProbeTimeout)
	dur(EnvBacklogMaxAge, &cfg.BacklogMaxAge)
	str(EnvLogLevel, &cfg.LogLevel)

	return cfg, warnings
}

// Validate проверяет согласованность конфигурации перед запуском.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DeviceID) == "" {
		errs = append(errs, errors.New("device_id is required"))
	}
	if strings.TrimSpace(c.LocalDBPath) == "" {
		errs = append(errs, errors.New("local_db_path is required"))
	}
	switch c.RemoteDriver {
	case RemoteDriverMemory:
	case RemoteDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, fmt.Errorf("postgres_dsn is required for remote_driver=%s", RemoteDriverPostgres))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported remote_driver %q", c.RemoteDriver))
	}
	if len(c.KafkaBrokers) > 0 && strings.TrimSpace(c.KafkaTopic) == "" {
		errs = append(errs, errors.New("kafka_topic is required when kafka_brokers are set"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.ProbeInterval <= 0 || c.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("probe_interval and probe_timeout must be positive"))
	}
	return errors.Join(errs...)
}

// Location возвращает часовой пояс, в котором считается день номера заказа.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ConsumerGroup возвращает группу Kafka. Каждая касса читает ленту целиком,
// поэтому по умолчанию группа своя у каждого устройства.
func (c Config) ConsumerGroup() string {
	if c.KafkaGroupID != "" {
		return c.KafkaGroupID
	}
	return "posync-" + c.DeviceID
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "yes":
		return true, true
	case "off", "no":
		return false, true
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return b, err == nil
}
