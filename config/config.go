/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5005"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"STATE_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"STATE_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"STATE_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"STATE_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"STATE_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"STATE_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns             string        `json:"dns" envconfig:"STATE_DATA_SOURCE_DNS"`
	MaxOpenConns    int           `json:"max_open_conns" envconfig:"STATE_DATA_SOURCE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns" envconfig:"STATE_DATA_SOURCE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" envconfig:"STATE_DATA_SOURCE_CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" envconfig:"STATE_DATA_SOURCE_CONN_MAX_IDLE_TIME"`
	ConnectTimeout  time.Duration `json:"connect_timeout" envconfig:"STATE_DATA_SOURCE_CONNECT_TIMEOUT"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"STATE_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"STATE_REDIS_SKIP_TLS_VERIFY"`
}

type BrokerConfig struct {
	Url                    string `json:"url" envconfig:"STATE_BROKER_URL"`
	InboundQueue           string `json:"inbound_queue" envconfig:"STATE_BROKER_INBOUND_QUEUE"`
	OutboundQueue          string `json:"outbound_queue" envconfig:"STATE_BROKER_OUTBOUND_QUEUE"`
	StatusQueue            string `json:"status_queue" envconfig:"STATE_BROKER_STATUS_QUEUE"`
	InboundProcessedQueue  string `json:"inbound_processed_queue" envconfig:"STATE_BROKER_INBOUND_PROCESSED_QUEUE"`
	OutboundProcessedQueue string `json:"outbound_processed_queue" envconfig:"STATE_BROKER_OUTBOUND_PROCESSED_QUEUE"`
	DeadLetterQueue        string `json:"dead_letter_queue" envconfig:"STATE_BROKER_DEAD_LETTER_QUEUE"`
	Prefetch               int    `json:"prefetch" envconfig:"STATE_BROKER_PREFETCH"`
	MaxRetries             int    `json:"max_retries" envconfig:"STATE_BROKER_MAX_RETRIES"`
	ReconnectBaseDelayMs   int    `json:"reconnect_base_delay_ms" envconfig:"STATE_BROKER_RECONNECT_BASE_DELAY_MS"`
	MaxReconnectAttempts   int    `json:"max_reconnect_attempts" envconfig:"STATE_BROKER_MAX_RECONNECT_ATTEMPTS"`
}

type LockConfig struct {
	TTLSeconds  int `json:"ttl_seconds" envconfig:"STATE_LOCK_TTL_SECONDS"`
	MaxAttempts int `json:"max_attempts" envconfig:"STATE_LOCK_MAX_ATTEMPTS"`
	BaseDelayMs int `json:"base_delay_ms" envconfig:"STATE_LOCK_BASE_DELAY_MS"`
}

type CacheConfig struct {
	MappingTTLSeconds      int `json:"mapping_ttl_seconds" envconfig:"STATE_CACHE_MAPPING_TTL_SECONDS"`
	ConversationTTLSeconds int `json:"conversation_ttl_seconds" envconfig:"STATE_CACHE_CONVERSATION_TTL_SECONDS"`
}

type ValidationConfig struct {
	AllowedMediaHosts []string `json:"allowed_media_hosts" envconfig:"STATE_VALIDATION_ALLOWED_MEDIA_HOSTS"`
}

type TenantConfig struct {
	CredentialServiceUrl string        `json:"credential_service_url" envconfig:"STATE_TENANT_CREDENTIAL_SERVICE_URL"`
	CredentialServiceKey string        `json:"credential_service_key" envconfig:"STATE_TENANT_CREDENTIAL_SERVICE_KEY"`
	PoolMaxSize          int           `json:"pool_max_size" envconfig:"STATE_TENANT_POOL_MAX_SIZE"`
	IdleTimeout          time.Duration `json:"idle_timeout" envconfig:"STATE_TENANT_IDLE_TIMEOUT"`
	ConnectTimeout       time.Duration `json:"connect_timeout" envconfig:"STATE_TENANT_CONNECT_TIMEOUT"`
	SSLMode              string        `json:"ssl_mode" envconfig:"STATE_TENANT_SSL_MODE"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"STATE_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"STATE_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"STATE_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"STATE_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName  string           `json:"project_name" envconfig:"STATE_PROJECT_NAME"`
	Server       ServerConfig     `json:"server"`
	DataSource   DataSourceConfig `json:"data_source"`
	Redis        RedisConfig      `json:"redis"`
	Broker       BrokerConfig     `json:"broker"`
	Lock         LockConfig       `json:"lock"`
	Cache        CacheConfig      `json:"cache"`
	Validation   ValidationConfig `json:"validation"`
	Tenant       TenantConfig     `json:"tenant"`
	Notification Notification     `json:"notification"`
	RateLimit    RateLimitConfig  `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("state", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return nil
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded. Create a json file called statemanager.json or set STATE_* environment variables")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		cnf.ProjectName = "State Manager"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Broker.Url = strings.TrimSpace(cnf.Broker.Url)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.setDataSourceDefaults()
	cnf.setBrokerDefaults()
	cnf.setLockDefaults()
	cnf.setTenantDefaults()

	if cnf.Cache.MappingTTLSeconds <= 0 {
		cnf.Cache.MappingTTLSeconds = 3600
	}
	if cnf.Cache.ConversationTTLSeconds <= 0 {
		cnf.Cache.ConversationTTLSeconds = 60
	}

	if len(cnf.Validation.AllowedMediaHosts) == 0 {
		cnf.Validation.AllowedMediaHosts = []string{"whatsapp.net", "fbcdn.net", "fbsbx.com", "mypurecloud.com", "pure.cloud"}
	}

	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (cnf *Configuration) setDataSourceDefaults() {
	if cnf.DataSource.MaxOpenConns <= 0 {
		cnf.DataSource.MaxOpenConns = 25
	}
	if cnf.DataSource.MaxIdleConns <= 0 {
		cnf.DataSource.MaxIdleConns = 10
	}
	if cnf.DataSource.ConnMaxLifetime <= 0 {
		cnf.DataSource.ConnMaxLifetime = 30 * time.Minute
	}
	if cnf.DataSource.ConnMaxIdleTime <= 0 {
		cnf.DataSource.ConnMaxIdleTime = 5 * time.Minute
	}
	if cnf.DataSource.ConnectTimeout <= 0 {
		cnf.DataSource.ConnectTimeout = 5 * time.Second
	}
}

func (cnf *Configuration) setBrokerDefaults() {
	b := &cnf.Broker
	if b.InboundQueue == "" {
		b.InboundQueue = "inbound_messages"
	}
	if b.OutboundQueue == "" {
		b.OutboundQueue = "outbound_messages"
	}
	if b.StatusQueue == "" {
		b.StatusQueue = "status_updates"
	}
	if b.InboundProcessedQueue == "" {
		b.InboundProcessedQueue = "inbound_processed"
	}
	if b.OutboundProcessedQueue == "" {
		b.OutboundProcessedQueue = "outbound_processed"
	}
	if b.DeadLetterQueue == "" {
		b.DeadLetterQueue = "dead_letter"
	}
	if b.Prefetch <= 0 {
		b.Prefetch = 10
	}
	if b.MaxRetries <= 0 {
		b.MaxRetries = 3
	}
	if b.ReconnectBaseDelayMs <= 0 {
		b.ReconnectBaseDelayMs = 2000
	}
	if b.MaxReconnectAttempts <= 0 {
		b.MaxReconnectAttempts = 10
	}
}

func (cnf *Configuration) setLockDefaults() {
	if cnf.Lock.TTLSeconds <= 0 {
		cnf.Lock.TTLSeconds = 10
	}
	if cnf.Lock.MaxAttempts <= 0 {
		cnf.Lock.MaxAttempts = 5
	}
	if cnf.Lock.BaseDelayMs <= 0 {
		cnf.Lock.BaseDelayMs = 50
	}
}

func (cnf *Configuration) setTenantDefaults() {
	if cnf.Tenant.PoolMaxSize <= 0 {
		cnf.Tenant.PoolMaxSize = 10
	}
	if cnf.Tenant.IdleTimeout <= 0 {
		cnf.Tenant.IdleTimeout = 30 * time.Second
	}
	if cnf.Tenant.ConnectTimeout <= 0 {
		cnf.Tenant.ConnectTimeout = 2 * time.Second
	}
	if cnf.Tenant.SSLMode == "" {
		cnf.Tenant.SSLMode = "require"
	}
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
