// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	CollaboratorModeHTTP = "http"
	CollaboratorModeFake = "fake"
)

// Config 是服务的完整配置：先读 YAML，再由环境变量覆盖。
type Config struct {
	Service       ServiceConfig       `yaml:"service" envPrefix:"SERVICE_"`
	Log           LogConfig           `yaml:"log" envPrefix:"LOG_"`
	HTTP          HTTPConfig          `yaml:"http" envPrefix:"HTTP_"`
	MySQL         MySQLConfig         `yaml:"mysql" envPrefix:"MYSQL_"`
	Redis         RedisConfig         `yaml:"redis" envPrefix:"REDIS_"`
	Kafka         KafkaConfig         `yaml:"kafka" envPrefix:"KAFKA_"`
	Jaeger        JaegerConfig        `yaml:"jaeger" envPrefix:"JAEGER_"`
	Nacos         NacosConfig         `yaml:"nacos" envPrefix:"NACOS_"`
	Zookeeper     ZookeeperConfig     `yaml:"zookeeper" envPrefix:"ZOOKEEPER_"`
	Collaborators CollaboratorsConfig `yaml:"collaborators" envPrefix:"COLLABORATORS_"`
	Saga          SagaConfig          `yaml:"saga" envPrefix:"SAGA_"`
}

type ServiceConfig struct {
	Name string `yaml:"name" env:"NAME"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

type HTTPConfig struct {
	Port            int           `yaml:"port" env:"PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// MySQLConfig 中 DSN 为空时使用内存仓储。
type MySQLConfig struct {
	DSN          string `yaml:"dsn" env:"DSN"`
	MaxOpenConns int    `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns int    `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

type KafkaConfig struct {
	Brokers          string `yaml:"brokers" env:"BROKERS"`
	BuildResultTopic string `yaml:"build_result_topic" env:"BUILD_RESULT_TOPIC"`
	StatusEventTopic string `yaml:"status_event_topic" env:"STATUS_EVENT_TOPIC"`
	DeadLetterTopic  string `yaml:"dead_letter_topic" env:"DEAD_LETTER_TOPIC"`
	GroupID          string `yaml:"group_id" env:"GROUP_ID"`
}

type JaegerConfig struct {
	Endpoint    string  `yaml:"endpoint" env:"ENDPOINT"`
	SampleRatio float64 `yaml:"sample_ratio" env:"SAMPLE_RATIO"`
}

type NacosConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Addrs     string `yaml:"addrs" env:"ADDRS"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	Group     string `yaml:"group" env:"GROUP"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers" env:"SERVERS"`
	SessionTimeout time.Duration `yaml:"session_timeout" env:"SESSION_TIMEOUT"`
	LockTimeout    time.Duration `yaml:"lock_timeout" env:"LOCK_TIMEOUT"`
}

// CollaboratorsConfig 描述外部协作服务。Mode=fake 时使用进程内实现。
type CollaboratorsConfig struct {
	Mode      string            `yaml:"mode" env:"MODE"`
	Timeout   time.Duration     `yaml:"timeout" env:"TIMEOUT"`
	Endpoints map[string]string `yaml:"endpoints" env:"ENDPOINTS"`
}

type SagaConfig struct {
	CampaignConcurrency int           `yaml:"campaign_concurrency" env:"CAMPAIGN_CONCURRENCY"`
	DBRetryAttempts     int           `yaml:"db_retry_attempts" env:"DB_RETRY_ATTEMPTS"`
	DBRetryBackoff      time.Duration `yaml:"db_retry_backoff" env:"DB_RETRY_BACKOFF"`
	CacheClearAttempts  int           `yaml:"cache_clear_attempts" env:"CACHE_CLEAR_ATTEMPTS"`
	IgnoreCacheErrors   bool          `yaml:"ignore_cache_errors" env:"IGNORE_CACHE_ERRORS"`
	PropagationTimeout  time.Duration `yaml:"propagation_timeout" env:"PROPAGATION_TIMEOUT"`
}

// DefaultConfig 返回本地开发可直接运行的默认值。
func DefaultConfig() Config {
	return Config{
		Service: ServiceConfig{Name: "offer-service"},
		Log:     LogConfig{Level: "info", Format: "json"},
		HTTP:    HTTPConfig{Port: 8080, ShutdownTimeout: 10 * time.Second},
		MySQL:   MySQLConfig{MaxOpenConns: 20, MaxIdleConns: 5},
		Kafka: KafkaConfig{
			BuildResultTopic: "offer-build-results",
			StatusEventTopic: "offer-status-events",
			DeadLetterTopic:  "offer-build-results-dlt",
			GroupID:          "offer-service",
		},
		Jaeger:    JaegerConfig{SampleRatio: 1},
		Nacos:     NacosConfig{Group: "DEFAULT_GROUP"},
		Zookeeper: ZookeeperConfig{SessionTimeout: 5 * time.Second, LockTimeout: 30 * time.Second},
		Collaborators: CollaboratorsConfig{
			Mode:    CollaboratorModeFake,
			Timeout: 10 * time.Second,
		},
		Saga: SagaConfig{
			CampaignConcurrency: 4,
			DBRetryAttempts:     4,
			DBRetryBackoff:      50 * time.Millisecond,
			CacheClearAttempts:  3,
			PropagationTimeout:  5 * time.Second,
		},
	}
}

// LoadConfig 读取 YAML 文件（path 为空时只用默认值），再应用环境变量覆盖。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "OFFER_"}); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}
	return &cfg, nil
}

var requiredEndpoints = []string{"billing", "content", "targeting", "cache", "build"}

// Validate 检查配置的一致性，返回所有问题的合并错误。
func (c *Config) Validate() error {
	var errs []error
	if c.Service.Name == "" {
		errs = append(errs, errors.New("service.name is required"))
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	switch c.Collaborators.Mode {
	case CollaboratorModeFake:
	case CollaboratorModeHTTP:
		if !c.Nacos.Enabled {
			for _, name := range requiredEndpoints {
				if strings.TrimSpace(c.Collaborators.Endpoints[name]) == "" {
					errs = append(errs, fmt.Errorf("collaborators.endpoints.%s is required in http mode without nacos", name))
				}
			}
		}
	default:
		errs = append(errs, fmt.Errorf("collaborators.mode must be %q or %q, got %q", CollaboratorModeHTTP, CollaboratorModeFake, c.Collaborators.Mode))
	}
	if c.Nacos.Enabled && c.Nacos.Addrs == "" {
		errs = append(errs, errors.New("nacos.addrs is required when nacos is enabled"))
	}
	if c.Saga.CampaignConcurrency < 1 {
		errs = append(errs, errors.New("saga.campaign_concurrency must be at least 1"))
	}
	if c.Saga.DBRetryAttempts < 1 {
		errs = append(errs, errors.New("saga.db_retry_attempts must be at least 1"))
	}
	if c.Saga.CacheClearAttempts < 1 {
		errs = append(errs, errors.New("saga.cache_clear_attempts must be at least 1"))
	}
	if c.Jaeger.SampleRatio < 0 || c.Jaeger.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("jaeger.sample_ratio %v must be within [0,1]", c.Jaeger.SampleRatio))
	}
	return errors.Join(errs...)
}
