package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       Server           `mapstructure:"server"`
	Postgres     Postgres         `mapstructure:"postgres"`
	Redis        Redis            `mapstructure:"redis"`
	Broker       Broker           `mapstructure:"broker"`
	Aggregator   AggregatorConfig `mapstructure:"aggregator"`
	Router       RouterConfig     `mapstructure:"router"`
	Workers      WorkersConfig    `mapstructure:"workers"`
	Senders      Senders          `mapstructure:"senders"`
	Directory    Directory        `mapstructure:"directory"`
	Catalog      Catalog          `mapstructure:"catalog"`
	Cron         Cron             `mapstructure:"cron"`
	HTTPClient   HTTPClient       `mapstructure:"httpClient"`
	LoggingLevel string           `mapstructure:"logging-level"`
}

type Server struct {
	Port      string `mapstructure:"port"`
	BodyLimit int    `mapstructure:"body_limit"`
}

type Postgres struct {
	ConnString     string `mapstructure:"conn_string"`
	MaxConnections int32  `mapstructure:"max_connections"`
}

type Redis struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"` // TTL кэша каталога/предпочтений
}

type Broker struct {
	Kafka Kafka `mapstructure:"kafka"`
}

type Kafka struct {
	Brokers      string `mapstructure:"brokers"`
	ReaderUsr    string `mapstructure:"readerUsr"`
	ReaderUsrPwd string `mapstructure:"readerUsrPwd"`
	WriterUsr    string `mapstructure:"writerUsr"`
	WriterUsrPwd string `mapstructure:"writerUsrPwd"`
	MaxAttempts  int    `mapstructure:"maxAttempts"`

	// Топики пайплайна
	ProgressTopic      string `mapstructure:"progressTopic"`      // входящие progress-события
	PoisonTopic        string `mapstructure:"poisonTopic"`        // некорректные события
	ChannelTopicPrefix string `mapstructure:"channelTopicPrefix"` // + ".email"/".sms"/".push"
	DeadLetterTopic    string `mapstructure:"deadLetterTopic"`

	// Consumer groups
	ProgressGroup string `mapstructure:"progressGroup"`
	WorkerGroup   string `mapstructure:"workerGroup"` // + "-email"/"-sms"/"-push"
}

type AggregatorConfig struct {
	// Пороги StreakMilestone в процентах, по возрастанию. По умолчанию 25/50/75.
	Thresholds []int `mapstructure:"thresholds"`
	// Число CAS-повторов на конфликт версий до фатала по событию.
	CASRetries int `mapstructure:"casRetries"`
}

type RouterConfig struct {
	Workers     int           `mapstructure:"workers"`
	BatchSize   int           `mapstructure:"batchSize"`
	Lease       time.Duration `mapstructure:"lease"`
	PollPeriod  time.Duration `mapstructure:"pollPeriod"`
	MaxAttempts int           `mapstructure:"maxAttempts"`
	// Каналы по умолчанию, если директория предпочтений недоступна
	// и fallback разрешён.
	DefaultChannels []string `mapstructure:"defaultChannels"`
}

type WorkersConfig struct {
	EmailPool int `mapstructure:"emailPool"`
	SMSPool   int `mapstructure:"smsPool"`
	PushPool  int `mapstructure:"pushPool"`

	SendTimeout time.Duration `mapstructure:"sendTimeout"`
	MaxAttempts int           `mapstructure:"maxAttempts"` // потолок attempt до dead-letter
	BaseBackoff time.Duration `mapstructure:"baseBackoff"`
	MaxBackoff  time.Duration `mapstructure:"maxBackoff"`

	// Retry-relay: доставка отложенных повторов обратно в канальные топики.
	RetryBatchSize  int           `mapstructure:"retryBatchSize"`
	RetryLease      time.Duration `mapstructure:"retryLease"`
	RetryPollPeriod time.Duration `mapstructure:"retryPollPeriod"`
}

type Senders struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
	SMS  GatewayURL `mapstructure:"sms"`
	Push GatewayURL `mapstructure:"push"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type GatewayURL struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"apiKey"`
}

type Directory struct {
	BaseURL string `mapstructure:"baseURL"` // сервис предпочтений/контактов
}

type Catalog struct {
	BaseURL string `mapstructure:"baseURL"` // сервис курсов: lesson count, названия
}

type Cron struct {
	RecordRetentionDays int    `mapstructure:"recordRetentionDays"` // retention для delivery_record
	Schedule            string `mapstructure:"schedule"`            // cron-формат, например "0 3 * * *"
	Interval            string `mapstructure:"interval"`            // либо "@every 24h"
	// Приоритет: если указан Schedule, используется он, иначе Interval
}

type HTTPClient struct {
	//конфиг клиента
	ConnectTimeout        time.Duration `mapstructure:"connectTimeout"`        // TCP коннект
	TLSHandshakeTimeout   time.Duration `mapstructure:"TLSHandshakeTimeout"`   // TLS рукопожатие
	ResponseHeaderTimeout time.Duration `mapstructure:"responseHeaderTimeout"` // ожидание заголовков ответа
	ExpectContinueTimeout time.Duration `mapstructure:"expectContinueTimeout"` // 100-continue

	// Пул соединений
	IdleConnTimeout     time.Duration `mapstructure:"idleConnTimeout"`
	MaxIdleConns        int           `mapstructure:"maxIdleConns"`
	MaxIdleConnsPerHost int           `mapstructure:"maxIdleConnsPerHost"`
	MaxConnsPerHost     int           `mapstructure:"maxConnsPerHost"`
	KeepAlives          bool          `mapstructure:"keepAlives"`

	// Общий таймаут клиента. 0 — контролируем дедлайном через context.
	ClientTimeout time.Duration `mapstructure:"clientTimeout"`

	// Прочее
	UserAgent  string `mapstructure:"userAgent"`
	MaxRetries int    `mapstructure:"maxRetries"`

	// SSL/TLS настройки
	InsecureSkipVerify bool `mapstructure:"insecureSkipVerify"` // отключить проверку SSL сертификатов
}

func NewConfig() (Config, error) {
	viper.AutomaticEnv()
	// Настраиваем замену точек и дефисов на подчеркивания для переменных окружения
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	var conf Config
	err := viper.ReadInConfig() // Find and read the config file
	// Игнорируем ошибку, если файл не найден - используем только переменные окружения
	if err != nil {
		// Если это не ошибка "файл не найден", возвращаем её
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return conf, err
		}
	}

	// unmarshal
	if err = viper.Unmarshal(&conf); err != nil {
		return conf, err
	}

	conf.applyDefaults()

	return conf, nil
}

// applyDefaults — рабочие дефолты для необязательных настроек.
func (c *Config) applyDefaults() {
	if len(c.Aggregator.Thresholds) == 0 {
		c.Aggregator.Thresholds = []int{25, 50, 75}
	}
	if c.Aggregator.CASRetries <= 0 {
		c.Aggregator.CASRetries = 5
	}
	if c.Workers.MaxAttempts <= 0 {
		c.Workers.MaxAttempts = 5
	}
	if c.Workers.BaseBackoff <= 0 {
		c.Workers.BaseBackoff = time.Second
	}
	if c.Workers.MaxBackoff <= 0 {
		c.Workers.MaxBackoff = 10 * time.Minute
	}
	if c.Workers.SendTimeout <= 0 {
		c.Workers.SendTimeout = 15 * time.Second
	}
	if c.Broker.Kafka.ChannelTopicPrefix == "" {
		c.Broker.Kafka.ChannelTopicPrefix = "notify.tasks"
	}

	if c.Router.Workers <= 0 {
		c.Router.Workers = 3
	}
	if c.Router.BatchSize <= 0 {
		c.Router.BatchSize = 100
	}
	if c.Router.Lease <= 0 {
		c.Router.Lease = 30 * time.Second
	}
	if c.Router.PollPeriod <= 0 {
		c.Router.PollPeriod = 2 * time.Second
	}
	if c.Router.MaxAttempts <= 0 {
		c.Router.MaxAttempts = 5
	}

	if c.Workers.EmailPool <= 0 {
		c.Workers.EmailPool = 4
	}
	if c.Workers.SMSPool <= 0 {
		c.Workers.SMSPool = 4
	}
	if c.Workers.PushPool <= 0 {
		c.Workers.PushPool = 4
	}
	if c.Workers.RetryBatchSize <= 0 {
		c.Workers.RetryBatchSize = 100
	}
	if c.Workers.RetryLease <= 0 {
		c.Workers.RetryLease = 30 * time.Second
	}
	if c.Workers.RetryPollPeriod <= 0 {
		c.Workers.RetryPollPeriod = 5 * time.Second
	}
}
