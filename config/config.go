package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Host string
	Port string `validate:"required,numeric"`

	ModelPath  string `validate:"required"`
	ModelURL   string `validate:"omitempty,url"`
	LabelsPath string
	OrtLibPath string

	InputSize     int     `validate:"gte=32"`
	ConfThreshold float32 `validate:"gt=0,lte=1"`
	IouThreshold  float64 `validate:"gt=0,lte=1"`
	MaxDetections int     `validate:"gte=0"`

	PoolSize       int           `validate:"gte=1"`
	AcquireTimeout time.Duration `validate:"gt=0"`

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBodyBytes int64 `validate:"gt=0"`

	RateLimit float64 `validate:"gte=0"`
	RateBurst int     `validate:"gte=0"`

	Debug    bool
	LogLevel string `validate:"oneof=trace debug info warn warning error fatal panic"`
	LogFile  string

	MQTTBroker        string
	MQTTRequestTopic  string `validate:"required_with=MQTTBroker"`
	MQTTResponseTopic string `validate:"required_with=MQTTBroker"`
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		Host: getEnv("HOST", "0.0.0.0"),
		Port: getEnv("PORT", "5000"),

		ModelPath:  getEnv("MODEL_PATH", "models/yolov5s.onnx"),
		ModelURL:   getEnv("MODEL_URL", ""),
		LabelsPath: getEnv("LABELS_PATH", ""),
		OrtLibPath: getEnv("ONNXRUNTIME_LIB", ""),

		InputSize:     p.getInt("INPUT_SIZE", 640),
		ConfThreshold: float32(p.getFloat("CONF_THRESHOLD", 0.25)),
		IouThreshold:  p.getFloat("IOU_THRESHOLD", 0.45),
		MaxDetections: p.getInt("MAX_DETECTIONS", 1000),

		PoolSize:       p.getInt("POOL_SIZE", 4),
		AcquireTimeout: p.getDuration("ACQUIRE_TIMEOUT", 5*time.Second),

		ReadTimeout:  p.getDuration("READ_TIMEOUT", 60*time.Second),
		WriteTimeout: p.getDuration("WRITE_TIMEOUT", 60*time.Second),
		MaxBodyBytes: int64(p.getInt("MAX_BODY_BYTES", 32<<20)),

		RateLimit: p.getFloat("RATE_LIMIT", 50),
		RateBurst: p.getInt("RATE_BURST", 100),

		Debug:    p.getBool("DEBUG", false),
		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFile:  getEnv("LOG_FILE", ""),

		MQTTBroker:        getEnv("MQTT_BROKER", ""),
		MQTTRequestTopic:  getEnv("MQTT_REQUEST_TOPIC", "analyze/request"),
		MQTTResponseTopic: getEnv("MQTT_RESPONSE_TOPIC", "analyze/response"),
	}

	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// parser keeps the first conversion error so FromEnv can report it once.
type parser struct {
	err error
}

func (p *parser) fail(key, val string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s=%q: %w", key, val, err)
	}
}

func (p *parser) getInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		p.fail(key, val, err)
		return defaultVal
	}
	return n
}

func (p *parser) getFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		p.fail(key, val, err)
		return defaultVal
	}
	return f
}

func (p *parser) getBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		p.fail(key, val, err)
		return defaultVal
	}
	return b
}

func (p *parser) getDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		p.fail(key, val, err)
		return defaultVal
	}
	return d
}
