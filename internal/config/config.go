package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	speechmodel "github.com/zhouzirui/z-polyglot/backend/internal/model/speech"
)

const (
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"

	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	Assistant AssistantConfig
	Speech    SpeechConfig
	Session   SessionConfig
	Languages LanguageConfig
	Log       LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	assistant, err := loadAssistantConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		Assistant: assistant,
		Speech:    speech,
		Session:   session,
		Languages: LanguageConfig{
			File:    strings.TrimSpace(os.Getenv("LANGUAGES_FILE")),
			Default: getEnvOrDefault("DEFAULT_LANGUAGE", "es"),
		},
		Log: logCfg,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AssistantConfig 描述会话助手后端配置。
type AssistantConfig struct {
	Provider    string
	APIKey      string
	AssistantID string
	BaseURL     string

	PollInterval    time.Duration
	MaxPollInterval time.Duration
	BackoffFactor   float64
	MaxWait         time.Duration

	Ark ArkConfig
}

// ArkConfig 描述 Ark 大模型相关配置。
type ArkConfig struct {
	APIKey       string
	AccessKey    string
	SecretKey    string
	Model        string
	BaseURL      string
	Region       string
	Temperature  *float64
	TopP         *float64
	MaxTokens    *int
	Instructions string
}

// Enabled 表示所选后端的必需凭证是否齐全。
func (c AssistantConfig) Enabled() bool {
	switch c.Provider {
	case ProviderArk:
		return c.Ark.Enabled()
	default:
		return c.APIKey != "" && c.AssistantID != ""
	}
}

// Enabled 表示是否提供了必需的密钥。
func (c ArkConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c ArkConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY + Model or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAssistantConfig() (AssistantConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("ASSISTANT_PROVIDER", ProviderOpenAI))
	if provider != ProviderOpenAI && provider != ProviderArk {
		return AssistantConfig{}, fmt.Errorf("invalid ASSISTANT_PROVIDER value %q", provider)
	}

	pollInterval, err := parseDurationEnv("ASSISTANT_POLL_INTERVAL", 500*time.Millisecond)
	if err != nil {
		return AssistantConfig{}, err
	}

	maxPollInterval, err := parseDurationEnv("ASSISTANT_MAX_POLL_INTERVAL", 5*time.Second)
	if err != nil {
		return AssistantConfig{}, err
	}

	maxWait, err := parseDurationEnv("ASSISTANT_MAX_WAIT", 60*time.Second)
	if err != nil {
		return AssistantConfig{}, err
	}

	backoff := 1.5
	if override, err := parseOptionalFloatEnv("ASSISTANT_BACKOFF_FACTOR"); err != nil {
		return AssistantConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return AssistantConfig{}, fmt.Errorf("invalid ASSISTANT_BACKOFF_FACTOR value %v: must be >= 1", *override)
		}
		backoff = *override
	}

	arkCfg, err := loadArkConfig()
	if err != nil {
		return AssistantConfig{}, err
	}

	return AssistantConfig{
		Provider:        provider,
		APIKey:          strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		AssistantID:     strings.TrimSpace(os.Getenv("ASSISTANT_ID")),
		BaseURL:         strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		PollInterval:    pollInterval,
		MaxPollInterval: maxPollInterval,
		BackoffFactor:   backoff,
		MaxWait:         maxWait,
		Ark:             arkCfg,
	}, nil
}

func loadArkConfig() (ArkConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return ArkConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return ArkConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return ArkConfig{}, err
	}

	return ArkConfig{
		APIKey:       strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:    strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:    strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:        strings.TrimSpace(os.Getenv("Model")),
		BaseURL:      getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:       getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:  temperature,
		TopP:         topP,
		MaxTokens:    maxTokens,
		Instructions: strings.TrimSpace(os.Getenv("ARK_INSTRUCTIONS")),
	}, nil
}

// SpeechConfig 描述语音服务相关配置
type SpeechConfig struct {
	Enabled  bool
	Settings speechmodel.SpeechConfig
}

func loadSpeechConfig() (SpeechConfig, error) {
	enabled, err := parseBoolEnv("SPEECH_ENABLED", true)
	if err != nil {
		return SpeechConfig{}, err
	}

	settings := speechmodel.DefaultSpeechConfig()

	if settings.Timeout, err = parseDurationEnv("SPEECH_TIMEOUT", settings.Timeout); err != nil {
		return SpeechConfig{}, err
	}
	if settings.CalibrationWindow, err = parseDurationEnv("SPEECH_CALIBRATION_WINDOW", settings.CalibrationWindow); err != nil {
		return SpeechConfig{}, err
	}
	if settings.AcquisitionTimeout, err = parseDurationEnv("SPEECH_LISTEN_TIMEOUT", settings.AcquisitionTimeout); err != nil {
		return SpeechConfig{}, err
	}
	if settings.PhraseTimeLimit, err = parseDurationEnv("SPEECH_PHRASE_LIMIT", settings.PhraseTimeLimit); err != nil {
		return SpeechConfig{}, err
	}

	if ratio, err := parseOptionalFloatEnv("SPEECH_ENERGY_RATIO"); err != nil {
		return SpeechConfig{}, err
	} else if ratio != nil {
		settings.EnergyRatio = *ratio
	}

	if floor, err := parseOptionalFloatEnv("SPEECH_ENERGY_FLOOR"); err != nil {
		return SpeechConfig{}, err
	} else if floor != nil {
		settings.EnergyFloor = *floor
	}

	settings.RecognitionModel = strings.TrimSpace(os.Getenv("SPEECH_RECOGNITION_MODEL"))
	settings.TTSBaseURL = getEnvOrDefault("SPEECH_TTS_BASE_URL", settings.TTSBaseURL)
	settings.TTSTLD = getEnvOrDefault("SPEECH_TTS_TLD", settings.TTSTLD)
	settings.TempDir = getEnvOrDefault("SPEECH_TEMP_DIR", os.TempDir())

	return SpeechConfig{Enabled: enabled, Settings: settings}, nil
}

// SessionConfig 描述会话状态存储配置
type SessionConfig struct {
	Store         string
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func loadSessionConfig() (SessionConfig, error) {
	store := strings.ToLower(getEnvOrDefault("SESSION_STORE", StoreMemory))
	if store != StoreMemory && store != StoreRedis {
		return SessionConfig{}, fmt.Errorf("invalid SESSION_STORE value %q", store)
	}

	ttl, err := parseDurationEnv("SESSION_TTL", 2*time.Hour)
	if err != nil {
		return SessionConfig{}, err
	}

	db := 0
	if override, err := parseOptionalIntEnv("REDIS_DB"); err != nil {
		return SessionConfig{}, err
	} else if override != nil {
		db = *override
	}

	return SessionConfig{
		Store:         store,
		TTL:           ttl,
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       db,
	}, nil
}

// LanguageConfig 描述语言表来源
type LanguageConfig struct {
	File    string
	Default string
}

// LogConfig 描述日志输出
type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func loadLogConfig() (LogConfig, error) {
	compress, err := parseBoolEnv("LOG_COMPRESS", false)
	if err != nil {
		return LogConfig{}, err
	}

	cfg := LogConfig{
		Level:      strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		File:       strings.TrimSpace(os.Getenv("LOG_FILE")),
		MaxSizeMB:  10,
		MaxBackups: 2,
		MaxAgeDays: 3,
		Compress:   compress,
	}

	for key, dst := range map[string]*int{
		"LOG_MAX_SIZE_MB":  &cfg.MaxSizeMB,
		"LOG_MAX_BACKUPS":  &cfg.MaxBackups,
		"LOG_MAX_AGE_DAYS": &cfg.MaxAgeDays,
	} {
		val, err := parseOptionalIntEnv(key)
		if err != nil {
			return LogConfig{}, err
		}
		if val != nil {
			*dst = *val
		}
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
