package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type GatewayConfig struct {
	ReadLimitBytes int64 `yaml:"read_limit_bytes"`
	PingIntervalMS int   `yaml:"ping_interval_ms"`
	WriteTimeoutMS int   `yaml:"write_timeout_ms"`
	IdleTimeoutMS  int   `yaml:"idle_timeout_ms"`
	SendBuffer     int   `yaml:"send_buffer"`
}

type AgentsConfig struct {
	Path string `yaml:"path"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type STTConfig struct {
	Mode       string `yaml:"mode"` // mock, http, exec
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Language   string `yaml:"language"`
	Command    string `yaml:"command"`
	Input      string `yaml:"input"` // container, pcm_s16le
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type LLMConfig struct {
	Mode          string  `yaml:"mode"` // mock, ollama, exec
	Endpoint      string  `yaml:"endpoint"`
	Command       string  `yaml:"command"`
	Model         string  `yaml:"model"`
	MaxTokens     int     `yaml:"max_tokens"`
	Temperature   float64 `yaml:"temperature"`
	HistoryTurns  int     `yaml:"history_turns"`
	RequestTimeMS int     `yaml:"request_timeout_ms"`
}

type TTSConfig struct {
	Mode          string `yaml:"mode"` // mock, elevenlabs, exec
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	Command       string `yaml:"command"`
	ChunkBytes    int    `yaml:"chunk_bytes"`
	SampleRate    int    `yaml:"sample_rate"`
	Channels      int    `yaml:"channels"`
	RequestTimeMS int    `yaml:"request_timeout_ms"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	Version     string           `yaml:"version"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Gateway     GatewayConfig    `yaml:"gateway"`
	Agents      AgentsConfig     `yaml:"agents"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	STT         STTConfig        `yaml:"stt"`
	LLM         LLMConfig        `yaml:"llm"`
	TTS         TTSConfig        `yaml:"tts"`
}

func Default() Config {
	return Config{
		RuntimeName: "voxline-gateway",
		Environment: "development",
		Version:     "1.0.0",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Gateway: GatewayConfig{
			ReadLimitBytes: 1 << 20,
			PingIntervalMS: 20000,
			WriteTimeoutMS: 5000,
			IdleTimeoutMS:  0,
			SendBuffer:     64,
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/voxline-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		STT: STTConfig{
			Mode:       "mock",
			Endpoint:   "https://api.openai.com/v1",
			Model:      "whisper-1",
			Language:   "en",
			Input:      "container",
			SampleRate: 16000,
			Channels:   1,
		},
		LLM: LLMConfig{
			Mode:          "mock",
			Endpoint:      "http://localhost:11434",
			Model:         "llama3.2:latest",
			MaxTokens:     150,
			Temperature:   0.7,
			HistoryTurns:  10,
			RequestTimeMS: 60000,
		},
		TTS: TTSConfig{
			Mode:          "mock",
			Endpoint:      "https://api.elevenlabs.io/v1",
			Model:         "eleven_monolingual_v1",
			ChunkBytes:    4096,
			SampleRate:    22050,
			Channels:      1,
			RequestTimeMS: 45000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "VOXLINE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOXLINE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOXLINE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOXLINE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOXLINE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOXLINE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOXLINE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOXLINE_TELEMETRY_PROMETHEUS_BIND")
	overrideInt64(&cfg.Gateway.ReadLimitBytes, "VOXLINE_GATEWAY_READ_LIMIT_BYTES")
	overrideInt(&cfg.Gateway.PingIntervalMS, "VOXLINE_GATEWAY_PING_INTERVAL_MS")
	overrideInt(&cfg.Gateway.WriteTimeoutMS, "VOXLINE_GATEWAY_WRITE_TIMEOUT_MS")
	overrideInt(&cfg.Gateway.IdleTimeoutMS, "VOXLINE_GATEWAY_IDLE_TIMEOUT_MS")
	overrideInt(&cfg.Gateway.SendBuffer, "VOXLINE_GATEWAY_SEND_BUFFER")
	overrideString(&cfg.Agents.Path, "VOXLINE_AGENTS_PATH")
	overrideBool(&cfg.Bus.Enabled, "VOXLINE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "VOXLINE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOXLINE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "VOXLINE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "VOXLINE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOXLINE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOXLINE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOXLINE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOXLINE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOXLINE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "VOXLINE_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "VOXLINE_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "VOXLINE_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "VOXLINE_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "VOXLINE_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.STT.Mode, "VOXLINE_STT_MODE")
	overrideString(&cfg.STT.Endpoint, "VOXLINE_STT_ENDPOINT")
	overrideString(&cfg.STT.APIKey, "VOXLINE_STT_API_KEY")
	overrideString(&cfg.STT.Model, "VOXLINE_STT_MODEL")
	overrideString(&cfg.STT.Language, "VOXLINE_STT_LANGUAGE")
	overrideString(&cfg.STT.Command, "VOXLINE_STT_COMMAND")
	overrideString(&cfg.STT.Input, "VOXLINE_STT_INPUT")
	overrideInt(&cfg.STT.SampleRate, "VOXLINE_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "VOXLINE_STT_CHANNELS")
	overrideString(&cfg.LLM.Mode, "VOXLINE_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "VOXLINE_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "VOXLINE_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "VOXLINE_LLM_MODEL")
	overrideInt(&cfg.LLM.MaxTokens, "VOXLINE_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "VOXLINE_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.HistoryTurns, "VOXLINE_LLM_HISTORY_TURNS")
	overrideInt(&cfg.LLM.RequestTimeMS, "VOXLINE_LLM_REQUEST_TIMEOUT_MS")
	overrideString(&cfg.TTS.Mode, "VOXLINE_TTS_MODE")
	overrideString(&cfg.TTS.Endpoint, "VOXLINE_TTS_ENDPOINT")
	overrideString(&cfg.TTS.APIKey, "VOXLINE_TTS_API_KEY")
	overrideString(&cfg.TTS.Model, "VOXLINE_TTS_MODEL")
	overrideString(&cfg.TTS.Command, "VOXLINE_TTS_COMMAND")
	overrideInt(&cfg.TTS.ChunkBytes, "VOXLINE_TTS_CHUNK_BYTES")
	overrideInt(&cfg.TTS.SampleRate, "VOXLINE_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "VOXLINE_TTS_CHANNELS")
	overrideInt(&cfg.TTS.RequestTimeMS, "VOXLINE_TTS_REQUEST_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Gateway.ReadLimitBytes < 0 {
		return errors.New("gateway.read_limit_bytes must be >= 0")
	}
	if cfg.Gateway.SendBuffer <= 0 {
		return errors.New("gateway.send_buffer must be >= 1")
	}
	if cfg.Gateway.IdleTimeoutMS < 0 {
		return errors.New("gateway.idle_timeout_ms must be >= 0")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.STT.Mode {
	case "mock", "http", "exec":
	default:
		return errors.New("stt.mode must be one of mock|http|exec")
	}
	if cfg.STT.Mode == "http" && cfg.STT.Endpoint == "" {
		return errors.New("stt.endpoint must be set when mode=http")
	}
	if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	switch cfg.STT.Input {
	case "container", "pcm_s16le":
	default:
		return errors.New("stt.input must be one of container|pcm_s16le")
	}
	if cfg.STT.Input == "pcm_s16le" {
		if cfg.STT.SampleRate <= 0 {
			return errors.New("stt.sample_rate must be positive")
		}
		if cfg.STT.Channels <= 0 {
			return errors.New("stt.channels must be positive")
		}
	}
	switch cfg.LLM.Mode {
	case "mock", "ollama", "exec":
	default:
		return errors.New("llm.mode must be one of mock|ollama|exec")
	}
	if cfg.LLM.Mode == "ollama" && cfg.LLM.Endpoint == "" {
		return errors.New("llm.endpoint must be set when mode=ollama")
	}
	if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
		return errors.New("llm.command must be set when mode=exec")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	if cfg.LLM.HistoryTurns <= 0 {
		return errors.New("llm.history_turns must be >= 1")
	}
	switch cfg.TTS.Mode {
	case "mock", "elevenlabs", "exec":
	default:
		return errors.New("tts.mode must be one of mock|elevenlabs|exec")
	}
	if cfg.TTS.Mode == "elevenlabs" {
		if cfg.TTS.Endpoint == "" {
			return errors.New("tts.endpoint must be set when mode=elevenlabs")
		}
		if cfg.TTS.APIKey == "" {
			return errors.New("tts.api_key must be set when mode=elevenlabs")
		}
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.ChunkBytes <= 0 {
		return errors.New("tts.chunk_bytes must be positive")
	}
	return nil
}
