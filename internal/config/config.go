package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	TraceExporter  string `yaml:"trace_exporter"` // none, stdout or otlp
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

// Level maps log_level to a slog level. Unknown values fall back to info.
func (t TelemetryConfig) Level() slog.Level {
	switch strings.ToLower(strings.TrimSpace(t.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type HTTPConfig struct {
	Bind        string   `yaml:"bind"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Router      RouterConfig     `yaml:"router"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Storage     StorageConfig    `yaml:"storage"`
	Segmenter   SegmenterConfig  `yaml:"segmenter"`
	TTS         TTSConfig        `yaml:"tts"`
	Generation  GenerationConfig `yaml:"generation"`
	Cleanup     CleanupConfig    `yaml:"cleanup"`
	Player      PlayerConfig     `yaml:"player"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	StoreDir       string   `yaml:"store_dir"`
}

// RouterConfig enables job requests over the bus. It requires bus.enabled.
type RouterConfig struct {
	Enabled bool `yaml:"enabled"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxJobs       int    `yaml:"max_jobs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// StorageConfig describes where transient segments and merged files live.
type StorageConfig struct {
	SegmentDir string `yaml:"segment_dir"`
	OutputDir  string `yaml:"output_dir"`
	Format     string `yaml:"format"` // mp3 or wav
}

type SegmenterConfig struct {
	Mode      string `yaml:"mode"` // terminator or bounded
	MaxLength int    `yaml:"max_length"`
}

// ModelConfig holds the fixed parameters of one acoustic model + vocoder pair.
type ModelConfig struct {
	AcousticModel string `yaml:"am"`
	Vocoder       string `yaml:"voc"`
	Lang          string `yaml:"lang"`
	AMConfig      string `yaml:"am_config"`
	AMCheckpoint  string `yaml:"am_ckpt"`
	AMStats       string `yaml:"am_stat"`
	PhonesDict    string `yaml:"phones_dict"`
	SpeakerDict   string `yaml:"speaker_dict"`
	VocConfig     string `yaml:"voc_config"`
	VocCheckpoint string `yaml:"voc_ckpt"`
	VocStats      string `yaml:"voc_stat"`
	CloudVoice    string `yaml:"cloud_voice"`
}

type TTSConfig struct {
	Mode         string                 `yaml:"mode"` // mock, exec, google
	Command      string                 `yaml:"command"`
	Preload      bool                   `yaml:"preload"`
	SampleRate   int                    `yaml:"sample_rate"`
	MaxSpeakerID int                    `yaml:"max_speaker_id"`
	TimeoutMS    int                    `yaml:"timeout_ms"`
	Models       map[string]ModelConfig `yaml:"models"`
}

type GenerationConfig struct {
	Mode string `yaml:"mode"` // sync or async
}

type CleanupConfig struct {
	IntervalMS int `yaml:"interval_ms"`
}

type PlayerConfig struct {
	Directory      string `yaml:"directory"`
	Command        string `yaml:"command"`
	Extension      string `yaml:"extension"`
	PollIntervalMS int    `yaml:"poll_interval_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-tts",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:        "0.0.0.0",
			Port:        8888,
			CORSOrigins: []string{"*"},
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			TraceExporter:  "none",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			StoreDir:       "./data/nats",
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-tts.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxJobs:       10000,
		},
		Storage: StorageConfig{
			SegmentDir: "./data/segments",
			OutputDir:  "./data/files",
			Format:     "mp3",
		},
		Segmenter: SegmenterConfig{
			Mode:      "bounded",
			MaxLength: 30,
		},
		TTS: TTSConfig{
			Mode:         "mock",
			Command:      "paddlespeech tts",
			Preload:      true,
			SampleRate:   24000,
			MaxSpeakerID: 173,
			TimeoutMS:    120000,
			Models:       DefaultModels(),
		},
		Generation: GenerationConfig{
			Mode: "async",
		},
		Cleanup: CleanupConfig{
			IntervalMS: 1000,
		},
		Player: PlayerConfig{
			Directory:      "./data/segments",
			Command:        "ffplay -nodisp -autoexit -loglevel quiet",
			Extension:      "mp3",
			PollIntervalMS: 100,
		},
	}
}

// DefaultModels mirrors the paddlespeech checkpoints the service was deployed with.
func DefaultModels() map[string]ModelConfig {
	return map[string]ModelConfig{
		"default": {
			AcousticModel: "fastspeech2_csmsc",
			Vocoder:       "hifigan_csmsc",
			Lang:          "zh",
			CloudVoice:    "cmn-CN-Standard-A",
		},
		"male": {
			AcousticModel: "fastspeech2_male",
			Vocoder:       "hifigan_aishell3",
			Lang:          "zh",
			AMConfig:      "/mnt/models/fastspeech2_male_zh/default.yaml",
			AMCheckpoint:  "/mnt/models/fastspeech2_male_zh/snapshot_iter_76000.pdz",
			AMStats:       "/mnt/models/fastspeech2_male_zh/speech_stats.npy",
			PhonesDict:    "/mnt/models/fastspeech2_male_zh/phone_id_map.txt",
			VocConfig:     "/mnt/models/hifigan_aishell3/default.yaml",
			VocCheckpoint: "/mnt/models/hifigan_aishell3/snapshot_iter_2500000.pdz",
			VocStats:      "/mnt/models/hifigan_aishell3/feats_stats.npy",
			CloudVoice:    "cmn-CN-Standard-B",
		},
		"aishell3": {
			AcousticModel: "fastspeech2_aishell3",
			Vocoder:       "hifigan_aishell3",
			Lang:          "zh",
			AMConfig:      "/mnt/models/fastspeech2_aishell3/default.yaml",
			AMCheckpoint:  "/mnt/models/fastspeech2_aishell3/snapshot_iter_96400.pdz",
			AMStats:       "/mnt/models/fastspeech2_aishell3/speech_stats.npy",
			PhonesDict:    "/mnt/models/fastspeech2_aishell3/phone_id_map.txt",
			SpeakerDict:   "/mnt/models/fastspeech2_aishell3/speaker_id_map.txt",
			VocConfig:     "/mnt/models/hifigan_aishell3/default.yaml",
			VocCheckpoint: "/mnt/models/hifigan_aishell3/snapshot_iter_2500000.pdz",
			VocStats:      "/mnt/models/hifigan_aishell3/feats_stats.npy",
			CloudVoice:    "cmn-CN-Wavenet-C",
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
	overrideString(&cfg.RuntimeName, "LOQA_TTS_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_TTS_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_TTS_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_TTS_HTTP_PORT")
	overrideStringSlice(&cfg.HTTP.CORSOrigins, "LOQA_TTS_HTTP_CORS_ORIGINS")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TTS_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.TraceExporter, "LOQA_TTS_TELEMETRY_TRACE_EXPORTER")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TTS_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TTS_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TTS_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "LOQA_TTS_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_TTS_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_TTS_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_TTS_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_TTS_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_TTS_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_TTS_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_TTS_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_TTS_BUS_CONNECT_TIMEOUT_MS")
	overrideBool(&cfg.Router.Enabled, "LOQA_TTS_ROUTER_ENABLED")
	overrideString(&cfg.EventStore.Path, "LOQA_TTS_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_TTS_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_TTS_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxJobs, "LOQA_TTS_EVENT_STORE_MAX_JOBS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_TTS_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Storage.SegmentDir, "LOQA_TTS_STORAGE_SEGMENT_DIR")
	overrideString(&cfg.Storage.OutputDir, "LOQA_TTS_STORAGE_OUTPUT_DIR")
	overrideString(&cfg.Storage.Format, "LOQA_TTS_STORAGE_FORMAT")
	overrideString(&cfg.Segmenter.Mode, "LOQA_TTS_SEGMENTER_MODE")
	overrideInt(&cfg.Segmenter.MaxLength, "LOQA_TTS_SEGMENTER_MAX_LENGTH")
	overrideString(&cfg.TTS.Mode, "LOQA_TTS_MODE")
	overrideString(&cfg.TTS.Command, "LOQA_TTS_COMMAND")
	overrideBool(&cfg.TTS.Preload, "LOQA_TTS_PRELOAD")
	overrideInt(&cfg.TTS.SampleRate, "LOQA_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.MaxSpeakerID, "LOQA_TTS_MAX_SPEAKER_ID")
	overrideInt(&cfg.TTS.TimeoutMS, "LOQA_TTS_TIMEOUT_MS")
	overrideString(&cfg.Generation.Mode, "LOQA_TTS_GENERATION_MODE")
	overrideInt(&cfg.Cleanup.IntervalMS, "LOQA_TTS_CLEANUP_INTERVAL_MS")
	overrideString(&cfg.Player.Directory, "LOQA_TTS_PLAYER_DIRECTORY")
	overrideString(&cfg.Player.Command, "LOQA_TTS_PLAYER_COMMAND")
	overrideString(&cfg.Player.Extension, "LOQA_TTS_PLAYER_EXTENSION")
	overrideInt(&cfg.Player.PollIntervalMS, "LOQA_TTS_PLAYER_POLL_INTERVAL_MS")
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

// Validate checks cfg after changes made on top of Load, such as command-line
// overrides.
func (c Config) Validate() error {
	return validate(c)
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
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
	if cfg.Router.Enabled && !cfg.Bus.Enabled {
		return errors.New("router.enabled requires bus.enabled")
	}
	if cfg.EventStore.Path == "" && cfg.EventStore.RetentionMode != "ephemeral" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.Telemetry.TraceExporter {
	case "", "none", "stdout":
	case "otlp":
		if strings.TrimSpace(cfg.Telemetry.OTLPEndpoint) == "" {
			return errors.New("telemetry.otlp_endpoint must be set when trace_exporter=otlp")
		}
	default:
		return errors.New("telemetry.trace_exporter must be one of none|stdout|otlp")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Storage.SegmentDir == "" || cfg.Storage.OutputDir == "" {
		return errors.New("storage.segment_dir and storage.output_dir must not be empty")
	}
	if filepath.Clean(cfg.Storage.SegmentDir) == filepath.Clean(cfg.Storage.OutputDir) {
		return errors.New("storage.output_dir must differ from storage.segment_dir")
	}
	switch cfg.Storage.Format {
	case "mp3", "wav":
	default:
		return errors.New("storage.format must be one of mp3|wav")
	}
	switch cfg.Segmenter.Mode {
	case "terminator":
	case "bounded":
		if cfg.Segmenter.MaxLength <= 0 {
			return errors.New("segmenter.max_length must be positive in bounded mode")
		}
	default:
		return errors.New("segmenter.mode must be one of terminator|bounded")
	}
	switch cfg.TTS.Mode {
	case "mock", "exec", "google":
	default:
		return errors.New("tts.mode must be one of mock|exec|google")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.MaxSpeakerID < 0 {
		return errors.New("tts.max_speaker_id must be >= 0")
	}
	for _, key := range []string{"default", "male", "aishell3"} {
		if _, ok := cfg.TTS.Models[key]; !ok {
			return fmt.Errorf("tts.models.%s must be configured", key)
		}
	}
	switch cfg.Generation.Mode {
	case "sync", "async":
	default:
		return errors.New("generation.mode must be one of sync|async")
	}
	if cfg.Cleanup.IntervalMS <= 0 {
		return errors.New("cleanup.interval_ms must be positive")
	}
	if cfg.Player.PollIntervalMS <= 0 {
		return errors.New("player.poll_interval_ms must be positive")
	}
	return nil
}
