package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths     PathsConfig     `mapstructure:"paths"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	LLM       LLMConfig       `mapstructure:"llm"`
	TTS       TTSConfig       `mapstructure:"tts"`
	Playback  PlaybackConfig  `mapstructure:"playback"`
	Server    ServerConfig    `mapstructure:"server"`
	Bus       BusConfig       `mapstructure:"bus"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	LogLevel  string          `mapstructure:"log_level"`
}

type PathsConfig struct {
	ModelDir      string `mapstructure:"model_dir"`
	VoiceManifest string `mapstructure:"voice_manifest"`
	Lexicon       string `mapstructure:"lexicon"`
	Vocabulary    string `mapstructure:"vocabulary"`
	CacheDir      string `mapstructure:"cache_dir"`
}

type RuntimeConfig struct {
	Threads        int    `mapstructure:"threads"`
	InterOpThreads int    `mapstructure:"inter_op_threads"`
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTVersion     string `mapstructure:"ort_version"`
	APIVersion     int    `mapstructure:"api_version"`
	Acceleration   string `mapstructure:"acceleration"`
}

type LLMConfig struct {
	Backend        string  `mapstructure:"backend"`
	BaseURL        string  `mapstructure:"base_url"`
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	SystemPrompt   string  `mapstructure:"system_prompt"`
	Temperature    float64 `mapstructure:"temperature"`
	TopK           int     `mapstructure:"top_k"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	RequestTimeout int     `mapstructure:"request_timeout"`
}

type TTSConfig struct {
	ModelID       string  `mapstructure:"model_id"`
	Voice         string  `mapstructure:"voice"`
	Speed         float64 `mapstructure:"speed"`
	Phonemizer    string  `mapstructure:"phonemizer"`
	EspeakCommand string  `mapstructure:"espeak_command"`
}

type PlaybackConfig struct {
	Device      string `mapstructure:"device"`
	Encoding    string `mapstructure:"encoding"`
	ChunkFrames int    `mapstructure:"chunk_frames"`
	OutputDir   string `mapstructure:"output_dir"`
}

type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	Workers         int    `mapstructure:"workers"`
	MaxTextBytes    int    `mapstructure:"max_text_bytes"`
	RequestTimeout  int    `mapstructure:"request_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
}

type BusConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	Embedded      bool   `mapstructure:"embedded"`
	EmbeddedPort  int    `mapstructure:"embedded_port"`
}

type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			ModelDir:      "models",
			VoiceManifest: "voices/manifest.json",
			Lexicon:       "",
			Vocabulary:    "",
			CacheDir:      "",
		},
		Runtime: RuntimeConfig{
			Threads:        4,
			InterOpThreads: 1,
			APIVersion:     23,
		},
		LLM: LLMConfig{
			Backend:        LLMBackendOpenAI,
			BaseURL:        "http://127.0.0.1:8081/v1",
			Model:          "gemma-3-1b-it",
			Temperature:    0.2,
			TopK:           40,
			MaxTokens:      256,
			RequestTimeout: 60,
		},
		TTS: TTSConfig{
			ModelID:       "kokoro",
			Voice:         "af_sky",
			Speed:         1.0,
			Phonemizer:    PhonemizerLexicon,
			EspeakCommand: "espeak-ng -q --ipa=3",
		},
		Playback: PlaybackConfig{
			Device:      DeviceMiniaudio,
			Encoding:    EncodingPCM16,
			ChunkFrames: 0,
			OutputDir:   "out",
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			Workers:         2,
			MaxTextBytes:    4096,
			RequestTimeout:  60,
			ShutdownTimeout: 30,
		},
		Bus: BusConfig{
			URL:           "",
			SubjectPrefix: "assistant",
			Embedded:      false,
			EmbeddedPort:  4222,
		},
		Telemetry: TelemetryConfig{
			Enabled:     true,
			ServiceName: "voiceassistant",
		},
		LogLevel: "info",
	}
}

// flagKeys maps flag names to their config keys.
var flagKeys = map[string]string{
	"model-dir":                "paths.model_dir",
	"voice-manifest":           "paths.voice_manifest",
	"lexicon":                  "paths.lexicon",
	"vocab":                    "paths.vocabulary",
	"cache-dir":                "paths.cache_dir",
	"runtime-threads":          "runtime.threads",
	"runtime-inter-op-threads": "runtime.inter_op_threads",
	"ort-lib":                  "runtime.ort_library_path",
	"ort-version":              "runtime.ort_version",
	"ort-api-version":          "runtime.api_version",
	"acceleration":             "runtime.acceleration",
	"llm-backend":              "llm.backend",
	"llm-base-url":             "llm.base_url",
	"llm-api-key":              "llm.api_key",
	"llm-model":                "llm.model",
	"llm-system-prompt":        "llm.system_prompt",
	"llm-temperature":          "llm.temperature",
	"llm-top-k":                "llm.top_k",
	"llm-max-tokens":           "llm.max_tokens",
	"llm-request-timeout":      "llm.request_timeout",
	"tts-model":                "tts.model_id",
	"voice":                    "tts.voice",
	"speed":                    "tts.speed",
	"phonemizer":               "tts.phonemizer",
	"espeak-command":           "tts.espeak_command",
	"playback-device":          "playback.device",
	"playback-encoding":        "playback.encoding",
	"playback-chunk-frames":    "playback.chunk_frames",
	"playback-output-dir":      "playback.output_dir",
	"server-listen-addr":       "server.listen_addr",
	"workers":                  "server.workers",
	"max-text-bytes":           "server.max_text_bytes",
	"request-timeout":          "server.request_timeout",
	"shutdown-timeout":         "server.shutdown_timeout",
	"nats-url":                 "bus.url",
	"nats-subject-prefix":      "bus.subject_prefix",
	"nats-embedded":            "bus.embedded",
	"nats-embedded-port":       "bus.embedded_port",
	"telemetry":                "telemetry.enabled",
	"log-level":                "log_level",
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("model-dir", defaults.Paths.ModelDir, "Directory holding models.json and model blobs")
	fs.String("voice-manifest", defaults.Paths.VoiceManifest, "Path to voices manifest.json")
	fs.String("lexicon", defaults.Paths.Lexicon, "Path to a YAML pronunciation lexicon")
	fs.String("vocab", defaults.Paths.Vocabulary, "Path to a phoneme vocabulary JSON (default: built-in)")
	fs.String("cache-dir", defaults.Paths.CacheDir, "Directory for unpacked model files (default: user cache dir)")
	fs.Int("runtime-threads", defaults.Runtime.Threads, "ONNX Runtime intra-op thread count")
	fs.Int("runtime-inter-op-threads", defaults.Runtime.InterOpThreads, "ONNX Runtime inter-op thread count")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("ort-version", defaults.Runtime.ORTVersion, "Expected ONNX Runtime version")
	fs.Int("ort-api-version", defaults.Runtime.APIVersion, "ONNX Runtime C API version")
	fs.String("acceleration", defaults.Runtime.Acceleration, "Session acceleration (cpu)")
	fs.String("llm-backend", defaults.LLM.Backend, "Language model backend (openai|echo)")
	fs.String("llm-base-url", defaults.LLM.BaseURL, "OpenAI-compatible endpoint base URL")
	fs.String("llm-api-key", defaults.LLM.APIKey, "API key for the language model endpoint")
	fs.String("llm-model", defaults.LLM.Model, "Language model name")
	fs.String("llm-system-prompt", defaults.LLM.SystemPrompt, "Optional system prompt")
	fs.Float64("llm-temperature", defaults.LLM.Temperature, "Sampling temperature")
	fs.Int("llm-top-k", defaults.LLM.TopK, "Top-k sampling (0 disables)")
	fs.Int("llm-max-tokens", defaults.LLM.MaxTokens, "Maximum response tokens")
	fs.Int("llm-request-timeout", defaults.LLM.RequestTimeout, "Language model request timeout in seconds")
	fs.String("tts-model", defaults.TTS.ModelID, "TTS model id from models.json")
	fs.String("voice", defaults.TTS.Voice, "Voice id")
	fs.Float64("speed", defaults.TTS.Speed, "Speech speed factor")
	fs.String("phonemizer", defaults.TTS.Phonemizer, "Phoneme front end (lexicon|espeak)")
	fs.String("espeak-command", defaults.TTS.EspeakCommand, "Command line for the espeak phonemizer")
	fs.String("playback-device", defaults.Playback.Device, "Audio output (miniaudio|portaudio|wav|discard|stdout)")
	fs.String("playback-encoding", defaults.Playback.Encoding, "Device sample encoding (pcm16|f32)")
	fs.Int("playback-chunk-frames", defaults.Playback.ChunkFrames, "Frames per device write (0 writes the whole waveform)")
	fs.String("playback-output-dir", defaults.Playback.OutputDir, "Directory for the wav playback device")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("workers", defaults.Server.Workers, "Max concurrent synthesis requests")
	fs.Int("max-text-bytes", defaults.Server.MaxTextBytes, "Max request text size in bytes")
	fs.Int("request-timeout", defaults.Server.RequestTimeout, "HTTP synthesis timeout in seconds")
	fs.Int("shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown timeout in seconds")
	fs.String("nats-url", defaults.Bus.URL, "NATS server URL (empty disables the bus)")
	fs.String("nats-subject-prefix", defaults.Bus.SubjectPrefix, "NATS subject prefix")
	fs.Bool("nats-embedded", defaults.Bus.Embedded, "Run an in-process NATS server")
	fs.Int("nats-embedded-port", defaults.Bus.EmbeddedPort, "Port of the in-process NATS server")
	fs.Bool("telemetry", defaults.Telemetry.Enabled, "Enable OpenTelemetry metrics")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("VOICEASSISTANT")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("runtime.ort_library_path", "VOICEASSISTANT_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	if err := v.BindEnv("llm.api_key", "VOICEASSISTANT_LLM_API_KEY", "OPENAI_API_KEY"); err != nil {
		return Config{}, fmt.Errorf("bind llm env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("voiceassistant")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.model_dir", c.Paths.ModelDir)
	v.SetDefault("paths.voice_manifest", c.Paths.VoiceManifest)
	v.SetDefault("paths.lexicon", c.Paths.Lexicon)
	v.SetDefault("paths.vocabulary", c.Paths.Vocabulary)
	v.SetDefault("paths.cache_dir", c.Paths.CacheDir)
	v.SetDefault("runtime.threads", c.Runtime.Threads)
	v.SetDefault("runtime.inter_op_threads", c.Runtime.InterOpThreads)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_version", c.Runtime.ORTVersion)
	v.SetDefault("runtime.api_version", c.Runtime.APIVersion)
	v.SetDefault("runtime.acceleration", c.Runtime.Acceleration)
	v.SetDefault("llm.backend", c.LLM.Backend)
	v.SetDefault("llm.base_url", c.LLM.BaseURL)
	v.SetDefault("llm.api_key", c.LLM.APIKey)
	v.SetDefault("llm.model", c.LLM.Model)
	v.SetDefault("llm.system_prompt", c.LLM.SystemPrompt)
	v.SetDefault("llm.temperature", c.LLM.Temperature)
	v.SetDefault("llm.top_k", c.LLM.TopK)
	v.SetDefault("llm.max_tokens", c.LLM.MaxTokens)
	v.SetDefault("llm.request_timeout", c.LLM.RequestTimeout)
	v.SetDefault("tts.model_id", c.TTS.ModelID)
	v.SetDefault("tts.voice", c.TTS.Voice)
	v.SetDefault("tts.speed", c.TTS.Speed)
	v.SetDefault("tts.phonemizer", c.TTS.Phonemizer)
	v.SetDefault("tts.espeak_command", c.TTS.EspeakCommand)
	v.SetDefault("playback.device", c.Playback.Device)
	v.SetDefault("playback.encoding", c.Playback.Encoding)
	v.SetDefault("playback.chunk_frames", c.Playback.ChunkFrames)
	v.SetDefault("playback.output_dir", c.Playback.OutputDir)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.max_text_bytes", c.Server.MaxTextBytes)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("bus.url", c.Bus.URL)
	v.SetDefault("bus.subject_prefix", c.Bus.SubjectPrefix)
	v.SetDefault("bus.embedded", c.Bus.Embedded)
	v.SetDefault("bus.embedded_port", c.Bus.EmbeddedPort)
	v.SetDefault("telemetry.enabled", c.Telemetry.Enabled)
	v.SetDefault("telemetry.service_name", c.Telemetry.ServiceName)
	v.SetDefault("log_level", c.LogLevel)
}

// bindFlags binds each registered flag to its nested key. Unregistered flags
// are skipped so commands may expose a subset.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}

		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %q: %w", name, err)
		}
	}

	return nil
}
