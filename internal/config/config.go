package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Server    ServerConfig
	Mongo     MongoDBConfig
	Redis     RedisConfig
	GPU       GPUConfig
	Timeouts  TimeoutConfig
	Parser    ParserConfig
	Vision    VisionConfig
	Queue     QueueConfig
	Workspace WorkspaceConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

// GPUConfig lists the GPU ids the scheduler pins one worker process to.
type GPUConfig struct {
	IDs []string
}

// TimeoutConfig resolves the per-task hard timeout, with pipeline overrides.
type TimeoutConfig struct {
	Global  time.Duration
	SCI     time.Duration
	Images  time.Duration
	Default time.Duration
}

// ForPipeline resolves the hard timeout for a named pipeline, falling back
// to the global default when no pipeline-specific override is configured.
func (t TimeoutConfig) ForPipeline(pipeline string) time.Duration {
	switch strings.ToLower(pipeline) {
	case "sci":
		if t.SCI > 0 {
			return t.SCI
		}
	case "images":
		if t.Images > 0 {
			return t.Images
		}
	default:
		if t.Default > 0 {
			return t.Default
		}
	}
	return t.Global
}

type ParserConfig struct {
	DefaultBackend      string
	DefaultLang         string
	DefaultMethod       string
	VLLMServerURLs      []string
	VLLMAPIKey          string
	VLLMAuthHeader      string
	SupportedExtensions []string
}

type VisionConfig struct {
	Provider               string
	Model                  string
	ContextWindow          int
	BatchSize              int
	ProviderChoices        []string
	ModelsByProvider       map[string][]string
	DefaultModelByProvider map[string]string
}

// QueueConfig carries the result TTL and the queue names used by the task
// queue and the two-stage pipeline's priority routing; the broker
// connection itself is in RedisConfig.
type QueueConfig struct {
	ResultTTL time.Duration

	NormalQueue string
	UrgentQueue string

	ParseQueue          string
	ParseUrgentQueue    string
	VisionQueue         string
	VisionUrgentQueue   string
	DispatchQueue       string
	DispatchUrgentQueue string
	MergeQueue          string
	MergeUrgentQueue    string
}

type WorkspaceConfig struct {
	Root string
}

// RateLimitConfig controls the global rate limiter in front of the submit endpoint.
type RateLimitConfig struct {
	Enabled       bool
	RPS           float64
	Burst         int
	UseRedis      bool
	WindowSeconds int
}

func envList(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func envDurationSeconds(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	secs, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// LoadConfig loads configuration from environment variables and an optional .env file.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "5001")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_ENVIRONMENT", "development")
	viper.SetDefault("MONGODB_TIMEOUT", 10)
	viper.SetDefault("MONGODB_DATABASE", "mineru")
	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", "6379")

	viper.SetDefault("RATE_LIMIT_ENABLED", true)
	viper.SetDefault("RATE_LIMIT_RPS", 10)
	viper.SetDefault("RATE_LIMIT_BURST", 40)
	viper.SetDefault("RATE_LIMIT_USE_REDIS", false)
	viper.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)

	gpuIDs := envList("GPU_IDS", []string{"0"})

	vlmServerURLs := envList("MINERU_VLLM_SERVER_URLS", nil)
	if len(vlmServerURLs) == 0 {
		vlmServerURLs = envList("MINERU_VLLM_SERVER_URL", nil)
	}

	visionModelsByProvider := map[string][]string{
		"openai": envList("VISION_MODELS_OPENAI", []string{"gpt-5-mini"}),
		"gemini": envList("VISION_MODELS_GEMINI", []string{"gemini-2.5-flash"}),
		"vllm":   envList("VISION_MODELS_VLLM", []string{"Qwen/Qwen3-VL-30B-A3B-Instruct-FP8"}),
	}
	visionDefaultModels := map[string]string{
		"openai": firstNonEmpty(os.Getenv("VISION_DEFAULT_MODEL_OPENAI"), "gpt-5-mini"),
		"gemini": firstNonEmpty(os.Getenv("VISION_DEFAULT_MODEL_GEMINI"), "gemini-2.5-flash"),
		"vllm":   firstNonEmpty(os.Getenv("VISION_DEFAULT_MODEL_VLLM"), "Qwen/Qwen3-VL-30B-A3B-Instruct-FP8"),
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         viper.GetString("SERVER_PORT"),
			Host:         viper.GetString("SERVER_HOST"),
			Environment:  viper.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Mongo: MongoDBConfig{
			// Optional: internal/audit no-ops when this is unset, and
			// nothing else in the orchestrator depends on Mongo.
			URI:      os.Getenv("MONGODB_URI"),
			Database: viper.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(viper.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("QUEUE_REDIS_DB", 0),
		},
		GPU: GPUConfig{IDs: gpuIDs},
		Timeouts: TimeoutConfig{
			Global:  envDurationSeconds("MINERU_TASK_HARD_TIMEOUT_SECONDS", 600*time.Second),
			SCI:     envDurationSeconds("MINERU_SCI_HARD_TIMEOUT_SECONDS", 0),
			Images:  envDurationSeconds("MINERU_IMAGES_HARD_TIMEOUT_SECONDS", 0),
			Default: envDurationSeconds("MINERU_DEFAULT_HARD_TIMEOUT_SECONDS", 0),
		},
		Parser: ParserConfig{
			DefaultBackend:      firstNonEmpty(os.Getenv("MINERU_DEFAULT_BACKEND"), "pipeline"),
			DefaultLang:         firstNonEmpty(os.Getenv("MINERU_DEFAULT_LANG"), "en"),
			DefaultMethod:       firstNonEmpty(os.Getenv("MINERU_DEFAULT_METHOD"), "auto"),
			VLLMServerURLs:      vlmServerURLs,
			VLLMAPIKey:          os.Getenv("MINERU_VLLM_API_KEY"),
			VLLMAuthHeader:      os.Getenv("MINERU_VLLM_AUTH_HEADER"),
			SupportedExtensions: envList("MINERU_SUPPORTED_EXTENSIONS", []string{".pdf", ".png", ".jpg", ".jpeg"}),
		},
		Vision: VisionConfig{
			Provider:               os.Getenv("VISION_PROVIDER"),
			Model:                  os.Getenv("VISION_MODEL"),
			ContextWindow:          envInt("VISION_CONTEXT_WINDOW", 2),
			BatchSize:              envInt("VISION_BATCH_SIZE", 4),
			ProviderChoices:        envList("VISION_PROVIDER_CHOICES", []string{"openai", "gemini", "vllm"}),
			ModelsByProvider:       visionModelsByProvider,
			DefaultModelByProvider: visionDefaultModels,
		},
		Queue: QueueConfig{
			ResultTTL: envDurationSeconds("CELERY_RESULT_EXPIRES", 3600*time.Second),

			NormalQueue: firstNonEmpty(os.Getenv("CELERY_TASK_MINERU_QUEUE"), "queue_normal"),
			UrgentQueue: firstNonEmpty(os.Getenv("CELERY_TASK_URGENT_QUEUE"), "queue_urgent"),

			ParseQueue:          firstNonEmpty(os.Getenv("CELERY_TASK_PARSE_QUEUE"), "queue_parse_gpu"),
			ParseUrgentQueue:    firstNonEmpty(os.Getenv("CELERY_TASK_PARSE_URGENT_QUEUE"), "queue_parse_urgent"),
			VisionQueue:         firstNonEmpty(os.Getenv("CELERY_TASK_VISION_QUEUE"), "queue_vision"),
			VisionUrgentQueue:   firstNonEmpty(os.Getenv("CELERY_TASK_VISION_URGENT_QUEUE"), "queue_vision_urgent"),
			DispatchQueue:       firstNonEmpty(os.Getenv("CELERY_TASK_DISPATCH_QUEUE"), "default"),
			DispatchUrgentQueue: firstNonEmpty(os.Getenv("CELERY_TASK_DISPATCH_URGENT_QUEUE"), "queue_dispatch_urgent"),
			MergeQueue:          firstNonEmpty(os.Getenv("CELERY_TASK_MERGE_QUEUE"), "default"),
			MergeUrgentQueue:    firstNonEmpty(os.Getenv("CELERY_TASK_MERGE_URGENT_QUEUE"), "queue_merge_urgent"),
		},
		Workspace: WorkspaceConfig{
			Root: firstNonEmpty(os.Getenv("MINERU_TASK_STORAGE_DIR"), os.TempDir()+"/tiangong_mineru_tasks"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       viper.GetBool("RATE_LIMIT_ENABLED"),
			RPS:           viper.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         viper.GetInt("RATE_LIMIT_BURST"),
			UseRedis:      viper.GetBool("RATE_LIMIT_USE_REDIS"),
			WindowSeconds: viper.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
	}

	return cfg, nil
}
