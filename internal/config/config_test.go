package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	os.Setenv("MONGODB_URI", "mongodb://localhost:27017/testdb")
	os.Setenv("MONGODB_DATABASE", "mineru_test")
	os.Setenv("REDIS_HOST", "localhost")
	os.Setenv("REDIS_PORT", "6379")
	os.Setenv("RATE_LIMIT_ENABLED", "true")
	os.Setenv("RATE_LIMIT_RPS", "7")
	os.Setenv("RATE_LIMIT_BURST", "12")
	os.Setenv("GPU_IDS", "0,1,2")
	os.Setenv("MINERU_TASK_HARD_TIMEOUT_SECONDS", "120")
	os.Setenv("MINERU_SCI_HARD_TIMEOUT_SECONDS", "300")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Mongo.URI == "" || cfg.Redis.Host == "" {
		t.Fatalf("unexpected empty config values: %+v", cfg)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.RPS != 7 || cfg.RateLimit.Burst != 12 {
		t.Fatalf("rate limit not loaded correctly: %+v", cfg.RateLimit)
	}
	if len(cfg.GPU.IDs) != 3 {
		t.Fatalf("expected 3 gpu ids, got %v", cfg.GPU.IDs)
	}
	if cfg.Timeouts.Global != 120*time.Second {
		t.Fatalf("expected global timeout 120s, got %v", cfg.Timeouts.Global)
	}
	if cfg.Timeouts.ForPipeline("sci") != 300*time.Second {
		t.Fatalf("expected sci override 300s, got %v", cfg.Timeouts.ForPipeline("sci"))
	}
	if cfg.Timeouts.ForPipeline("images") != 120*time.Second {
		t.Fatalf("expected images to fall back to global, got %v", cfg.Timeouts.ForPipeline("images"))
	}
}

func TestLoadConfig_MongoURIOptional(t *testing.T) {
	os.Unsetenv("MONGODB_URI")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Mongo.URI != "" {
		t.Fatalf("expected empty Mongo URI when unset, got %q", cfg.Mongo.URI)
	}
}

func TestParserDefaultsApplyWithoutEnv(t *testing.T) {
	os.Setenv("MONGODB_URI", "mongodb://localhost:27017/testdb")
	os.Unsetenv("MINERU_DEFAULT_BACKEND")
	os.Unsetenv("MINERU_SUPPORTED_EXTENSIONS")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Parser.DefaultBackend != "pipeline" {
		t.Fatalf("expected default backend 'pipeline', got %q", cfg.Parser.DefaultBackend)
	}
	if len(cfg.Parser.SupportedExtensions) != 4 {
		t.Fatalf("expected 4 default supported extensions, got %v", cfg.Parser.SupportedExtensions)
	}
}
