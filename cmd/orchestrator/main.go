// Command orchestrator is the service entrypoint: it wires the GPU
// Scheduler, Task Queue, Vision Adapter, and object store into both a Gin
// HTTP façade and an asynq worker server running in the same process. A
// re-exec'd invocation of this same binary also serves as the GPU
// Scheduler's supervised parse-child process; that path is handled first
// and never reaches the rest of main.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/tiangong-mineru/orchestrator/internal/config"
	"github.com/tiangong-mineru/orchestrator/internal/database"
	"github.com/tiangong-mineru/orchestrator/internal/gpu"
	"github.com/tiangong-mineru/orchestrator/internal/httpapi"
	"github.com/tiangong-mineru/orchestrator/internal/mineru"
	"github.com/tiangong-mineru/orchestrator/internal/parser"
	"github.com/tiangong-mineru/orchestrator/internal/taskqueue"
	"github.com/tiangong-mineru/orchestrator/internal/vision"
	"github.com/tiangong-mineru/orchestrator/internal/visionclient"
	"github.com/tiangong-mineru/orchestrator/internal/worker"
	"github.com/tiangong-mineru/orchestrator/pkg/logger"
	"github.com/tiangong-mineru/orchestrator/pkg/metrics"
	"github.com/tiangong-mineru/orchestrator/pkg/middleware"
)

var startTime = time.Now()

func main() {
	// The GPU Scheduler re-execs this binary as a supervised parse child.
	// That path decodes a request on stdin, parses, writes a response on
	// stdout, and exits — it must run before anything else in main.
	if gpu.MaybeRunChild() {
		return
	}

	logger.Init(os.Getenv("LOG_LEVEL"))
	logger.Infof("orchestrator: starting up")

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	parser.Implementation = mineru.Run

	if err := os.MkdirAll(cfg.Workspace.Root, 0o755); err != nil {
		logger.Fatalf("failed to create workspace root %s: %v", cfg.Workspace.Root, err)
	}

	scheduler := gpu.New(cfg.GPU.IDs, cfg.Timeouts)

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB}
	queue := taskqueue.New(redisOpt, cfg.Queue.NormalQueue, cfg.Queue.UrgentQueue, cfg.Queue.ResultTTL)
	for _, name := range []string{
		cfg.Queue.ParseQueue, cfg.Queue.ParseUrgentQueue,
		cfg.Queue.VisionQueue, cfg.Queue.VisionUrgentQueue,
		cfg.Queue.DispatchQueue, cfg.Queue.DispatchUrgentQueue,
		cfg.Queue.MergeQueue, cfg.Queue.MergeUrgentQueue,
	} {
		queue.RegisterQueue(name)
	}
	defer queue.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Warnf("orchestrator: redis ping failed at %s: %v", cfg.Redis.Addr(), err)
	}

	visionRegistry := buildVisionRegistry(cfg.Vision)
	visionAdapter := &vision.Adapter{Registry: visionRegistry, Completer: visionclient.Complete}

	connectMongoWithRetry(cfg.Mongo)

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)

	mux := worker.NewMux(worker.Deps{
		Scheduler:     scheduler,
		Queue:         queue,
		Redis:         redisClient,
		VisionAdapter: visionAdapter,
		SupportedExt:  cfg.Parser.SupportedExtensions,
		MongoURI:      cfg.Mongo.URI,
		MongoDatabase: cfg.Mongo.Database,
		Cfg:           cfg,
	})

	asynqSrv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: len(cfg.GPU.IDs) * 2,
		Queues:      asynqQueuePriorities(cfg),
	})
	go func() {
		if err := asynqSrv.Run(mux); err != nil {
			logger.Fatalf("orchestrator: asynq server failed: %v", err)
		}
	}()
	defer asynqSrv.Shutdown()

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	})
	r.Use(gin.Logger(), gin.Recovery())

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(redisClient, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", func(c *gin.Context) {
		deps := gin.H{
			"redis": redisClient.Ping(c.Request.Context()).Err() == nil,
			"queue": true,
		}
		ready := true
		for _, ok := range deps {
			if b, isBool := ok.(bool); isBool && !b {
				ready = false
			}
		}
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": readyLabel(ready), "deps": deps, "uptime": time.Since(startTime).String()})
	})

	h := &httpapi.Handlers{Cfg: cfg, Scheduler: scheduler, Queue: queue, Redis: redisClient}
	h.Register(r)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.Infof("orchestrator: listening on %s", addr)
	go func() {
		if err := r.Run(addr); err != nil {
			logger.Fatalf("orchestrator: http server failed: %v", err)
		}
	}()

	select {}
}

func readyLabel(ready bool) string {
	if ready {
		return "ready"
	}
	return "not_ready"
}

func asynqQueuePriorities(cfg *config.Config) map[string]int {
	return map[string]int{
		cfg.Queue.UrgentQueue:         6,
		cfg.Queue.NormalQueue:         3,
		cfg.Queue.ParseUrgentQueue:    6,
		cfg.Queue.ParseQueue:          3,
		cfg.Queue.VisionUrgentQueue:   6,
		cfg.Queue.VisionQueue:         3,
		cfg.Queue.DispatchUrgentQueue: 6,
		cfg.Queue.DispatchQueue:       3,
		cfg.Queue.MergeUrgentQueue:    6,
		cfg.Queue.MergeQueue:          3,
	}
}

// buildVisionRegistry turns the configured provider allow-list into
// vision.ProviderSpecs, each backed by its own env-var credential and
// base-URL set.
func buildVisionRegistry(v config.VisionConfig) *vision.Registry {
	specs := make([]vision.ProviderSpec, 0, len(v.ProviderChoices))
	for _, name := range v.ProviderChoices {
		spec := vision.ProviderSpec{
			Name:         name,
			Models:       v.ModelsByProvider[name],
			DefaultModel: v.DefaultModelByProvider[name],
		}
		switch name {
		case "openai":
			spec.APIKey = os.Getenv("OPENAI_API_KEY")
			spec.BaseURLs = []string{firstNonEmpty(os.Getenv("OPENAI_BASE_URL"), "https://api.openai.com/v1")}
			key := spec.APIKey
			spec.HasCreds = func() bool { return key != "" }
		case "gemini":
			spec.APIKey = os.Getenv("GEMINI_API_KEY")
			spec.BaseURLs = []string{firstNonEmpty(os.Getenv("GEMINI_BASE_URL"), "https://generativelanguage.googleapis.com/v1beta/openai")}
			key := spec.APIKey
			spec.HasCreds = func() bool { return key != "" }
		case "vllm":
			urls := envList(os.Getenv("VISION_VLLM_SERVER_URLS"))
			spec.BaseURLs = urls
			spec.APIKey = os.Getenv("VISION_VLLM_API_KEY")
			spec.HasCreds = func() bool { return len(urls) > 0 }
		}
		specs = append(specs, spec)
	}
	return vision.NewRegistry(v.Provider, specs)
}

func envList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// connectMongoWithRetry mirrors the teacher's five-attempt exponential
// backoff connection check; the result is only used to warn on startup
// since the audit ledger degrades to a no-op when Mongo is unreachable.
func connectMongoWithRetry(cfg config.MongoDBConfig) {
	if cfg.URI == "" {
		return
	}
	const maxAttempts = 5
	backoff := time.Second
	var client *mongo.Client
	var err error
	ctx := context.Background()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		client, err = database.ConnectMongo(ctx, cfg.URI, cfg.Timeout)
		if err == nil {
			break
		}
		logger.Warnf("orchestrator: attempt %d/%d: mongo connect failed: %v", attempt, maxAttempts, err)
		if attempt < maxAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	if err != nil {
		logger.Warnf("orchestrator: mongo unreachable after %d attempts, audit ledger disabled: %v", maxAttempts, err)
		return
	}
	_ = client.Disconnect(ctx)
	logger.Infof("orchestrator: mongo reachable at startup")
}
