// Command graphexecd is the Execution Manager process: it exposes
// add_execution/cancel_execution over HTTP, drives the graph-worker
// pool, and releases every held credential lock on shutdown (§4.5, §6).
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowstack/graphexec/blocks"
	"github.com/flowstack/graphexec/engine"
	"github.com/flowstack/graphexec/engine/creds"
	"github.com/flowstack/graphexec/engine/emit"
	"github.com/flowstack/graphexec/engine/lock"
	"github.com/flowstack/graphexec/engine/model"
	"github.com/flowstack/graphexec/engine/model/anthropic"
	"github.com/flowstack/graphexec/engine/model/google"
	"github.com/flowstack/graphexec/engine/model/openai"
	"github.com/flowstack/graphexec/engine/notify"
	"github.com/flowstack/graphexec/engine/store"
)

func main() {
	cfg := engine.Apply(
		engine.WithNumGraphWorkers(envInt("GRAPH_WORKERS", 4)),
		engine.WithNumNodeWorkers(envInt("NODE_WORKERS", 8)),
		engine.WithExecutionManagerPort(envInt("PORT", 8080)),
		engine.WithFrontendBaseURL(envOr("FRONTEND_BASE_URL", "https://app.example.com")),
		engine.WithPlatformBaseURL(envOr("PLATFORM_BASE_URL", "https://platform.example.com/billing")),
		engine.WithScratchDir(envOr("SCRATCH_DIR", os.TempDir())),
		engine.WithMetrics(engine.NewPrometheusMetrics(nil)),
	)

	emitter := emit.NewLogEmitter(os.Stdout, envOr("LOG_FORMAT", "text") == "json")
	notifier := notify.NewLogNotifier(os.Stdout)

	locker, err := lock.OpenBadgerLocker(envOr("LOCK_DB_DIR", ""))
	if err != nil {
		log.Fatalf("graphexecd: open lock backend: %v", err)
	}
	defer locker.Close()

	credStore := creds.NewMemStore(locker, builtinCredentials())
	st := store.NewMemStore()

	catalog := blocks.NewCatalog(
		blocks.NewInputBlock("builtin-input"),
		blocks.NewOutputBlock("builtin-output"),
		blocks.NewWebhookBlock("builtin-webhook", false),
		blocks.NewNoteBlock("builtin-note"),
		blocks.NewLLMBlock("builtin-llm-openai", "api_credentials", func(apiKey string) model.ChatModel {
			return openai.NewChatModel(apiKey, "")
		}, 1),
		blocks.NewLLMBlock("builtin-llm-anthropic", "api_credentials", func(apiKey string) model.ChatModel {
			return anthropic.NewChatModel(apiKey, "")
		}, 1),
		blocks.NewLLMBlock("builtin-llm-google", "api_credentials", func(apiKey string) model.ChatModel {
			return google.NewChatModel(apiKey, "")
		}, 1),
	)

	costMeter := engine.NewCostMeter(st, notifier, billingURL(cfg))
	resolver := engine.NewResolver(catalog, st, locker, emitter)
	executor := engine.NewExecutor(catalog, st, credStore, emitter, resolver, costMeter)
	scheduler := engine.NewScheduler(st, executor, costMeter, emitter, notifier, cfg.NumNodeWorkers, cfg.ScratchDir, cfg.Metrics)

	manager := engine.NewManager(engine.ManagerConfig{
		Store:           st,
		Creds:           credStore,
		Emitter:         emitter,
		Notifier:        notifier,
		Catalog:         catalog,
		Scheduler:       scheduler,
		NumGraphWorkers: cfg.NumGraphWorkers,
	})

	router := gin.Default()
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "graphexecd"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/v1/executions", newAddExecutionHandler(manager))
	router.POST("/v1/executions/:id/cancel", newCancelExecutionHandler(manager))

	srv := &http.Server{Addr: ":" + strconv.Itoa(cfg.ExecutionManagerPort), Handler: router}

	go func() {
		log.Printf("graphexecd: listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("graphexecd: server failed: %v", err)
		}
	}()

	waitForShutdown(srv, credStore)
}

// addExecutionRequest is the wire shape of POST /v1/executions.
type addExecutionRequest struct {
	GraphID      string         `json:"graph_id" binding:"required"`
	UserID       string         `json:"user_id" binding:"required"`
	GraphVersion int            `json:"graph_version"`
	PresetID     string         `json:"preset_id"`
	Data         map[string]any `json:"data"`
}

func newAddExecutionHandler(manager *engine.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addExecutionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ge, err := manager.AddExecution(c.Request.Context(), req.GraphID, engine.Data(req.Data), req.UserID, req.GraphVersion, req.PresetID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"graph_exec_id": ge.ID, "status": ge.Status})
	}
}

func newCancelExecutionHandler(manager *engine.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := manager.CancelExecution(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "terminated"})
	}
}

// waitForShutdown blocks on SIGTERM/SIGINT, then drains the HTTP
// server and releases every credential lock still held, so a restart
// never leaves a dead holder blocking a live one (§5, §6).
func waitForShutdown(srv *http.Server, credStore creds.Store) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh

	log.Printf("graphexecd: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graphexecd: http shutdown: %v", err)
	}
	if err := credStore.ReleaseAllLocks(ctx); err != nil {
		log.Printf("graphexecd: release credential locks: %v", err)
	}
}

// billingURL picks the base URL the LOW_BALANCE notification's billing
// link is built from: frontend preferred, platform fallback (§6).
func billingURL(cfg engine.Config) string {
	if cfg.FrontendBaseURL != "" {
		return cfg.FrontendBaseURL
	}
	return cfg.PlatformBaseURL
}

func builtinCredentials() map[string]creds.Credential {
	return map[string]creds.Credential{}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
