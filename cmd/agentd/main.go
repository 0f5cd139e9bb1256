// Command agentd is the process wiring that collapses the teacher's
// cmd/server + cmd/worker split into one binary: an HTTP ingress
// accepting turns, a Redis-stream worker draining them, and both driving
// the same set of per-session Orchestrators.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"agentcore/common/id"
	"agentcore/common/logger"
	otelsetup "agentcore/common/otel"
	"agentcore/core/config"
	"agentcore/internal/domain"
	"agentcore/internal/eventbus"
	"agentcore/internal/executor"
	"agentcore/internal/hooks"
	"agentcore/internal/httpapi"
	"agentcore/internal/llm"
	"agentcore/internal/orchestrator"
	"agentcore/internal/permission"
	"agentcore/internal/planner"
	"agentcore/internal/queue"
	"agentcore/internal/sandbox"
	"agentcore/internal/scheduler"
	"agentcore/internal/session"
	"agentcore/internal/tools"
	"agentcore/internal/workingstate"
)

const (
	shutdownTimeout     = 30 * time.Second
	contextWindowTokens = 128_000
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger.Setup(cfg)

	telemetry, err := otelsetup.Setup(ctx, cfg.OTel)
	if err != nil {
		slog.ErrorContext(ctx, "failed to set up telemetry", "error", err)
		os.Exit(1)
	}
	if telemetry != nil {
		defer func() { _ = telemetry.Shutdown(context.Background()) }()
	}

	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.QueueStream)

	bus := eventbus.New()

	runners, err := buildRunners(cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build agent clients", "error", err)
		os.Exit(1)
	}

	compactClient := runners[domain.AgentCode].Client

	hookRunner := hooks.NewRunner(hooks.Config{
		Timeout: time.Duration(cfg.HookTimeoutSeconds) * time.Second,
	}, nil)

	wsStore := workingstate.NewStore(cfg.WorkingStateDir)

	recorder, err := session.NewRecorder(cfg.SessionDir)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open session recorder", "error", err)
		os.Exit(1)
	}
	defer recorder.Close()

	factory := func(sessionID string) *orchestrator.Orchestrator {
		reg, regErr := tools.NewStandardRegistry(".", sandbox.New(sandboxHost(cfg), cfg.SandboxEnabled), tools.AutoApprove)
		if regErr != nil {
			slog.ErrorContext(ctx, "failed to build tool registry", "session_id", sessionID, "error", regErr)
			reg = tools.NewRegistry(tools.AutoApprove)
		}

		tracer := eventbus.NewTracer(bus, sessionID)
		loop := executor.New(reg, hookRunner, bus, tracer, permission.ModeAuto, contextWindowTokens)
		loop.DebugDir = cfg.DebugDir
		sch := scheduler.NewScheduler(loop, sessionRunners(runners, bus, recorder), true)

		pl := planner.NewPlanner(&session.RecordingClient{Inner: runners[domain.AgentOrchestrator].Client, Recorder: recorder})
		pl.DebugDir = cfg.DebugDir

		return orchestrator.New(orchestrator.Config{
			ContextWindowTokens: contextWindowTokens,
			WorkingStateKey:     sessionID,
			SessionID:           sessionID,
		}, pl, sch, wsStore, compactClient, hookRunner)
	}

	producer := queue.NewRedisProducer(redisClient, cfg.QueueStream)
	defer producer.Close()

	router := httpapi.NewRouter(httpapi.Config{ServiceName: cfg.OTel.ServiceName}, factory, producer, bus)
	httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: router}

	consumer, err := queue.NewRedisConsumer(ctx, redisClient, queue.ConsumerConfig{
		Stream:       cfg.QueueStream,
		Group:        cfg.QueueGroup,
		Consumer:     cfg.QueueGroup + "-1",
		DLQStream:    cfg.QueueStream + ":dlq",
		BatchSize:    1,
		Block:        5 * time.Second,
		MaxAttempts:  3,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create queue consumer", "error", err)
		os.Exit(1)
	}

	worker := queue.NewWorker(consumer, func(turnCtx context.Context, msg queue.TurnMessage) error {
		o := factory(msg.SessionID)
		_, turnErr := o.HandleTurn(turnCtx, msg.UserInput)
		return turnErr
	})

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		slog.InfoContext(ctx, "http server listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "http server failed", "error", err)
		}
	}()

	go func() {
		defer wg.Done()
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.ErrorContext(ctx, "queue worker stopped", "error", err)
		}
	}()

	<-ctx.Done()
	slog.InfoContext(context.Background(), "shutdown signal received, initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown failed", "error", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.InfoContext(context.Background(), "graceful shutdown completed")
	case <-time.After(shutdownTimeout):
		slog.WarnContext(context.Background(), "shutdown timeout exceeded, forcing exit")
	}
}

func sandboxHost(cfg config.Config) sandbox.Host {
	if cfg.SandboxProfile == string(sandbox.HostLinux) {
		return sandbox.HostLinux
	}
	if cfg.SandboxProfile == string(sandbox.HostMacOS) {
		return sandbox.HostMacOS
	}
	if runtime.GOOS == "darwin" {
		return sandbox.HostMacOS
	}
	return sandbox.HostLinux
}

// buildRunners constructs one LLM client per agent kind plus a static
// profile (§3's "each kind has a static permission bitset, default/max
// timeouts, and a sandbox profile").
func buildRunners(cfg config.Config) (map[domain.AgentKind]scheduler.KindRunner, error) {
	specs := []struct {
		kind    domain.AgentKind
		llmCfg  llm.Config
		profile domain.AgentProfile
	}{
		{domain.AgentOrchestrator, cfg.Planner, profileFor(domain.AgentOrchestrator)},
		{domain.AgentSearch, cfg.Search, profileFor(domain.AgentSearch)},
		{domain.AgentResearch, cfg.Research, profileFor(domain.AgentResearch)},
		{domain.AgentCode, cfg.Code, profileFor(domain.AgentCode)},
		{domain.AgentReview, cfg.Review, profileFor(domain.AgentReview)},
		{domain.AgentTest, cfg.Test, profileFor(domain.AgentTest)},
		{domain.AgentDocs, cfg.Docs, profileFor(domain.AgentDocs)},
		{domain.AgentQA, cfg.QA, profileFor(domain.AgentQA)},
		{domain.AgentInit, cfg.Init, profileFor(domain.AgentInit)},
	}

	runners := make(map[domain.AgentKind]scheduler.KindRunner, len(specs))
	for _, s := range specs {
		client, err := s.llmCfg.Build()
		if err != nil {
			return nil, fmt.Errorf("building %s client: %w", s.kind, err)
		}
		runners[s.kind] = scheduler.KindRunner{Client: client, Profile: s.profile}
	}
	return runners, nil
}

// sessionRunners wraps each kind's client in a RecordingClient so every
// exchange is captured for replay; profiles are copied unchanged. The bus
// argument is not used.
func sessionRunners(base map[domain.AgentKind]scheduler.KindRunner, bus *eventbus.Bus, recorder *session.Recorder) map[domain.AgentKind]scheduler.KindRunner {
	out := make(map[domain.AgentKind]scheduler.KindRunner, len(base))
	for kind, runner := range base {
		out[kind] = scheduler.KindRunner{
			Client:  &session.RecordingClient{Inner: runner.Client, Recorder: recorder},
			Profile: runner.Profile,
		}
	}
	return out
}

// profileFor returns the static profile for kind (§3: permission bitset,
// timeouts, sandbox profile per AgentKind).
func profileFor(kind domain.AgentKind) domain.AgentProfile {
	switch kind {
	case domain.AgentOrchestrator:
		return domain.AgentProfile{Kind: kind, Permissions: domain.PermissionSet{Read: true}, MaxTurns: 1, Timeouts: domain.AgentTimeouts{DefaultSeconds: 30, MaxSeconds: 60}, ExcludeProjectContext: true}
	case domain.AgentSearch:
		return domain.AgentProfile{Kind: kind, Permissions: domain.PermissionSet{Read: true}, MaxTurns: 8, Timeouts: domain.AgentTimeouts{DefaultSeconds: 60, MaxSeconds: 120}}
	case domain.AgentResearch:
		return domain.AgentProfile{Kind: kind, Permissions: domain.PermissionSet{Read: true, Web: true}, MaxTurns: 10, Timeouts: domain.AgentTimeouts{DefaultSeconds: 90, MaxSeconds: 180}, ModelSuffix: "online", SelfAssessment: true}
	case domain.AgentCode:
		return domain.AgentProfile{Kind: kind, Permissions: domain.PermissionSet{Read: true, Write: true, Execute: true}, MaxTurns: 20, Timeouts: domain.AgentTimeouts{DefaultSeconds: 180, MaxSeconds: 600}}
	case domain.AgentReview:
		return domain.AgentProfile{Kind: kind, Permissions: domain.PermissionSet{Read: true}, MaxTurns: 10, Timeouts: domain.AgentTimeouts{DefaultSeconds: 90, MaxSeconds: 240}}
	case domain.AgentTest:
		return domain.AgentProfile{Kind: kind, Permissions: domain.PermissionSet{Read: true, Execute: true}, MaxTurns: 12, Timeouts: domain.AgentTimeouts{DefaultSeconds: 120, MaxSeconds: 360}}
	case domain.AgentDocs:
		return domain.AgentProfile{Kind: kind, Permissions: domain.PermissionSet{Read: true, Write: true}, MaxTurns: 10, Timeouts: domain.AgentTimeouts{DefaultSeconds: 60, MaxSeconds: 180}}
	case domain.AgentQA:
		return domain.AgentProfile{Kind: kind, Permissions: domain.PermissionSet{Read: true, Execute: true}, MaxTurns: 10, Timeouts: domain.AgentTimeouts{DefaultSeconds: 90, MaxSeconds: 240}}
	case domain.AgentInit:
		return domain.AgentProfile{Kind: kind, Permissions: domain.PermissionSet{Read: true, Write: true, Execute: true}, MaxTurns: 15, Timeouts: domain.AgentTimeouts{DefaultSeconds: 120, MaxSeconds: 300}}
	default:
		return domain.AgentProfile{Kind: kind, Permissions: domain.PermissionSet{Read: true}, MaxTurns: 5, Timeouts: domain.AgentTimeouts{DefaultSeconds: 30, MaxSeconds: 60}}
	}
}
