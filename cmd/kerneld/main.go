// Command kerneld wires a runnable autonomy kernel: an event store, schema
// validator, approval gate, verifier, invariant checker, compensation
// registry and pipeline, backed by real adapters when their connection
// details are present in the environment and in-memory collaborators
// otherwise, then drives one sample tool call through Pipeline.Execute.
//
// Adapted from the teacher's cmd/demo/main.go (a runtime wired end-to-end
// against a stub planner); here the equivalent "stub planner" role is
// played by a single hardcoded ProposedToolCall.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/autonomy-kernel/kernel/adapters/anthropic"
	"github.com/autonomy-kernel/kernel/adapters/mongoarchive"
	adapterpostgres "github.com/autonomy-kernel/kernel/adapters/postgres"
	"github.com/autonomy-kernel/kernel/adapters/rediscache"
	"github.com/autonomy-kernel/kernel/internal/bus"
	"github.com/autonomy-kernel/kernel/internal/telemetry"
	"github.com/autonomy-kernel/kernel/kernel/actionhandler"
	"github.com/autonomy-kernel/kernel/kernel/approval"
	"github.com/autonomy-kernel/kernel/kernel/compensation"
	"github.com/autonomy-kernel/kernel/kernel/eventstore"
	"github.com/autonomy-kernel/kernel/kernel/invariant"
	"github.com/autonomy-kernel/kernel/kernel/kernelstate"
	"github.com/autonomy-kernel/kernel/kernel/pipeline"
	"github.com/autonomy-kernel/kernel/kernel/schema"
	"github.com/autonomy-kernel/kernel/kernel/verifier"
)

const logRunContentsSchema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string"}
	},
	"required": ["path"],
	"additionalProperties": false
}`

func main() {
	ctx := context.Background()
	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics() // configure the global MeterProvider via otel.SetMeterProvider before use

	events, archiveCloser := buildEventStore(ctx, logger, metrics)
	if archiveCloser != nil {
		defer archiveCloser()
	}

	validator := schema.New(schema.Options{Logger: logger, Metrics: metrics})
	if err := validator.Register(schema.ToolContract{
		Name:             "diagnostics.read_logs",
		Version:          "1.0.0",
		InputSchema:      []byte(logRunContentsSchema),
		RiskClass:        schema.RiskReadOnly,
		RequiresApproval: false,
		MaxDuration:      10 * time.Second,
		Idempotent:       true,
	}); err != nil {
		logger.Error(ctx, "kerneld: register tool contract failed", "err", err)
		os.Exit(1)
	}

	approvals, approvalCloser := buildApprovalGate(ctx, logger, metrics)
	if approvalCloser != nil {
		defer approvalCloser()
	}

	actions := actionhandler.NewRegistry()
	actions.RegisterFunc("diagnostics.read_logs", func(_ context.Context, params map[string]any, requestID string) (any, error) {
		path, _ := params["path"].(string)
		return map[string]any{"path": path, "lines": 0, "requestId": requestID}, nil
	})

	v := verifier.New(verifier.Options{})
	if analyzer := buildAnalyzer(); analyzer != nil {
		v.Register("diagnostics.read_logs", verifier.LLMJudgeCheck(analyzer, renderLogCheck, 0.6, 0.3))
	}

	invariants := invariant.New()
	incidents := compensation.NewIncidentManager()
	compReg := compensation.NewRegistry()
	state := kernelstate.New()
	eventBus := bus.New()

	p := pipeline.New(pipeline.Deps{
		Events:       events,
		Validator:    validator,
		Approvals:    approvals,
		Actions:      actions,
		Verifier:     v,
		Invariants:   invariants,
		Compensation: compReg,
		Incidents:    incidents,
		State:        state,
		Bus:          eventBus,
		Logger:       logger,
		Metrics:      metrics,
	}, pipeline.Config{
		AutoApproveReadOnly: true,
		MaxConcurrent:       4,
	})

	result, err := p.Execute(ctx, schema.ProposedToolCall{
		Tool:   "diagnostics.read_logs",
		Params: map[string]any{"path": "/var/log/kernel.log"},
		Source: schema.SourceUser,
	})
	if err != nil {
		logger.Error(ctx, "kerneld: execute failed", "err", err)
		os.Exit(1)
	}
	fmt.Println("success:", result.Success)
	fmt.Println("correlationId:", result.CorrelationID)
	fmt.Println("finalState:", result.FinalState)

	if cache := buildQuarantineCache(); cache != nil {
		size, err := cache.QuarantineSize(ctx)
		if err != nil {
			logger.Warn(ctx, "kerneld: quarantine cache unreachable", "err", err)
		} else {
			fmt.Println("quarantineSize:", size)
		}
	}
}

func renderLogCheck(in verifier.Input) string {
	return fmt.Sprintf("tool %s returned %v for request %s", in.Tool, in.Result, in.RequestID)
}

// buildEventStore wires adapters/mongoarchive as the InMemory ring's
// long-term archive when MONGODB_URI is set, falling back to an
// unarchived in-memory store otherwise.
func buildEventStore(ctx context.Context, logger telemetry.Logger, metrics telemetry.Metrics) (*eventstore.InMemory, func()) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		return eventstore.New(eventstore.Options{Logger: logger, Metrics: metrics}), nil
	}

	client, err := mongo.Connect(mongooptions.Client().ApplyURI(uri))
	if err != nil {
		logger.Warn(ctx, "kerneld: mongo connect failed, falling back to unarchived store", "err", err)
		return eventstore.New(eventstore.Options{Logger: logger, Metrics: metrics}), nil
	}
	archive, err := mongoarchive.New(ctx, mongoarchive.Options{
		Client:   client,
		Database: envOr("MONGODB_DATABASE", "autonomy_kernel"),
	})
	if err != nil {
		logger.Warn(ctx, "kerneld: mongo archive setup failed, falling back to unarchived store", "err", err)
		_ = client.Disconnect(ctx)
		return eventstore.New(eventstore.Options{Logger: logger, Metrics: metrics}), nil
	}
	store := eventstore.New(eventstore.Options{Logger: logger, Metrics: metrics, Archive: archive})
	return store, func() { _ = client.Disconnect(ctx) }
}

// buildApprovalGate wires adapters/postgres as the approval gate's
// persistence when DATABASE_URL is set, falling back to an unpersisted
// in-memory gate otherwise.
func buildApprovalGate(ctx context.Context, logger telemetry.Logger, metrics telemetry.Metrics) (approval.Gate, func()) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return approval.NewInMemory(approval.Options{Logger: logger, Metrics: metrics}), nil
	}

	store, err := adapterpostgres.New(ctx, dsn)
	if err != nil {
		logger.Warn(ctx, "kerneld: postgres connect failed, falling back to unpersisted approval gate", "err", err)
		return approval.NewInMemory(approval.Options{Logger: logger, Metrics: metrics}), nil
	}
	gate, err := approval.NewPersistent(ctx, approval.PersistentOptions{Store: store, Logger: logger, Metrics: metrics})
	if err != nil {
		logger.Warn(ctx, "kerneld: persistent approval gate setup failed, falling back to unpersisted gate", "err", err)
		store.Close()
		return approval.NewInMemory(approval.Options{Logger: logger, Metrics: metrics}), nil
	}
	return gate, func() { store.Close() }
}

// buildAnalyzer wires adapters/anthropic's LLM-backed consistency judge
// when ANTHROPIC_API_KEY is set; otherwise it returns nil and no
// post-condition check is registered for the sample tool.
func buildAnalyzer() verifier.Analyzer {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil
	}
	model := envOr("ANTHROPIC_MODEL", string(sdk.ModelClaudeSonnet4_5_20250929))
	analyzer, err := anthropic.NewFromAPIKey(apiKey, model)
	if err != nil {
		return nil
	}
	return analyzer
}

// buildQuarantineCache builds an adapters/rediscache quarantine cache when
// REDIS_ADDR is set. No trust MemoryGate is built here and the cache is not
// attached to one; the sample run above only reports its size once as a
// smoke check that the adapter can reach a live redis.Client.
func buildQuarantineCache() *rediscache.Cache {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	cache, err := rediscache.New(rediscache.Options{Redis: client})
	if err != nil {
		return nil
	}
	return cache
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
