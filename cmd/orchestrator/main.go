// Command orchestrator runs the Kafka-backed orchestrator loop against a
// single registered node graph, wiring the flag-configured broker, store, and
// observability backends together. A real deployment would compile its graph
// from a host application instead of the single-node demo graph below — the
// function-to-graph compilation layer is out of scope for this module — but
// the process wiring (flags, signal handling, metrics endpoint) is complete.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/kflowdev/kflow/broker"
	"github.com/kflowdev/kflow/graph"
	"github.com/kflowdev/kflow/graph/emit"
	"github.com/kflowdev/kflow/graph/store"
	"github.com/kflowdev/kflow/orchestrator"
	"github.com/kflowdev/kflow/proto"
	"github.com/kflowdev/kflow/retry"
)

// Payload is the demo state type: an opaque JSON document passed through to
// whichever single node this process registers. Real deployments define
// their own state struct and wire their own graph.
type Payload struct {
	Data map[string]any `json:"data"`
}

func reducer(prev Payload, delta Payload) Payload {
	if delta.Data != nil {
		prev.Data = delta.Data
	}
	return prev
}

func main() {
	var (
		brokers     = flag.String("brokers", "localhost:9092", "comma-separated Kafka broker addresses")
		groupID     = flag.String("group-id", "orchestrator", "consumer group id")
		topicOrch   = flag.String("topic-orchestrator", "orchestrator", "input topic name")
		topicExec   = flag.String("topic-executor", "executor", "executor dispatch topic name")
		topicError  = flag.String("topic-error", "error", "error topic name")
		batchMaxN   = flag.Int("batch-max-n", 10, "maximum records per polled batch")
		batchMaxMS  = flag.Int("batch-max-ms", 1000, "maximum milliseconds to wait for a batch to fill")
		maxAttempts = flag.Int("retry-max-attempts", 1, "maximum attempts per message (1 disables retry)")
		storeKind   = flag.String("store", "memory", "checkpoint store backend: memory, sqlite, mysql")
		storeDSN    = flag.String("store-dsn", "", "DSN/path for sqlite or mysql store backends")
		metricsAddr = flag.String("metrics-addr", ":9090", "address to serve /metrics on")
		startNode   = flag.String("start-node", "passthrough", "node id the graph starts at")
	)
	flag.Parse()

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	otel.SetTracerProvider(tp)

	st, err := openStore(*storeKind, *storeDSN)
	if err != nil {
		log.Fatalf("orchestrator: open store: %v", err)
	}

	registry := prometheus.NewRegistry()
	loopMetrics := orchestrator.NewMetrics(registry)

	emitter := emit.NewOTelEmitter(otel.Tracer("kflow/graph"))
	eng := graph.New[Payload](reducer, st, emitter)

	passthrough := graph.NodeFunc[Payload](func(_ context.Context, s Payload) graph.NodeResult[Payload] {
		return graph.NodeResult[Payload]{Delta: s, Route: graph.Stop()}
	})
	if err := eng.Add(*startNode, passthrough); err != nil {
		log.Fatalf("orchestrator: register start node: %v", err)
	}
	if err := eng.StartAt(*startNode); err != nil {
		log.Fatalf("orchestrator: set start node: %v", err)
	}

	consumer, err := broker.NewKafkaConsumer(splitBrokers(*brokers), *topicOrch, *groupID)
	if err != nil {
		log.Fatalf("orchestrator: dial consumer: %v", err)
	}
	producer, err := broker.NewKafkaProducer(splitBrokers(*brokers))
	if err != nil {
		log.Fatalf("orchestrator: dial producer: %v", err)
	}

	topics := proto.Topics{Orchestrator: *topicOrch, Executor: *topicExec, Error: *topicError}

	loop, err := orchestrator.New[Payload](eng, st, consumer, producer, topics,
		orchestrator.WithGroupID[Payload](*groupID),
		orchestrator.WithBatchMaxN[Payload](*batchMaxN),
		orchestrator.WithBatchMaxMS[Payload](time.Duration(*batchMaxMS)*time.Millisecond),
		orchestrator.WithRetryPolicy[Payload](retry.Policy{
			MaxAttempts:    *maxAttempts,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			Multiplier:     2,
			JitterFraction: 0.2,
		}),
		orchestrator.WithLoopMetrics[Payload](loopMetrics),
		orchestrator.WithTracer[Payload](otel.Tracer("kflow/orchestrator")),
	)
	if err != nil {
		log.Fatalf("orchestrator: construct loop: %v", err)
	}

	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			log.Printf("orchestrator: metrics server stopped: %v", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("orchestrator: loop exited: %v", err)
	}
}

func splitBrokers(s string) []string {
	return strings.Split(s, ",")
}

func openStore(kind, dsn string) (store.Store[Payload], error) {
	switch kind {
	case "memory":
		return store.NewMemStore[Payload](), nil
	case "sqlite":
		if dsn == "" {
			return nil, fmt.Errorf("store-dsn is required for the sqlite backend")
		}
		return store.NewSQLiteStore[Payload](dsn)
	case "mysql":
		if dsn == "" {
			return nil, fmt.Errorf("store-dsn is required for the mysql backend")
		}
		return store.NewMySQLStore[Payload](dsn)
	default:
		return nil, fmt.Errorf("unknown store backend %q", kind)
	}
}

