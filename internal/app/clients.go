package app

import (
	"context"
	"fmt"

	"github.com/gong8/cramkit-sub000/internal/platform/logger"
	"github.com/gong8/cramkit-sub000/internal/platform/neo4jdb"
	"github.com/gong8/cramkit-sub000/internal/platform/openai"
	"github.com/gong8/cramkit-sub000/internal/realtime/bus"
)

type Clients struct {
	AI    openai.Client
	Graph *neo4jdb.Client
	Bus   bus.Bus
}

func wireClients(log *logger.Logger) (Clients, error) {
	log.Info("Wiring clients...")

	ai, err := openai.NewClient(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init openai client: %w", err)
	}

	// Nil when NEO4J_URI is unset; graph-backed steps degrade.
	graph, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init neo4j client: %w", err)
	}

	// Nil when REDIS_ADDR is unset; SSE stays single-process.
	sseBus, err := bus.NewFromEnv(log)
	if err != nil {
		if graph != nil {
			_ = graph.Close(context.Background())
		}
		return Clients{}, fmt.Errorf("init redis SSE bus: %w", err)
	}

	return Clients{AI: ai, Graph: graph, Bus: sseBus}, nil
}

func (c *Clients) Close(ctx context.Context) {
	if c == nil {
		return
	}
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
	if c.Graph != nil {
		_ = c.Graph.Close(ctx)
	}
}
