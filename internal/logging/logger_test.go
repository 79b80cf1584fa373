package logging

import (
	"context"
	"testing"

	"github.com/Spok95/streampoints/internal/ctxutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWith_ContextFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx := ctxutil.WithOp(ctxutil.WithIngestionID(ctxutil.WithTenant(context.Background(), "shop"), "id-1"), "ingest")

	With(ctx, zap.New(core)).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries=%d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["tenant"] != "shop" || fields["ingestion_id"] != "id-1" || fields["op"] != "ingest" {
		t.Fatalf("fields=%v", fields)
	}
}

func TestInit_BadLevelFallsBackToInfo(t *testing.T) {
	l, err := Init("chatty", "dev")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Closer()
	if l.Level.Level() != zap.InfoLevel {
		t.Fatalf("level=%v", l.Level.Level())
	}
}
