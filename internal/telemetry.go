package internal

import (
	"context"
	"sync"
)

// telemetry.go
// Lightweight telemetry hook layer for the upload pipeline. Callers may
// register a real emitter (or a test stub) via RegisterTelemetryEmitter; the
// default is a no-op so no metrics SDK is required.

type telemetryEmitter func(ctx context.Context, name string, labels map[string]string, value any)

var (
	teleMu   sync.Mutex
	teleImpl telemetryEmitter = func(ctx context.Context, name string, labels map[string]string, value any) {
		// noop by default
	}
)

// RegisterTelemetryEmitter registers a custom emitter function. Passing nil
// restores the no-op emitter.
func RegisterTelemetryEmitter(fn telemetryEmitter) {
	teleMu.Lock()
	defer teleMu.Unlock()
	if fn == nil {
		teleImpl = func(ctx context.Context, name string, labels map[string]string, value any) {}
		return
	}
	teleImpl = fn
}

func emit(ctx context.Context, name string, labels map[string]string, value any) {
	teleMu.Lock()
	fn := teleImpl
	teleMu.Unlock()
	fn(ctx, name, labels, value)
}

// EmitUploadLatency records end-to-end latency (milliseconds) for one stage
// of upload processing.
func EmitUploadLatency(ctx context.Context, stage string, ms int64) {
	emit(ctx, "upload_latency_histogram", map[string]string{"stage": stage}, ms)
}

// EmitClassification counts storage decisions per kind.
func EmitClassification(ctx context.Context, kind string) {
	emit(ctx, "classification_count", map[string]string{"kind": kind}, int64(1))
}

// EmitRowsInserted records rows written per target table.
func EmitRowsInserted(ctx context.Context, table string, rows int64) {
	emit(ctx, "rows_inserted", map[string]string{"table": table}, rows)
}
