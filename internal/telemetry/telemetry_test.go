package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

func TestPrometheusRecorder(t *testing.T) {
	before := testutil.ToFloat64(TicksTotal.WithLabelValues(ResultSuccess))
	var r Recorder = Prometheus{}
	r.ObserveTick(3*time.Millisecond, ResultSuccess, 42, 8)

	if got := testutil.ToFloat64(TicksTotal.WithLabelValues(ResultSuccess)); got != before+1 {
		t.Errorf("ticks_total{success} = %f, want %f", got, before+1)
	}
	if got := testutil.ToFloat64(QPIterations); got != 42 {
		t.Errorf("qp iterations gauge = %f, want 42", got)
	}
	if got := testutil.ToFloat64(ActiveContacts); got != 8 {
		t.Errorf("active contacts gauge = %f, want 8", got)
	}
}

func TestServeStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Serve(ctx, "127.0.0.1:0", zap.NewNop()); err != nil {
		t.Errorf("expected clean shutdown, got %v", err)
	}
}

func TestServeBadAddress(t *testing.T) {
	if err := Serve(context.Background(), "127.0.0.1:notaport", zap.NewNop()); err == nil {
		t.Error("expected listen error")
	}
}
