package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/pomociclo/pomociclo/internal/platform/logger"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), logger.Nop(), Config{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestInit_StdoutExporter(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), logger.Nop(), Config{
		Enabled:     true,
		ServiceName: "pomo-test",
		SampleRatio: 1,
		Writer:      &buf,
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	_, span := Tracer().Start(context.Background(), "test.span")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("test.span")) {
		t.Errorf("exported spans missing test.span: %s", buf.String())
	}
}

func TestClampRatio(t *testing.T) {
	cases := map[float64]float64{0: 1, -1: 1, 0.25: 0.25, 3: 1}
	for in, want := range cases {
		if got := clampRatio(in); got != want {
			t.Errorf("clampRatio(%v) = %v, want %v", in, got, want)
		}
	}
}
