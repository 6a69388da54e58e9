package tracing

import (
	"context"
	"testing"
)

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if p.Enabled() {
		t.Error("выключенный провайдер сообщает Enabled=true")
	}
	_, span := p.Tracer().Start(context.Background(), "noop")
	span.End()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestNewProvider_NoneExporter(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: true, Exporter: ExporterNone, SampleRate: 5})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	defer p.Shutdown(context.Background()) //nolint:errcheck

	if !p.Enabled() {
		t.Error("включённый провайдер сообщает Enabled=false")
	}
	_, span := p.Tracer().Start(context.Background(), "publish")
	if !span.SpanContext().IsValid() {
		t.Error("ожидался валидный контекст спана")
	}
	span.End()
}

func TestNewProvider_UnknownExporter(t *testing.T) {
	if _, err := NewProvider(context.Background(), Config{Enabled: true, Exporter: "jaeger"}); err == nil {
		t.Error("ожидалась ошибка для неизвестного экспортёра")
	}
}
