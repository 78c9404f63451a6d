package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/wolfman30/dealer-sms-agent/pkg/logging"
)

func TestSetupDisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{ServiceName: "svc"}, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupInstallsProvider(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	shutdown, err := Setup(context.Background(), Config{
		ServiceName: "dealer-sms-agent",
		Environment: "test",
		Endpoint:    "http://127.0.0.1:4318",
		Headers:     "x-api-key=abc",
	}, logging.New("error"))
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	assert.True(t, span.SpanContext().IsValid())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = shutdown(ctx)
}

func TestNormalizeEndpoint(t *testing.T) {
	cases := []struct {
		raw      string
		endpoint string
		insecure bool
	}{
		{raw: "otel-collector:4318", endpoint: "otel-collector:4318", insecure: true},
		{raw: "http://otel-collector:4318/", endpoint: "otel-collector:4318", insecure: true},
		{raw: "https://api.honeycomb.io", endpoint: "api.honeycomb.io", insecure: false},
	}
	for _, tc := range cases {
		endpoint, insecure := normalizeEndpoint(tc.raw)
		assert.Equal(t, tc.endpoint, endpoint, tc.raw)
		assert.Equal(t, tc.insecure, insecure, tc.raw)
	}
}

func TestParseHeaders(t *testing.T) {
	headers := parseHeaders(" authorization=Bearer abc , bad, x-team = dealer ,empty=")
	assert.Equal(t, map[string]string{"authorization": "Bearer abc", "x-team": "dealer"}, headers)
	assert.Empty(t, parseHeaders(""))
}
