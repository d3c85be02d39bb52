package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrate-platform/astrate/core"
)

func TestExtractRoutingKey(t *testing.T) {
	names := core.DefaultHeaderNames()

	tests := []struct {
		name    string
		headers map[string]any
		want    core.RoutingKey
		wantErr bool
	}{
		{"strings", map[string]any{"realm": "acme", "policy": "p1"}, core.RoutingKey{Realm: "acme", Policy: "p1"}, false},
		{"bytes", map[string]any{"realm": []byte("acme"), "policy": []byte("p1")}, core.RoutingKey{Realm: "acme", Policy: "p1"}, false},
		{"numeric policy", map[string]any{"realm": "acme", "policy": int32(42)}, core.RoutingKey{Realm: "acme", Policy: "42"}, false},
		{"trimmed", map[string]any{"realm": " acme ", "policy": "p1\n"}, core.RoutingKey{Realm: "acme", Policy: "p1"}, false},
		{"missing policy", map[string]any{"realm": "acme"}, core.RoutingKey{}, true},
		{"missing realm", map[string]any{"policy": "p1"}, core.RoutingKey{}, true},
		{"blank realm", map[string]any{"realm": "  ", "policy": "p1"}, core.RoutingKey{}, true},
		{"nil value", map[string]any{"realm": nil, "policy": "p1"}, core.RoutingKey{}, true},
		{"no headers", nil, core.RoutingKey{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := core.ExtractRoutingKey(core.Delivery{Headers: tt.headers}, names)
			if tt.wantErr {
				require.ErrorIs(t, err, core.ErrMalformedDelivery)
				assert.False(t, got.Valid())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.Valid())
		})
	}
}

func TestExtractRoutingKey_CustomHeaderNames(t *testing.T) {
	names := core.HeaderNames{Realm: "x-realm-id", Policy: "x-policy-id"}
	d := core.Delivery{Headers: map[string]any{"x-realm-id": "acme", "x-policy-id": "p1", "realm": "ignored"}}

	key, err := core.ExtractRoutingKey(d, names)
	require.NoError(t, err)
	assert.Equal(t, "acme/p1", key.String())
}

func TestExtractRoutingKey_ErrorNamesMissingHeaders(t *testing.T) {
	_, err := core.ExtractRoutingKey(core.Delivery{}, core.DefaultHeaderNames())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "realm, policy")
}
