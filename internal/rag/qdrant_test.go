package rag

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
)

func TestPointID(t *testing.T) {
	t.Parallel()

	const id = "0b5a8e3c-1f2d-4c5e-9a7b-3c2d1e0f9a8b"
	if got := pointID(id).GetUuid(); got != id {
		t.Errorf("uuid ids must pass through: got %q", got)
	}

	a := pointID("company-42").GetUuid()
	b := pointID("company-42").GetUuid()
	if a == "" || a != b {
		t.Errorf("non-uuid ids must map to a stable uuid: %q vs %q", a, b)
	}
	if a == pointID("company-43").GetUuid() {
		t.Error("different ids must map to different uuids")
	}
}

func TestClampScore(t *testing.T) {
	t.Parallel()

	cases := map[float32]float32{-0.4: 0, 0: 0, 0.73: 0.73, 1: 1, 1.0001: 1}
	for in, want := range cases {
		if got := clampScore(in); got != want {
			t.Errorf("clampScore(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestPayloadValue(t *testing.T) {
	t.Parallel()

	values := qdrant.NewValueMap(map[string]any{"name": "Acme", "employeeCount": int64(12)})
	if got := payloadValue(values["name"]); got != "Acme" {
		t.Errorf("string payload: got %v", got)
	}
	if got := payloadValue(values["employeeCount"]); got != int64(12) {
		t.Errorf("integer payload: got %v (%T)", got, got)
	}
}
