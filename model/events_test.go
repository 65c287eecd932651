package model

import (
	"encoding/json"
	"testing"
)

func marshalToMap(t *testing.T, ev Event) map[string]any {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

func TestTokenEventWire(t *testing.T) {
	m := marshalToMap(t, NewTokenEvent("claude-opus-4-20250514", "hello"))

	if m["type"] != "token" {
		t.Errorf("type = %v", m["type"])
	}
	if m["model_id"] != "claude-opus-4-20250514" {
		t.Errorf("model_id = %v", m["model_id"])
	}
	if m["content"] != "hello" {
		t.Errorf("content = %v", m["content"])
	}
}

func TestDoneEventAlwaysCarriesTokenCounts(t *testing.T) {
	m := marshalToMap(t, NewDoneEvent("gemini-2.5-pro", 1234.5, 0, 0))

	if _, ok := m["tokens_in"]; !ok {
		t.Error("tokens_in missing from done payload")
	}
	if _, ok := m["tokens_out"]; !ok {
		t.Error("tokens_out missing from done payload")
	}
	if m["total_ms"].(float64) != 1234.5 {
		t.Errorf("total_ms = %v", m["total_ms"])
	}
}

func TestErrorEventRetryFieldOnlyWhenRetriable(t *testing.T) {
	m := marshalToMap(t, NewErrorEvent("gemini-2.5-pro", "deadline exceeded", 0))
	if _, ok := m["retry_after_ms"]; ok {
		t.Error("retry_after_ms present on non-retriable error")
	}

	m = marshalToMap(t, NewErrorEvent("gemini-2.5-pro", "vendor overloaded", 2000))
	if m["retry_after_ms"].(float64) != 2000 {
		t.Errorf("retry_after_ms = %v", m["retry_after_ms"])
	}
}

func TestHeartbeatEventHasNoModelID(t *testing.T) {
	m := marshalToMap(t, NewHeartbeatEvent())

	if _, ok := m["model_id"]; ok {
		t.Error("heartbeat carries model_id")
	}
	if _, ok := m["timestamp"]; !ok {
		t.Error("heartbeat missing timestamp")
	}
}

func TestTerminal(t *testing.T) {
	if !NewDoneEvent("m", 0, 0, 0).Terminal() {
		t.Error("done not terminal")
	}
	if !NewErrorEvent("m", "boom", 0).Terminal() {
		t.Error("error not terminal")
	}
	if NewTokenEvent("m", "x").Terminal() {
		t.Error("token reported terminal")
	}
	if NewHeartbeatEvent().Terminal() {
		t.Error("heartbeat reported terminal")
	}
}

func TestToolEventsCarryNameAndDuration(t *testing.T) {
	m := marshalToMap(t, NewToolStartEvent("m", "search_quran"))
	if m["tool_name"] != "search_quran" {
		t.Errorf("tool_name = %v", m["tool_name"])
	}

	m = marshalToMap(t, NewToolEndEvent("m", "search_quran", 88.5))
	if m["duration_ms"].(float64) != 88.5 {
		t.Errorf("duration_ms = %v", m["duration_ms"])
	}
}
