package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/recall-ai/recall/pkg/cache"
	"github.com/recall-ai/recall/pkg/models"
)

var testParams = map[string]any{"temperature": 0.5}

func newTestServer(t *testing.T) (*Server, *cache.Cache) {
	t.Helper()
	c, err := cache.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return New(c, zerolog.Nop(), "test"), c
}

func sendAndReceive(t *testing.T, srv *Server, req Request) Response {
	t.Helper()
	line, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	line = append(line, '\n')

	var out bytes.Buffer
	if err := srv.Run(context.Background(), bytes.NewReader(line), &out); err != nil {
		t.Fatal(err)
	}

	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, out.String())
	}
	return resp
}

func callTool(t *testing.T, srv *Server, name string, args string) ToolCallResult {
	t.Helper()
	params, err := json.Marshal(ToolCallParams{Name: name, Arguments: json.RawMessage(args)})
	if err != nil {
		t.Fatal(err)
	}
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "tools/call",
		Params:  params,
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result ToolCallResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Content) == 0 {
		t.Fatal("expected content")
	}
	return result
}

func TestInitialize(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "initialize",
	})

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result InitializeResult
	json.Unmarshal(data, &result)

	if result.ProtocolVersion != "2024-11-05" {
		t.Errorf("protocol version = %s, want 2024-11-05", result.ProtocolVersion)
	}
	if result.ServerInfo.Name != "recall" {
		t.Errorf("server name = %s, want recall", result.ServerInfo.Name)
	}
}

func TestToolsList(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`2`),
		Method:  "tools/list",
	})

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result ToolsListResult
	json.Unmarshal(data, &result)

	if len(result.Tools) != 4 {
		t.Errorf("got %d tools, want 4", len(result.Tools))
	}

	names := make(map[string]bool)
	for _, tool := range result.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"recall_fetch", "recall_store", "recall_get", "recall_stats"} {
		if !names[want] {
			t.Errorf("missing tool: %s", want)
		}
	}
}

func TestToolCallFetchMissThenHit(t *testing.T) {
	srv, c := newTestServer(t)

	result := callTool(t, srv, "recall_fetch",
		`{"model":"gpt-4o","parameters":{"temperature":0.5},"system_prompt":"sys","user_prompt":"What is 1+1?"}`)
	if !strings.Contains(result.Content[0].Text, "No cached response") {
		t.Errorf("expected miss message, got: %s", result.Content[0].Text)
	}

	if _, err := c.Store("gpt-4o", testParams, "sys", "What is 1+1?", "2", 0, ""); err != nil {
		t.Fatal(err)
	}

	result = callTool(t, srv, "recall_fetch",
		`{"model":"gpt-4o","parameters":{"temperature":0.5},"system_prompt":"sys","user_prompt":"What is 1+1?"}`)
	if result.Content[0].Text != `"2"` {
		t.Errorf("expected cached output, got: %s", result.Content[0].Text)
	}
}

func TestToolCallStore(t *testing.T) {
	srv, c := newTestServer(t)

	result := callTool(t, srv, "recall_store",
		`{"model":"gpt-4o","parameters":{"temperature":0.5},"system_prompt":"sys","user_prompt":"q","output":"a","service":"openai"}`)
	if !strings.Contains(result.Content[0].Text, "Stored response under key") {
		t.Errorf("unexpected store message: %s", result.Content[0].Text)
	}

	key, err := models.GenKey("gpt-4o", testParams, "sys", "q", 0)
	if err != nil {
		t.Fatal(err)
	}
	entry, err := c.Entry(key)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Output != `"a"` {
		t.Errorf("output = %q, want %q", entry.Output, `"a"`)
	}
	if entry.Service != "openai" {
		t.Errorf("service = %q, want %q", entry.Service, "openai")
	}
}

func TestToolCallStoreMissingModel(t *testing.T) {
	srv, _ := newTestServer(t)

	result := callTool(t, srv, "recall_store", `{"user_prompt":"q","output":"a"}`)
	if !result.IsError {
		t.Error("expected isError=true for missing model")
	}
}

func TestToolCallGet(t *testing.T) {
	srv, c := newTestServer(t)
	key, err := c.Store("gpt-4o", testParams, "sys", "q", "the answer", 0, "")
	if err != nil {
		t.Fatal(err)
	}

	result := callTool(t, srv, "recall_get", `{"key":"`+key+`"}`)
	text := result.Content[0].Text
	if !strings.Contains(text, "the answer") || !strings.Contains(text, "gpt-4o") {
		t.Errorf("unexpected entry output: %s", text)
	}
}

func TestToolCallGetUnknownKey(t *testing.T) {
	srv, _ := newTestServer(t)

	result := callTool(t, srv, "recall_get", `{"key":"ffffffffffffffffffffffffffffffff"}`)
	if !result.IsError {
		t.Error("expected isError=true for unknown key")
	}
}

func TestToolCallStats(t *testing.T) {
	srv, c := newTestServer(t)
	if _, err := c.Store("gpt-4o", testParams, "sys", "q", "a", 0, ""); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, _, _, err := c.Fetch("gpt-4o", testParams, "sys", "q", 0); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, _, err := c.Fetch("gpt-4o", testParams, "sys", "other", 0); err != nil {
		t.Fatal(err)
	}

	result := callTool(t, srv, "recall_stats", `{}`)
	text := result.Content[0].Text
	if !strings.Contains(text, "Entries:  1") || !strings.Contains(text, "66.7%") {
		t.Errorf("unexpected cache stats output: %s", text)
	}
	if !strings.Contains(text, "gpt-4o") {
		t.Errorf("expected per-model table, got: %s", text)
	}
}

func TestToolCallUnknownTool(t *testing.T) {
	srv, _ := newTestServer(t)

	result := callTool(t, srv, "recall_evict", `{}`)
	if !result.IsError {
		t.Error("expected isError=true for unknown tool")
	}
	if !strings.Contains(result.Content[0].Text, "unknown tool") {
		t.Errorf("unexpected message: %s", result.Content[0].Text)
	}
}

func TestNotificationNoResponse(t *testing.T) {
	srv, _ := newTestServer(t)

	line, _ := json.Marshal(Request{
		JSONRPC: "2.0",
		Method:  "notifications/initialized",
	})
	line = append(line, '\n')

	var out bytes.Buffer
	_ = srv.Run(context.Background(), bytes.NewReader(line), &out)

	if out.Len() != 0 {
		t.Errorf("expected no output for notification, got: %s", out.String())
	}
}

func TestUnknownMethod(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`9`),
		Method:  "unknown/method",
	})

	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
}
