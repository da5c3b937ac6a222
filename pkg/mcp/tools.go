package mcp

import (
	"encoding/json"
	"fmt"
)

// Tool argument structs.

type requestArgs struct {
	Model        string         `json:"model"`
	Parameters   map[string]any `json:"parameters"`
	SystemPrompt string         `json:"system_prompt"`
	UserPrompt   string         `json:"user_prompt"`
	Iteration    int            `json:"iteration"`
}

type storeArgs struct {
	requestArgs
	Output  json.RawMessage `json:"output"`
	Service string          `json:"service"`
}

type keyArgs struct {
	Key string `json:"key"`
}

// toolHandler is a function that handles a tool call.
type toolHandler func(s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"recall_fetch": handleFetch,
	"recall_store": handleStore,
	"recall_get":   handleGet,
	"recall_stats": handleStats,
}

// requestProperties is the shared schema for the fields that identify a
// cached response.
var requestProperties = map[string]any{
	"model": map[string]any{
		"type":        "string",
		"description": "Model name the response came from",
	},
	"parameters": map[string]any{
		"type":        "object",
		"description": "Model call parameters (temperature, max_tokens, ...)",
	},
	"system_prompt": map[string]any{
		"type":        "string",
		"description": "System prompt of the call",
	},
	"user_prompt": map[string]any{
		"type":        "string",
		"description": "User prompt of the call",
	},
	"iteration": map[string]any{
		"type":        "integer",
		"description": "Repetition counter for deliberate re-asks (optional, default 0)",
	},
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "recall_fetch",
		Description: "Look up a previously cached model response by its request fields.",
		InputSchema: map[string]any{
			"type":       "object",
			"required":   []string{"model", "user_prompt"},
			"properties": requestProperties,
		},
	},
	{
		Name:        "recall_store",
		Description: "Cache a model response under the key derived from its request fields.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"model", "user_prompt", "output"},
			"properties": merge(requestProperties, map[string]any{
				"output": map[string]any{
					"description": "The model response to cache (any JSON value)",
				},
				"service": map[string]any{
					"type":        "string",
					"description": "Provider the response came from (optional)",
				},
			}),
		},
	},
	{
		Name:        "recall_get",
		Description: "Show the full cached entry for a cache key.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"key"},
			"properties": map[string]any{
				"key": map[string]any{
					"type":        "string",
					"description": "The 32-character hex cache key",
				},
			},
		},
	},
	{
		Name:        "recall_stats",
		Description: "Show cache statistics (entries, hits, misses, hit rate, entries per model).",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
}

func merge(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

func handleFetch(s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args requestArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.Model == "" {
		return errorResult("model is required")
	}

	output, key, found, err := s.cache.Fetch(args.Model, args.Parameters, args.SystemPrompt, args.UserPrompt, args.Iteration)
	if err != nil {
		return errorResult("Error fetching from cache: " + err.Error())
	}
	if !found {
		return textResult(fmt.Sprintf("No cached response (key %s).", key))
	}
	return textResult(output)
}

func handleStore(s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args storeArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.Model == "" {
		return errorResult("model is required")
	}
	if len(args.Output) == 0 {
		return errorResult("output is required")
	}

	var response any
	if err := json.Unmarshal(args.Output, &response); err != nil {
		return errorResult("Invalid output: " + err.Error())
	}

	key, err := s.cache.Store(args.Model, args.Parameters, args.SystemPrompt, args.UserPrompt, response, args.Iteration, args.Service)
	if err != nil {
		return errorResult("Error storing response: " + err.Error())
	}
	return textResult(fmt.Sprintf("Stored response under key %s.", key))
}

func handleGet(s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args keyArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.Key == "" {
		return errorResult("key is required")
	}

	entry, err := s.cache.Entry(args.Key)
	if err != nil {
		return errorResult("Error reading entry: " + err.Error())
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return errorResult("Error encoding entry: " + err.Error())
	}
	return textResult(string(data))
}

func handleStats(s *Server, _ json.RawMessage) ToolCallResult {
	stats, err := s.cache.Stats()
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	counts, err := s.cache.CountByModel()
	if err != nil {
		return errorResult("Error fetching model counts: " + err.Error())
	}
	return textResult(formatCacheStats(stats, counts))
}
