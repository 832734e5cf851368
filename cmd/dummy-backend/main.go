// Command dummy-backend is an OpenAI-compatible completion server for local runs.
// It echoes the prompt and reports usage as roughly len/4 tokens.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model     string    `json:"model"`
	Messages  []message `json:"messages"`
	MaxTokens int64     `json:"max_tokens"`
}

func tokens(s string) int64 {
	return int64(len(s)/4) + 1
}

func main() {
	addr := flag.String("addr", ":3001", "listen address")
	delay := flag.Duration("delay", 0, "artificial latency per completion")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		log.Printf("Received completion: model=%s messages=%d", req.Model, len(req.Messages))

		if *delay > 0 {
			select {
			case <-time.After(*delay):
			case <-r.Context().Done():
				return
			}
		}

		var prompt strings.Builder
		for _, m := range req.Messages {
			prompt.WriteString(m.Content)
		}
		content := "echo: " + prompt.String()
		if req.MaxTokens > 0 && int64(len(content)) > req.MaxTokens*4 {
			content = content[:req.MaxTokens*4]
		}

		in, out := tokens(prompt.String()), tokens(content)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-" + uuid.NewString(),
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   req.Model,
			"choices": []map[string]interface{}{{
				"index":         0,
				"message":       message{Role: "assistant", Content: content},
				"finish_reason": "stop",
			}},
			"usage": map[string]int64{
				"prompt_tokens":     in,
				"completion_tokens": out,
				"total_tokens":      in + out,
			},
		})
	})

	log.Printf("Dummy backend starting on %s", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Fatal(err)
	}
}
