// Command mockaoai runs a lightweight HTTP server that simulates an Azure
// OpenAI chat-completions deployment, for exercising the dispatcher and its
// plugin pipeline without real credentials.
//
// Behaviour flags (via env):
//
//	MOCK_LATENCY_MS   — artificial latency added to every response (default 0)
//	MOCK_ERROR_RATE   — fraction [0,1] of requests that return HTTP 500 (default 0)
//	MOCK_STREAM_WORDS — words in a streaming response (default 10)
//	MOCK_REGION       — value returned in the x-ms-region header (default "eastus")
//
// Callers can force a throttle response deterministically (for backoff-
// cascade testing) by sending X-Mock-Throttle: 429 or 500, optionally with
// X-Mock-Retry-After-Ms to control the advertised backoff duration.
package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
)

type config struct {
	LatencyMS   int
	ErrorRate   float64
	StreamWords int
	Region      string
}

func loadConfig() config {
	c := config{StreamWords: 10, Region: "eastus"}
	if v := os.Getenv("MOCK_LATENCY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LatencyMS = n
		}
	}
	if v := os.Getenv("MOCK_ERROR_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			c.ErrorRate = f
		}
	}
	if v := os.Getenv("MOCK_STREAM_WORDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.StreamWords = n
		}
	}
	if v := os.Getenv("MOCK_REGION"); v != "" {
		c.Region = v
	}
	return c
}

var fakeWords = []string{
	"The", "quick", "brown", "fox", "jumps", "over", "the", "lazy", "dog",
	"is", "a", "mock", "response", "simulating", "a", "real", "deployment",
	"for", "development", "and", "testing", "purposes",
}

func fakeSentence(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fakeWords[rand.IntN(len(fakeWords))]
	}
	return strings.Join(words, " ") + "."
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newHandler(cfg config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/chat/completions") {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": fmt.Sprintf("mock: unknown path %s", r.URL.Path)})
			return
		}
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "method not allowed"})
			return
		}

		w.Header().Set("x-ms-region", cfg.Region)

		if throttle := r.Header.Get("X-Mock-Throttle"); throttle != "" {
			status, err := strconv.Atoi(throttle)
			if err == nil {
				if retryAfter := r.Header.Get("X-Mock-Retry-After-Ms"); retryAfter != "" {
					w.Header().Set("retry-after-ms", retryAfter)
				}
				writeJSON(w, status, map[string]string{"message": "mock throttle"})
				return
			}
		}

		if cfg.LatencyMS > 0 {
			time.Sleep(time.Duration(cfg.LatencyMS) * time.Millisecond)
		}
		if cfg.ErrorRate > 0 && rand.Float64() < cfg.ErrorRate {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "mock internal error"})
			return
		}

		var req struct {
			Stream bool `json:"stream"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		id := fmt.Sprintf("chatcmpl-mock-%x", rand.Int64())
		content := fakeSentence(cfg.StreamWords)
		promptTokens := 12

		if req.Stream {
			serveStream(w, id, content, cfg.StreamWords)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"id":      id,
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"choices": []map[string]any{
				{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]string{"role": "assistant", "content": content},
				},
			},
			"usage": map[string]int{
				"prompt_tokens":     promptTokens,
				"completion_tokens": cfg.StreamWords,
				"total_tokens":      promptTokens + cfg.StreamWords,
			},
		})
	})

	return mux
}

// serveStream writes the response as a sequence of OpenAI-style SSE chunks,
// one word per chunk, terminated by "data: [DONE]".
func serveStream(w http.ResponseWriter, id, content string, streamWords int) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)

	send := func(v any) {
		data, _ := json.Marshal(v)
		fmt.Fprintf(w, "data: %s\r\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}

	for _, word := range strings.Fields(content) {
		send(map[string]any{
			"id":     id,
			"object": "chat.completion.chunk",
			"choices": []map[string]any{
				{"index": 0, "delta": map[string]string{"content": word + " "}},
			},
		})
	}

	send(map[string]any{
		"id":     id,
		"object": "chat.completion.chunk",
		"choices": []map[string]any{
			{"index": 0, "delta": map[string]string{}, "finish_reason": "stop"},
		},
	})

	fmt.Fprintf(w, "data: [DONE]\r\n")
	if flusher != nil {
		flusher.Flush()
	}
}

func main() {
	cfg := loadConfig()
	addr := ":" + portFromEnv("PORT", 19100)

	srv := &http.Server{
		Addr:         addr,
		Handler:      newHandler(cfg),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		fmt.Println("mockaoai listening on", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Println("server error:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}

func portFromEnv(key string, defaultPort int) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return strconv.Itoa(defaultPort)
}
