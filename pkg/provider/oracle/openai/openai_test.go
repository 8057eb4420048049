package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/callsentry/pkg/provider/oracle"
	"github.com/MrWong99/callsentry/pkg/provider/oracle/openai"
)

// chatServer answers chat completion requests with content and records the
// decoded request body.
func chatServer(t *testing.T, content string, got *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if got != nil {
			_ = json.NewDecoder(r.Body).Decode(got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 0,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := openai.New("", ""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

func TestClassify(t *testing.T) {
	var req map[string]any
	srv := chatServer(t, `{"label":"negative","score":0.92}`, &req)

	c, err := openai.New("sk-test", "", openai.WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Classify(context.Background(), "send the gift cards now")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got != (oracle.Classification{Label: "negative", Score: 0.92}) {
		t.Errorf("Classify = %+v", got)
	}

	if req["model"] != openai.DefaultModel {
		t.Errorf("model = %v, want %v", req["model"], openai.DefaultModel)
	}
	msgs, _ := req["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v, want system + user", req["messages"])
	}
	user, _ := msgs[1].(map[string]any)
	if s, _ := user["content"].(string); !strings.Contains(s, "send the gift cards now") {
		t.Errorf("user message = %v", user)
	}
}

func TestClassify_MalformedReply(t *testing.T) {
	srv := chatServer(t, "I think it's a scam", nil)
	c, _ := openai.New("sk-test", "gpt-4o", openai.WithBaseURL(srv.URL+"/v1/"))
	if _, err := c.Classify(context.Background(), "x"); !errors.Is(err, oracle.ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}
