package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func sseHandler(t *testing.T, deltas []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Error("expected provider API key in upstream request")
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Stream {
			t.Errorf("expected streaming chat request, got %+v (err %v)", req, err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, d := range deltas {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", d)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

func TestClientStreamsDeltas(t *testing.T) {
	deltas := []string{"<opening>", "Hi", "</opening>"}
	srv := httptest.NewServer(sseHandler(t, deltas))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test")
	stream, err := c.Open(context.Background(), Request{Prompt: "write", Model: "gpt-4"})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	var got string
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got += string(chunk)
	}
	if got != "<opening>Hi</opening>" {
		t.Errorf("streamed %q", got)
	}

	// After EOF the stream stays at EOF.
	if _, err := stream.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF after end, got %v", err)
	}
}

func TestClientUpstreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test")
	if _, err := c.Open(context.Background(), Request{Prompt: "write"}); err == nil {
		t.Fatal("expected error for 503 upstream")
	}
}

func TestClientCancellation(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(srv.URL, "sk-test")
	stream, err := c.Open(ctx, Request{Prompt: "write"})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	cancel()
	_, err = stream.Next()
	if err == nil || errors.Is(err, io.EOF) {
		t.Errorf("cancelled stream must surface an error distinct from EOF, got %v", err)
	}
}
