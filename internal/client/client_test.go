package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestListDialoguesSendsUserID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/ai/dialogues" || r.URL.Query().Get("user_id") != "7" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `[{"id":2,"title":"new","last_timestamp":"2024-01-02 10:00:00"},{"id":1,"title":"old"}]`)
	}))
	defer server.Close()

	c := NewWithBaseURL(server.URL, 7)
	dialogues, err := c.ListDialogues(context.Background())
	if err != nil {
		t.Fatalf("ListDialogues: %v", err)
	}
	if len(dialogues) != 2 || dialogues[0].ID != 2 || dialogues[0].LastTimestamp == "" {
		t.Fatalf("unexpected dialogues %#v", dialogues)
	}
}

func TestGetDialogueFlattensTurns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":4,"user_id":1,"title":"t","timestamp":"now","messages":[[{"role":"user","content":"hi"},{"role":"assistant","content":[{"type":0,"data":{"content":"hello"}}]}]]}`)
	}))
	defer server.Close()

	c := NewWithBaseURL(server.URL, 1)
	dialogue, err := c.GetDialogue(context.Background(), 4)
	if err != nil {
		t.Fatalf("GetDialogue: %v", err)
	}
	if len(dialogue.Messages) != 2 || dialogue.Messages[1].Text() != "hello" {
		t.Fatalf("unexpected messages %#v", dialogue.Messages)
	}
}

func TestCreateRenameDeleteDialogue(t *testing.T) {
	var calls []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/ai/dialogues":
			var req CreateDialogueRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			_ = json.NewEncoder(w).Encode(map[string]any{"id": 9, "user_id": req.UserID, "title": "auto", "messages": []any{}})
		case r.Method == http.MethodPut && r.URL.Path == "/api/v1/ai/dialogues/9/title":
			var req RenameDialogueRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Title != "Groceries" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = io.WriteString(w, `{"success":true}`)
		case r.Method == http.MethodDelete && r.URL.Path == "/api/v1/ai/dialogues/9":
			if r.URL.Query().Get("user_id") != "1" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = io.WriteString(w, `{"success":true}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := NewWithBaseURL(server.URL, 1)
	dialogue, err := c.CreateDialogue(context.Background(), "")
	if err != nil {
		t.Fatalf("CreateDialogue: %v", err)
	}
	if dialogue.ID != 9 || dialogue.Messages == nil {
		t.Fatalf("unexpected dialogue %#v", dialogue)
	}
	if err := c.RenameDialogue(context.Background(), 9, " Groceries "); err != nil {
		t.Fatalf("RenameDialogue: %v", err)
	}
	if err := c.DeleteDialogue(context.Background(), 9); err != nil {
		t.Fatalf("DeleteDialogue: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("unexpected calls %v", calls)
	}
}

func TestConfirmActionNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/ai/actions/a1/confirm" {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"detail":"Action not found or timeout"}`)
	}))
	defer server.Close()

	c := NewWithBaseURL(server.URL, 1)
	err := c.ConfirmAction(context.Background(), "a1")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if IsTimeout(err) {
		t.Fatalf("not found should not classify as timeout")
	}
	if apiErr := asAPIError(err); apiErr.Message != "Action not found or timeout" {
		t.Fatalf("unexpected message %q", apiErr.Message)
	}
}

func TestCancelActionTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c := New(Options{BaseURL: server.URL, UserID: 1, Timeout: 50 * time.Millisecond})
	err := c.CancelAction(context.Background(), "a1")
	if !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestDecodeAPIErrorFallsBackToStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewWithBaseURL(server.URL, 1)
	err := c.ConfirmAction(context.Background(), "a1")
	apiErr := asAPIError(err)
	if apiErr == nil || apiErr.StatusCode != http.StatusInternalServerError || apiErr.Message == "" {
		t.Fatalf("unexpected error %v", err)
	}
	if IsNotFound(err) || IsTimeout(err) {
		t.Fatalf("500 should be neither not found nor timeout")
	}
}

func TestIsTimeoutContextDeadline(t *testing.T) {
	if !IsTimeout(context.DeadlineExceeded) {
		t.Fatalf("deadline exceeded should be a timeout")
	}
	if IsTimeout(context.Canceled) || IsTimeout(errors.New("boom")) || IsTimeout(nil) {
		t.Fatalf("unexpected timeout classification")
	}
}
