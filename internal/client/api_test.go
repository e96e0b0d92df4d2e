package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGetClient_IsSingleton(t *testing.T) {
	if GetClient() != GetClient() {
		t.Fatal("GetClient must always return the same instance")
	}
}

func TestAPI(t *testing.T) {
	var submitted string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/tasks":
			io.WriteString(w, `{"tasks":[{"task_id":"a","url":"u","status":"downloading","progress":40,"message":"Downloading...","created_at":"2024-01-01T00:00:00Z","options":{"combine":false,"no_chapters":false,"create_folder":false,"group_by_author":false}}],"groups":[{"author":"Unknown Author","task_ids":["a"]}]}`)
		case r.Method == http.MethodPost && r.URL.Path == "/api/download":
			r.ParseForm()
			submitted = r.PostForm.Get("urls")
			io.WriteString(w, `{"tasks":["a"],"warnings":[{"url":"bad","warning":"Invalid URL format","message":"x"}]}`)
		case r.URL.Path == "/api/tasks/a/cancel":
			io.WriteString(w, `{"status":"not_applicable","reason":"Task already finished"}`)
		case r.URL.Path == "/api/tasks/a/retry":
			io.WriteString(w, `{"status":"queued","task_id":"b"}`)
		case r.URL.Path == "/api/tasks/clear":
			io.WriteString(w, `{"status":"cleared","removed":3}`)
		case r.URL.Path == "/api/tasks/missing/retry":
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":"Task not found"}`)
		default:
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, `{"error":"boom"}`)
		}
	}))
	defer srv.Close()

	api := NewAPI(srv.URL + "/")
	ctx := context.Background()

	list, raw, err := api.Tasks(ctx)
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(list.Tasks) != 1 || list.Tasks[0].Progress != 40 || len(list.Groups) != 1 {
		t.Errorf("unexpected list %+v", list)
	}
	if len(raw) == 0 {
		t.Error("raw body must be returned")
	}

	res, err := api.Submit(ctx, []string{"u1", "bad"})
	if err != nil || len(res.Tasks) != 1 || len(res.Warnings) != 1 {
		t.Errorf("Submit = %+v, %v", res, err)
	}
	if submitted != "u1\nbad" {
		t.Errorf("urls not joined by newline: %q", submitted)
	}

	ar, err := api.Cancel(ctx, "a")
	if err != nil || ar.Applied() || ar.Reason == "" {
		t.Errorf("Cancel = %+v, %v", ar, err)
	}
	ar, err = api.Retry(ctx, "a")
	if err != nil || !ar.Applied() || ar.TaskID != "b" {
		t.Errorf("Retry = %+v, %v", ar, err)
	}
	ar, err = api.Clear(ctx)
	if err != nil || ar.Removed != 3 {
		t.Errorf("Clear = %+v, %v", ar, err)
	}

	if _, err := api.Retry(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := api.Remove(ctx, "a"); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("expected server error message, got %v", err)
	}
}
