package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func TestSubmitCommand_Success(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/pipeline/pipe-1/submit") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected Bearer key, got: %s", r.Header.Get("Authorization"))
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"job-a": "in_queue",
			"job-b": "in_queue",
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("key", "test-key")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"submit", "pipe-1"})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "Pipeline submitted") {
		t.Errorf("expected success message, got: %s", output)
	}
	if !strings.Contains(output, "job-a") || !strings.Contains(output, "in_queue") {
		t.Errorf("expected per-job states in output, got: %s", output)
	}
}

func TestSubmitCommand_BrokerDown(t *testing.T) {
	resetViper()

	// A broker outage returns 502 with the partial state map as the body.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{
			"job-a": "in_queue",
			"job-b": "ready",
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("key", "test-key")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"submit", "pipe-1"})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "Submit failed (502)") {
		t.Errorf("expected failure message, got: %s", output)
	}
	// The jobs dispatched before the outage are still reported.
	if !strings.Contains(output, "job-b") || !strings.Contains(output, "ready") {
		t.Errorf("expected partial states in output, got: %s", output)
	}
}

func TestSubmitCommand_MissingKey(t *testing.T) {
	resetViper()

	viper.Set("url", "http://localhost:5000")
	viper.Set("key", "")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"submit", "pipe-1"})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "API key not found") {
		t.Errorf("expected key error message, got: %s", output)
	}
}
