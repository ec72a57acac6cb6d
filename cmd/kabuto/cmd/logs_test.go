package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/adimian/kabuto/pkg/api"
)

func TestLogsCommand_Success(t *testing.T) {
	resetViper()

	callCount := 0
	// Mock server that returns logs on first call, empty on second
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++

		if r.Method != http.MethodGet {
			t.Errorf("expected GET method, got %s", r.Method)
		}
		if !strings.Contains(r.URL.Path, "/execution/job-123/logs") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected Bearer key, got: %s", r.Header.Get("Authorization"))
		}

		var resp api.GetLogsResponse
		if callCount == 1 {
			resp = api.GetLogsResponse{
				Logs: []api.LogLine{
					{ID: 1, Line: "Log line 1"},
					{ID: 2, Line: "Log line 2"},
				},
			}
		} else {
			// The second call must resume after the last seen line.
			if !strings.HasSuffix(r.URL.Path, "/logs/2") {
				t.Errorf("expected cursor in path, got: %s", r.URL.Path)
			}
			resp = api.GetLogsResponse{Logs: []api.LogLine{}}
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("key", "test-key")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"logs", "job-123"})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "Log line 1") || !strings.Contains(output, "Log line 2") {
		t.Errorf("expected log lines in output, got: %s", output)
	}
	if callCount != 2 {
		t.Errorf("expected 2 fetches, got %d", callCount)
	}
}

func TestLogsCommand_NotFound(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("key", "test-key")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"logs", "job-404"})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "Error fetching logs") {
		t.Errorf("expected fetch error message, got: %s", output)
	}
}
