package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func TestImageBuildCommand_Success(t *testing.T) {
	resetViper()

	dockerfile := filepath.Join(t.TempDir(), "Dockerfile")
	if err := os.WriteFile(dockerfile, []byte("FROM alpine:3.20\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		if r.URL.Path != "/image" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var reqBody map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		if reqBody["name"] != "trainer" {
			t.Errorf("expected name=trainer, got %v", reqBody["name"])
		}
		if df, _ := reqBody["dockerfile"].(string); !strings.Contains(df, "FROM alpine") {
			t.Errorf("expected Dockerfile content, got %v", reqBody["dockerfile"])
		}

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "img-1",
			"ref":    "registry.local/alice/trainer",
			"output": []string{"Step 1/1 : FROM alpine:3.20", "Successfully built"},
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("key", "test-key")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"image", "build", "--name", "trainer", "--dockerfile", dockerfile})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "Image built") {
		t.Errorf("expected success message, got: %s", output)
	}
	if !strings.Contains(output, "registry.local/alice/trainer") {
		t.Errorf("expected image ref in output, got: %s", output)
	}
	if !strings.Contains(output, "Successfully built") {
		t.Errorf("expected build output lines, got: %s", output)
	}
}

func TestImageBuildCommand_BothSources(t *testing.T) {
	resetViper()

	// Reset flags from previous tests
	imageBuildCmd.Flags().Set("name", "")
	imageBuildCmd.Flags().Set("dockerfile", "")
	imageBuildCmd.Flags().Set("repo", "")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be called when validation fails")
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("key", "test-key")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"image", "build", "--name", "trainer",
		"--dockerfile", "Dockerfile", "--repo", "https://github.com/acme/trainer.git"})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "exactly one of --dockerfile or --repo") {
		t.Errorf("expected source validation error, got: %s", output)
	}
}

func TestImageBuildCommand_BuildFailure(t *testing.T) {
	resetViper()

	// Reset flags from previous tests
	imageBuildCmd.Flags().Set("name", "")
	imageBuildCmd.Flags().Set("dockerfile", "")
	imageBuildCmd.Flags().Set("repo", "")

	dockerfile := filepath.Join(t.TempDir(), "Dockerfile")
	if err := os.WriteFile(dockerfile, []byte("FROM nosuch:latest\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error":   "image build failed",
			"details": "pull access denied for nosuch",
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("key", "test-key")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"image", "build", "--name", "trainer", "--dockerfile", dockerfile})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "Build failed (400)") {
		t.Errorf("expected build failure message, got: %s", output)
	}
	if !strings.Contains(output, "pull access denied") {
		t.Errorf("expected daemon details in output, got: %s", output)
	}
}

func TestImageListCommand_Empty(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("[]"))
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("key", "test-key")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"image", "list"})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "No images") {
		t.Errorf("expected empty message, got: %s", stdout.String())
	}
}
