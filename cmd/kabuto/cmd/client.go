package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/adimian/kabuto/pkg/api"
)

// Client handles API calls to the kabuto coordinator.
type Client struct {
	BaseURL    string
	Key        string
	HTTPClient *http.Client
}

// NewClient creates a new client with the given base URL and API key.
func NewClient(baseURL, key string) *Client {
	return &Client{
		BaseURL: baseURL,
		Key:     key,
		HTTPClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// do sends a request with auth headers and decodes the JSON response into
// out when out is non-nil. Non-2xx responses come back as *APIError with
// the server's error message when the body carries one.
func (c *Client) do(method, path string, body io.Reader, contentType string, out any) error {
	httpReq, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.Key != "" {
		httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Key))
	}
	if contentType != "" {
		httpReq.Header.Add("Content-Type", contentType)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		message := string(respBody)
		var errResp api.ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			message = errResp.Error
			if errResp.Details != "" {
				message += "\n" + errResp.Details
			}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: message}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *Client) doJSON(method, path string, req, out any) error {
	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(method, path, bytes.NewReader(bodyBytes), "application/json", out)
}

// Register sends POST /users to provision a user and mint its API key.
func (c *Client) Register(login string) (*api.CreateUserResponse, error) {
	var result api.CreateUserResponse
	if err := c.doJSON(http.MethodPost, "/users", api.CreateUserRequest{Login: login}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// BuildImage sends POST /image to build and register a new image.
func (c *Client) BuildImage(req api.CreateImageRequest) (*api.BuildResponse, error) {
	var result api.BuildResponse
	if err := c.doJSON(http.MethodPost, "/image", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListImages sends GET /images.
func (c *Client) ListImages() ([]api.ImageResponse, error) {
	var result []api.ImageResponse
	if err := c.do(http.MethodGet, "/images", nil, "", &result); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteImage sends DELETE /image/{id}.
func (c *Client) DeleteImage(imageID string) error {
	return c.do(http.MethodDelete, "/image/"+imageID, nil, "", nil)
}

// CreatePipeline sends POST /pipeline.
func (c *Client) CreatePipeline(name string) (*api.PipelineResponse, error) {
	var result api.PipelineResponse
	if err := c.doJSON(http.MethodPost, "/pipeline", api.CreatePipelineRequest{Name: name}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListPipelines sends GET /pipelines.
func (c *Client) ListPipelines() ([]api.PipelineResponse, error) {
	var result []api.PipelineResponse
	if err := c.do(http.MethodGet, "/pipelines", nil, "", &result); err != nil {
		return nil, err
	}
	return result, nil
}

// PipelineDetail is a pipeline together with its jobs in sequence order.
type PipelineDetail struct {
	api.PipelineResponse
	Jobs []api.JobResponse `json:"jobs"`
}

// GetPipeline sends GET /pipeline/{id}.
func (c *Client) GetPipeline(pipelineID string) (*PipelineDetail, error) {
	var result PipelineDetail
	if err := c.do(http.MethodGet, "/pipeline/"+pipelineID, nil, "", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeletePipeline sends DELETE /pipeline/{id}.
func (c *Client) DeletePipeline(pipelineID string) error {
	return c.do(http.MethodDelete, "/pipeline/"+pipelineID, nil, "", nil)
}

// CreateJob sends POST /pipeline/{id}/job as multipart: the command and
// image id as form fields plus one file part per attachment path.
func (c *Client) CreateJob(pipelineID, command, imageID string, attachments []string) (*api.JobResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("command", command)
	mw.WriteField("image_id", imageID)

	for _, path := range attachments {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open attachment: %w", err)
		}
		fw, err := mw.CreateFormFile(filepath.Base(path), filepath.Base(path))
		if err != nil {
			f.Close()
			return nil, err
		}
		_, err = io.Copy(fw, f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var result api.JobResponse
	path := fmt.Sprintf("/pipeline/%s/job", pipelineID)
	if err := c.do(http.MethodPost, path, &buf, mw.FormDataContentType(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteJob sends DELETE /pipeline/{pid}/job/{jid}.
func (c *Client) DeleteJob(pipelineID, jobID string) error {
	return c.do(http.MethodDelete, fmt.Sprintf("/pipeline/%s/job/%s", pipelineID, jobID), nil, "", nil)
}

// Submit sends POST /pipeline/{id}/submit and returns the per-job states.
func (c *Client) Submit(pipelineID string) (api.SubmitResponse, error) {
	var result api.SubmitResponse
	if err := c.do(http.MethodPost, fmt.Sprintf("/pipeline/%s/submit", pipelineID), nil, "", &result); err != nil {
		// A broker outage still returns the partial state map in the body.
		if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusBadGateway {
			json.Unmarshal([]byte(apiErr.Message), &result)
		}
		return result, err
	}
	return result, nil
}

// Kill sends POST /execution/{id}/kill.
func (c *Client) Kill(jobID string) error {
	return c.do(http.MethodPost, fmt.Sprintf("/execution/%s/kill", jobID), nil, "", nil)
}

// GetLogs sends GET /execution/{id}/logs[/{lastID}].
func (c *Client) GetLogs(jobID string, afterID int64) ([]api.LogLine, error) {
	path := fmt.Sprintf("/execution/%s/logs", jobID)
	if afterID > 0 {
		path = fmt.Sprintf("%s/%d", path, afterID)
	}
	var result api.GetLogsResponse
	if err := c.do(http.MethodGet, path, nil, "", &result); err != nil {
		return nil, err
	}
	return result.Logs, nil
}

// DownloadResults sends GET /execution/{id}/results and streams the zip
// archive into w.
func (c *Client) DownloadResults(jobID string, w io.Writer) error {
	httpReq, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/execution/%s/results", c.BaseURL, jobID), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Key))

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		message := string(respBody)
		var errResp api.ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			message = errResp.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: message}
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to download results: %w", err)
	}
	return nil
}
