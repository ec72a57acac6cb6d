// Package worker contains the worker-specific logic for job execution.
package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adimian/kabuto/internal/archive"
	"github.com/adimian/kabuto/internal/worker/runtime"
	"github.com/adimian/kabuto/pkg/api"
)

// Dispatcher is the slice of the queue client the agent consumes with.
type Dispatcher interface {
	Listen(ctx context.Context, queueName string, handler func(context.Context, []byte) error) error
	ListenBroadcast(ctx context.Context, exchange string, handler func(context.Context, []byte)) error
}

// AgentConfig holds configuration for the worker agent.
type AgentConfig struct {
	ID             string
	CoordinatorURL string
	JobsQueue      string
	KillExchange   string
	WorkDir        string
}

// Agent consumes dispatch messages, runs each job to completion and
// reports everything back through the job's token-authorized callbacks.
// One job runs at a time; the queue's prefetch of one does the load
// balancing across agents.
type Agent struct {
	queue      Dispatcher
	runtime    runtime.Runtime
	config     AgentConfig
	httpClient *http.Client
	log        *slog.Logger

	mu      sync.Mutex
	running map[string]runtime.Handle // job id -> handle
	killed  map[string]bool
}

// New creates a new worker agent.
func New(q Dispatcher, rt runtime.Runtime, config AgentConfig, log *slog.Logger) *Agent {
	if config.JobsQueue == "" {
		config.JobsQueue = "jobs"
	}
	if config.KillExchange == "" {
		config.KillExchange = "kill"
	}
	config.CoordinatorURL = strings.TrimRight(config.CoordinatorURL, "/")

	return &Agent{
		queue:   q,
		runtime: rt,
		config:  config,
		log:     log,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		running: make(map[string]runtime.Handle),
		killed:  make(map[string]bool),
	}
}

// Run consumes the jobs queue and the kill exchange until the context is
// cancelled.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- a.queue.ListenBroadcast(ctx, a.config.KillExchange, a.HandleKill)
	}()
	go func() {
		errCh <- a.queue.Listen(ctx, a.config.JobsQueue, a.HandleDispatch)
	}()
	return <-errCh
}

// HandleDispatch executes one dispatch message end to end: fetch inputs,
// run the container, stream logs, upload results. Any error is final for
// this delivery; the message is acknowledged either way.
func (a *Agent) HandleDispatch(ctx context.Context, payload []byte) error {
	var msg api.DispatchMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("invalid dispatch payload: %w", err)
	}
	a.log.Info("job received", "job_id", msg.JobID, "image", msg.Image)

	jobDir := filepath.Join(a.config.WorkDir, "job-"+msg.JobID)
	inbox := filepath.Join(jobDir, "inbox")
	outbox := filepath.Join(jobDir, "outbox")
	for _, dir := range []string{inbox, outbox} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create job dir: %w", err)
		}
	}
	defer os.RemoveAll(jobDir)

	if err := a.fetchAttachments(ctx, msg, inbox); err != nil {
		a.reportFailure(ctx, msg, outbox)
		return err
	}

	handle, err := a.runtime.Start(ctx, runtime.StartOptions{
		Image:     msg.Image,
		Command:   msg.Command,
		Env:       map[string]string{"KABUTO_JOB_ID": msg.JobID},
		InboxDir:  inbox,
		OutboxDir: outbox,
	})
	if err != nil {
		a.log.Error("failed to start job", "job_id", msg.JobID, "error", err)
		a.reportFailure(ctx, msg, outbox)
		return err
	}

	a.track(msg.JobID, handle)
	defer a.untrack(msg.JobID)

	// The coordinator needs the container identity before it can honor a
	// kill or delete for this job.
	if err := a.reportContainer(ctx, msg, handle.ID()); err != nil {
		a.log.Error("failed to report container", "job_id", msg.JobID, "error", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.streamLogs(ctx, msg, handle)
	}()

	result, err := handle.Wait(ctx)
	wg.Wait()
	if err != nil {
		a.log.Error("job wait failed", "job_id", msg.JobID, "error", err)
	}

	state := api.StateDone
	switch {
	case a.wasKilled(msg.JobID):
		state = api.StateKilled
	case err != nil || result.ExitCode != 0:
		state = api.StateFailed
	}

	if err := a.postResults(ctx, msg, outbox, state, result); err != nil {
		return fmt.Errorf("failed to upload results: %w", err)
	}
	a.log.Info("job finished", "job_id", msg.JobID, "state", state, "exit_code", result.ExitCode)
	return nil
}

// HandleKill stops the addressed container if this agent is running it.
// Agents that don't hold the job ignore the broadcast.
func (a *Agent) HandleKill(ctx context.Context, payload []byte) {
	var msg api.KillMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		a.log.Error("invalid kill payload", "error", err)
		return
	}

	a.mu.Lock()
	handle, ok := a.running[msg.JobID]
	if ok {
		a.killed[msg.JobID] = true
	}
	a.mu.Unlock()
	if !ok {
		return
	}

	a.log.Info("killing job", "job_id", msg.JobID, "container_id", msg.ContainerID)
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := handle.Stop(stopCtx); err != nil {
		a.log.Error("failed to stop container", "job_id", msg.JobID, "error", err)
	}
}

func (a *Agent) track(jobID string, handle runtime.Handle) {
	a.mu.Lock()
	a.running[jobID] = handle
	a.mu.Unlock()
}

func (a *Agent) untrack(jobID string) {
	a.mu.Lock()
	delete(a.running, jobID)
	delete(a.killed, jobID)
	a.mu.Unlock()
}

func (a *Agent) wasKilled(jobID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.killed[jobID]
}

// fetchAttachments downloads the job's input archive and extracts it into
// the inbox.
func (a *Agent) fetchAttachments(ctx context.Context, msg api.DispatchMessage, inbox string) error {
	url := fmt.Sprintf("%s/execution/%s/attachments/%s",
		a.config.CoordinatorURL, msg.JobID, msg.AttachmentsToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch attachments: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("attachment fetch returned status %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return archive.Extract(bytes.NewReader(payload), int64(len(payload)), inbox)
}

func (a *Agent) reportContainer(ctx context.Context, msg api.DispatchMessage, containerID string) error {
	url := fmt.Sprintf("%s/execution/%s/container/%s",
		a.config.CoordinatorURL, msg.JobID, msg.ResultsToken)

	body, _ := json.Marshal(api.ContainerUpdateRequest{ContainerID: containerID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("container update returned status %d", resp.StatusCode)
	}
	return nil
}

func (a *Agent) streamLogs(ctx context.Context, msg api.DispatchMessage, handle runtime.Handle) {
	const (
		logBatchSize     = 100         // Max lines per batch
		logFlushInterval = time.Second // Flush at least every second
	)

	rc, err := handle.StreamLogs(ctx)
	if err != nil {
		a.log.Error("failed to get log stream", "job_id", msg.JobID, "error", err)
		return
	}
	defer rc.Close()

	lineChan := make(chan string, 100)
	go func() {
		defer close(lineChan)
		scanner := bufio.NewScanner(rc)
		for scanner.Scan() {
			line := scanner.Text()
			// Sanitize null bytes (Postgres rejects \x00)
			if strings.Contains(line, "\x00") {
				line = strings.ReplaceAll(line, "\x00", "")
			}
			select {
			case lineChan <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	var batch []string
	flushTicker := time.NewTicker(logFlushInterval)
	defer flushTicker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := a.sendLogs(ctx, msg, batch); err != nil {
			a.log.Error("failed to ship logs", "job_id", msg.JobID, "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case line, ok := <-lineChan:
			if !ok {
				flush()
				return
			}
			batch = append(batch, line)
			if len(batch) >= logBatchSize {
				flush()
			}
		case <-flushTicker.C:
			flush()
		case <-ctx.Done():
			flush()
			return
		}
	}
}

func (a *Agent) sendLogs(ctx context.Context, msg api.DispatchMessage, lines []string) error {
	url := fmt.Sprintf("%s/execution/%s/log/%s",
		a.config.CoordinatorURL, msg.JobID, msg.ResultsToken)

	body, _ := json.Marshal(api.DepositLogsRequest{Lines: lines})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("log deposit returned status %d", resp.StatusCode)
	}
	return nil
}

// reportFailure tells the coordinator the job failed before producing any
// results. Best-effort: the error is logged, not returned.
func (a *Agent) reportFailure(ctx context.Context, msg api.DispatchMessage, outbox string) {
	if err := a.postResults(ctx, msg, outbox, api.StateFailed, runtime.ExitResult{ExitCode: -1}); err != nil {
		a.log.Error("failed to report failure", "job_id", msg.JobID, "error", err)
	}
}

// postResults uploads the packed outbox, terminal state and usage
// counters in one multipart request.
func (a *Agent) postResults(ctx context.Context, msg api.DispatchMessage, outbox, state string, result runtime.ExitResult) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("state", state)
	mw.WriteField("cpu", strconv.FormatInt(result.CPU, 10))
	mw.WriteField("memory", strconv.FormatInt(result.Memory, 10))
	mw.WriteField("io", strconv.FormatInt(result.IO, 10))

	fw, err := mw.CreateFormFile("results", "results.zip")
	if err != nil {
		return err
	}
	if err := archive.Pack(fw, outbox); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/execution/%s/results/%s",
		a.config.CoordinatorURL, msg.JobID, msg.ResultsToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("result upload returned status %d", resp.StatusCode)
	}
	return nil
}
