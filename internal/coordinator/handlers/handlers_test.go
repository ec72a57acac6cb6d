package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"

	"github.com/adimian/kabuto/internal/coordinator/middleware"
	"github.com/adimian/kabuto/internal/lifecycle"
	"github.com/adimian/kabuto/internal/registry"
	"github.com/adimian/kabuto/internal/store"

	"github.com/google/uuid"
)

// Mock Store
type mockStore struct {
	pingErr error

	// User hooks
	createUserErr error
	userResp      *store.User
	userErr       error

	// Image hooks
	createImageErr error
	imageResp      *store.Image
	imageErr       error
	imagesResp     []store.Image
	updateImageErr error
	deleteImageErr error

	// Pipeline hooks
	createPipelineErr error
	pipelineResp      *store.Pipeline
	pipelineErr       error
	pipelinesResp     []store.Pipeline

	// Job hooks
	jobResp  *store.Job
	jobErr   error
	jobsResp []store.Job
	jobsErr  error

	// Log hooks
	logLinesResp []store.LogLine
	logLinesErr  error
}

func (m *mockStore) Ping(ctx context.Context) error { return m.pingErr }

func (m *mockStore) CreateUser(ctx context.Context, user *store.User, hashedKey string) error {
	return m.createUserErr
}

func (m *mockStore) GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error) {
	return m.userResp, m.userErr
}

func (m *mockStore) GetUserByAPIKeyHash(ctx context.Context, hash string) (*store.User, error) {
	return m.userResp, m.userErr
}

func (m *mockStore) CreateImage(ctx context.Context, img *store.Image) error {
	return m.createImageErr
}

func (m *mockStore) GetImage(ctx context.Context, id, ownerID uuid.UUID) (*store.Image, error) {
	return m.imageResp, m.imageErr
}

func (m *mockStore) ListImages(ctx context.Context, ownerID uuid.UUID) ([]store.Image, error) {
	return m.imagesResp, m.imageErr
}

func (m *mockStore) UpdateImage(ctx context.Context, img *store.Image) error {
	return m.updateImageErr
}

func (m *mockStore) DeleteImage(ctx context.Context, id, ownerID uuid.UUID) error {
	return m.deleteImageErr
}

func (m *mockStore) CreatePipeline(ctx context.Context, p *store.Pipeline) error {
	return m.createPipelineErr
}

func (m *mockStore) GetPipeline(ctx context.Context, id, ownerID uuid.UUID) (*store.Pipeline, error) {
	return m.pipelineResp, m.pipelineErr
}

func (m *mockStore) ListPipelines(ctx context.Context, ownerID uuid.UUID) ([]store.Pipeline, error) {
	return m.pipelinesResp, m.pipelineErr
}

func (m *mockStore) DeletePipeline(ctx context.Context, tx store.DBTransaction, id uuid.UUID) error {
	return m.pipelineErr
}

func (m *mockStore) CreateJob(ctx context.Context, job *store.Job) error { return m.jobErr }

func (m *mockStore) GetJob(ctx context.Context, id, ownerID uuid.UUID) (*store.Job, error) {
	return m.jobResp, m.jobErr
}

func (m *mockStore) GetJobByToken(ctx context.Context, id uuid.UUID, token string, scope store.TokenScope) (*store.Job, error) {
	return m.jobResp, m.jobErr
}

func (m *mockStore) ListJobs(ctx context.Context, ownerID uuid.UUID) ([]store.Job, error) {
	return m.jobsResp, m.jobsErr
}

func (m *mockStore) ListPipelineJobs(ctx context.Context, pipelineID uuid.UUID) ([]store.Job, error) {
	return m.jobsResp, m.jobsErr
}

func (m *mockStore) UpdateJobSpec(ctx context.Context, id uuid.UUID, command string, imageID uuid.UUID) error {
	return m.jobErr
}

func (m *mockStore) SetJobState(ctx context.Context, id uuid.UUID, state store.JobState) error {
	return m.jobErr
}

func (m *mockStore) MarkJobRunning(ctx context.Context, id uuid.UUID) error { return m.jobErr }

func (m *mockStore) SetContainerID(ctx context.Context, id uuid.UUID, containerID string) error {
	return m.jobErr
}

func (m *mockStore) RecordResult(ctx context.Context, id uuid.UUID, state store.JobState, cpu, memory, io int64) error {
	return m.jobErr
}

func (m *mockStore) DeleteJob(ctx context.Context, id uuid.UUID) error { return m.jobErr }

func (m *mockStore) ResequenceJobs(ctx context.Context, pipelineID uuid.UUID, ordered []uuid.UUID) error {
	return m.jobErr
}

func (m *mockStore) CountJobsInState(ctx context.Context, state store.JobState) (int64, error) {
	return 0, nil
}

func (m *mockStore) AppendLogLines(ctx context.Context, jobID uuid.UUID, lines []string) error {
	return m.logLinesErr
}

func (m *mockStore) GetLogLines(ctx context.Context, jobID uuid.UUID, afterID int64) ([]store.LogLine, error) {
	return m.logLinesResp, m.logLinesErr
}

// Mock lifecycle manager
type mockLifecycle struct {
	createJobResp *store.Job
	createJobErr  error
	updateJobResp *store.Job
	updateJobErr  error
	submitResp    map[uuid.UUID]store.JobState
	submitErr     error
	deleteJobErr  error
	killErr       error
	deletePipeErr error
	rearrangeErr  error

	packAttachmentsErr error
	attachmentsPayload []byte
	postResultsErr     error
	packResultsErr     error
	resultsPayload     []byte
	recordContainerErr error
	depositLogsErr     error
	withdrawResp       []store.LogLine
	withdrawErr        error

	// Spies
	capturedToken     string
	capturedAfterID   int64
	capturedOrdered   []uuid.UUID
	capturedState     store.JobState
	capturedContainer string
	capturedLines     []string
}

func (m *mockLifecycle) CreateJob(ctx context.Context, ownerID, pipelineID, imageID uuid.UUID, command string, attachments []lifecycle.Attachment) (*store.Job, error) {
	return m.createJobResp, m.createJobErr
}

func (m *mockLifecycle) UpdateJob(ctx context.Context, ownerID, pipelineID, jobID uuid.UUID, command string, imageID uuid.UUID) (*store.Job, error) {
	return m.updateJobResp, m.updateJobErr
}

func (m *mockLifecycle) Submit(ctx context.Context, ownerID, pipelineID uuid.UUID) (map[uuid.UUID]store.JobState, error) {
	return m.submitResp, m.submitErr
}

func (m *mockLifecycle) DeleteJob(ctx context.Context, ownerID, pipelineID, jobID uuid.UUID) error {
	return m.deleteJobErr
}

func (m *mockLifecycle) Kill(ctx context.Context, ownerID, jobID uuid.UUID) error {
	return m.killErr
}

func (m *mockLifecycle) DeletePipeline(ctx context.Context, ownerID, pipelineID uuid.UUID) error {
	return m.deletePipeErr
}

func (m *mockLifecycle) Rearrange(ctx context.Context, ownerID, pipelineID uuid.UUID, ordered []uuid.UUID) error {
	m.capturedOrdered = ordered
	return m.rearrangeErr
}

func (m *mockLifecycle) PackAttachments(ctx context.Context, jobID uuid.UUID, token string, w io.Writer, remoteAddr string) error {
	m.capturedToken = token
	if m.packAttachmentsErr != nil {
		return m.packAttachmentsErr
	}
	w.Write(m.attachmentsPayload)
	return nil
}

func (m *mockLifecycle) PostResults(ctx context.Context, jobID uuid.UUID, token string, results io.ReaderAt, size int64, state store.JobState, cpu, memory, ioUsage int64, remoteAddr string) error {
	m.capturedToken = token
	m.capturedState = state
	return m.postResultsErr
}

func (m *mockLifecycle) PackResults(ctx context.Context, ownerID, jobID uuid.UUID, w io.Writer) error {
	if m.packResultsErr != nil {
		return m.packResultsErr
	}
	w.Write(m.resultsPayload)
	return nil
}

func (m *mockLifecycle) RecordContainer(ctx context.Context, jobID uuid.UUID, token, containerID, remoteAddr string) error {
	m.capturedToken = token
	m.capturedContainer = containerID
	return m.recordContainerErr
}

func (m *mockLifecycle) DepositLogs(ctx context.Context, jobID uuid.UUID, token string, lines []string, remoteAddr string) error {
	m.capturedToken = token
	m.capturedLines = lines
	return m.depositLogsErr
}

func (m *mockLifecycle) WithdrawLogs(ctx context.Context, ownerID, jobID uuid.UUID, afterID int64) ([]store.LogLine, error) {
	m.capturedAfterID = afterID
	return m.withdrawResp, m.withdrawErr
}

// Mock image builder
type mockBuilder struct {
	buildRef    string
	buildOutput []string
	buildErr    error
	removeErr   error

	capturedSpec registry.BuildSpec
}

func (m *mockBuilder) Build(ctx context.Context, spec registry.BuildSpec) (string, []string, error) {
	m.capturedSpec = spec
	return m.buildRef, m.buildOutput, m.buildErr
}

func (m *mockBuilder) Remove(ctx context.Context, ref string) error { return m.removeErr }

func newTestHandlers(s *mockStore, lc *mockLifecycle, b *mockBuilder) *Handlers {
	if s == nil {
		s = &mockStore{}
	}
	if lc == nil {
		lc = &mockLifecycle{}
	}
	if b == nil {
		b = &mockBuilder{}
	}
	return New(s, lc, b, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// authedRequest attaches an authenticated user the way the auth
// middleware would.
func authedRequest(r *http.Request, user *store.User) *http.Request {
	return r.WithContext(middleware.NewContextWithUser(r.Context(), user))
}

func testUser() *store.User {
	return &store.User{ID: uuid.New(), Login: "alice"}
}

func doRequest(h http.HandlerFunc, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, r)
	return rec
}
