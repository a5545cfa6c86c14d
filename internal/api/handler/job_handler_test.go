package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/mpetrenko/notegen/internal/api/domain"
	"github.com/mpetrenko/notegen/internal/api/dto"
	"github.com/mpetrenko/notegen/internal/api/model"
	"github.com/mpetrenko/notegen/internal/api/storage"
	"github.com/mpetrenko/notegen/shared/logger"
)

type fakeStore struct {
	jobs      map[string]*model.Job
	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]*model.Job)}
}

func (f *fakeStore) CreateJob(_ context.Context, job *model.Job) error {
	if f.createErr != nil {
		return f.createErr
	}
	cp := *job
	f.jobs[job.JobID] = &cp
	return nil
}

func (f *fakeStore) GetJobByID(_ context.Context, jobID string) (*model.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (f *fakeStore) ListJobs(_ context.Context, filter storage.JobFilter) ([]model.Job, error) {
	var jobs []model.Job
	for _, j := range f.jobs {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.Cursor != nil && !j.SubmittedAt.Before(filter.Cursor.SubmittedAt) {
			continue
		}
		jobs = append(jobs, *j)
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].SubmittedAt.After(jobs[k].SubmittedAt)
	})
	if len(jobs) > filter.PageSize+1 {
		jobs = jobs[:filter.PageSize+1]
	}
	return jobs, nil
}

type fakePublisher struct {
	published  [][]byte
	publishErr error
}

func (f *fakePublisher) PublishWithRetry(_ context.Context, body []byte, _ string) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, body)
	return nil
}

func setupTestHandler(store JobStore, pub QueuePublisher) *gin.Engine {
	gin.SetMode(gin.TestMode)

	deps := &Dependencies{
		Logger:      logger.NewDefault().Logger,
		Store:       store,
		Publisher:   pub,
		MaxAttempts: 3,
	}
	h := NewJobHandler(deps)

	r := gin.New()
	r.POST("/jobs", h.SubmitJob)
	r.GET("/jobs", h.ListJobs)
	r.GET("/jobs/:job_id", h.GetJob)
	return r
}

func TestSubmitJob(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantErr    string
	}{
		{
			name:       "valid submission",
			body:       `{"title":"Lec1","source_ref":"https://x/lec1.mp4"}`,
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "missing title",
			body:       `{"source_ref":"https://x/lec1.mp4"}`,
			wantStatus: http.StatusBadRequest,
			wantErr:    "required",
		},
		{
			name:       "missing source_ref",
			body:       `{"title":"Lec1"}`,
			wantStatus: http.StatusBadRequest,
			wantErr:    "required",
		},
		{
			name:       "forbidden scheme",
			body:       `{"title":"Lec1","source_ref":"ftp://x/lec1.mp4"}`,
			wantStatus: http.StatusBadRequest,
			wantErr:    "scheme",
		},
		{
			name:       "not a url",
			body:       `{"title":"Lec1","source_ref":"::not-a-url"}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			pub := &fakePublisher{}
			r := setupTestHandler(store, pub)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)

			if tt.wantStatus == http.StatusAccepted {
				var resp dto.SubmitJobResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				require.NotEmpty(t, resp.JobID)

				// Record exists at queued with zero attempts
				job := store.jobs[resp.JobID]
				require.NotNil(t, job)
				assert.Equal(t, domain.JobStatusQueued, job.Status)
				assert.Equal(t, 0, job.AttemptCount)
				assert.Equal(t, 3, job.MaxAttempts)

				// One queue message referencing the job
				require.Len(t, pub.published, 1)
				var msg dto.QueueMessage
				require.NoError(t, json.Unmarshal(pub.published[0], &msg))
				assert.Equal(t, resp.JobID, msg.JobID)
				assert.NotEmpty(t, msg.EnqueuedAt)
			} else {
				// Validation failure must have no side effects
				assert.Empty(t, store.jobs)
				assert.Empty(t, pub.published)
				if tt.wantErr != "" {
					assert.Contains(t, w.Body.String(), tt.wantErr)
				}
			}
		})
	}
}

func TestSubmitJob_EnqueueFailure(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{publishErr: fmt.Errorf("broker unavailable")}
	r := setupTestHandler(store, pub)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/jobs",
		bytes.NewBufferString(`{"title":"Lec1","source_ref":"https://x/lec1.mp4"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	// The queued row stays behind as a detectable anomaly
	assert.Len(t, store.jobs, 1)
}

func TestGetJob(t *testing.T) {
	store := newFakeStore()
	jobID := uuid.New().String()
	store.jobs[jobID] = &model.Job{
		JobID:        jobID,
		Title:        "Lec1",
		SourceRef:    "https://x/lec1.mp4",
		Status:       domain.JobStatusSucceeded,
		ResultRef:    sql.NullString{String: "job/" + jobID + "/notes", Valid: true},
		AttemptCount: 1,
		SubmittedAt:  time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	r := setupTestHandler(store, &fakePublisher{})

	t.Run("known job", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/jobs/"+jobID, nil)
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.JobDTO
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, domain.JobStatusSucceeded, resp.Status)
		assert.Equal(t, "job/"+jobID+"/notes", resp.ResultRef)
		assert.Empty(t, resp.ErrorDetail)
	})

	t.Run("unknown job", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/jobs/"+uuid.New().String(), nil)
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("invalid id", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/jobs/not-a-uuid", nil)
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetJob_DeadLetteredExposesErrorDetail(t *testing.T) {
	store := newFakeStore()
	jobID := uuid.New().String()
	store.jobs[jobID] = &model.Job{
		JobID:        jobID,
		Title:        "Lec2",
		SourceRef:    "https://x/lec2.avi",
		Status:       domain.JobStatusDeadLettered,
		ErrorDetail:  sql.NullString{String: "unsupported format", Valid: true},
		AttemptCount: 1,
		SubmittedAt:  time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	r := setupTestHandler(store, &fakePublisher{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/jobs/"+jobID, nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.JobDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.JobStatusDeadLettered, resp.Status)
	assert.Equal(t, "unsupported format", resp.ErrorDetail)
	assert.Empty(t, resp.ResultRef)
}

func TestListJobs_Pagination(t *testing.T) {
	store := newFakeStore()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		id := uuid.New().String()
		store.jobs[id] = &model.Job{
			JobID:       id,
			Title:       fmt.Sprintf("Lec%d", i),
			SourceRef:   "https://x/lec.mp4",
			Status:      domain.JobStatusQueued,
			SubmittedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt:   base,
		}
	}

	r := setupTestHandler(store, &fakePublisher{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/jobs?page_size=2", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var page1 dto.ListJobsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page1))
	assert.Len(t, page1.Jobs, 2)
	require.NotEmpty(t, page1.NextCursor)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/jobs?page_size=2&cursor="+page1.NextCursor, nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var page2 dto.ListJobsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page2))
	assert.Len(t, page2.Jobs, 2)

	// No overlap between pages
	seen := map[string]bool{}
	for _, j := range page1.Jobs {
		seen[j.JobID] = true
	}
	for _, j := range page2.Jobs {
		assert.False(t, seen[j.JobID], "job %s appeared on both pages", j.JobID)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	cursor := &storage.JobCursor{
		SubmittedAt: time.Unix(0, 1700000000123456789),
		JobID:       uuid.New().String(),
	}

	decoded, err := DecodeJobCursor(EncodeJobCursor(cursor))
	require.NoError(t, err)
	assert.True(t, cursor.SubmittedAt.Equal(decoded.SubmittedAt))
	assert.Equal(t, cursor.JobID, decoded.JobID)

	_, err = DecodeJobCursor("%%%not-base64%%%")
	assert.Error(t, err)

	empty, err := DecodeJobCursor("")
	require.NoError(t, err)
	assert.Nil(t, empty)
}
