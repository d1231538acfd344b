package googleforms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/forms/v1"
	"google.golang.org/api/option"

	coreconfig "github.com/m3rciful/formbot/core/config"
	"github.com/m3rciful/formbot/internal/dispatch"
	"github.com/m3rciful/formbot/internal/validate"
)

// fakeAPI serves the handful of Forms and Drive endpoints the client calls.
type fakeAPI struct {
	mu       sync.Mutex
	requests []string
	formGets int
	filter   string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	reply := func(v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	fail := func(code int) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": code, "message": http.StatusText(code)}})
	}

	switch p := r.URL.Path; {
	case p == "/v1/forms/missing":
		fail(http.StatusNotFound)
	case p == "/v1/forms/private":
		fail(http.StatusForbidden)
	case r.Method == http.MethodGet && p == "/v1/forms/F1":
		f.mu.Lock()
		f.formGets++
		f.mu.Unlock()
		reply(sampleForm())
	case r.Method == http.MethodGet && p == "/v1/forms/F1/watches":
		reply(forms.ListWatchesResponse{Watches: []*forms.Watch{
			{Id: "w1", EventType: "RESPONSES", ExpireTime: "2026-01-02T03:04:05Z"},
			{Id: "w2", EventType: "SCHEMA"},
		}})
	case r.Method == http.MethodPost && p == "/v1/forms/F1/watches":
		var req forms.CreateWatchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		reply(forms.Watch{Id: "new", EventType: req.Watch.EventType, Target: req.Watch.Target, ExpireTime: "2026-01-09T00:00:00Z"})
	case r.Method == http.MethodPost && p == "/v1/forms/F1/watches/w1:renew":
		reply(forms.Watch{Id: "w1", EventType: "RESPONSES", ExpireTime: "2026-01-16T00:00:00Z"})
	case r.Method == http.MethodDelete && p == "/v1/forms/F1/watches/w1":
		reply(struct{}{})
	case r.Method == http.MethodGet && p == "/v1/forms/F1/responses":
		f.mu.Lock()
		f.filter = r.URL.Query().Get("filter")
		f.mu.Unlock()
		if r.URL.Query().Get("pageToken") == "" {
			reply(forms.ListFormResponsesResponse{
				NextPageToken: "p2",
				Responses: []*forms.FormResponse{{
					ResponseId:        "r2",
					LastSubmittedTime: "2026-01-01T10:00:05Z",
					Answers:           map[string]forms.Answer{"q1": {TextAnswers: &forms.TextAnswers{Answers: []*forms.TextAnswer{{Value: "Bo"}}}}},
				}},
			})
			return
		}
		reply(forms.ListFormResponsesResponse{Responses: []*forms.FormResponse{{
			ResponseId:        "r1",
			LastSubmittedTime: "2026-01-01T10:00:00Z",
			Answers: map[string]forms.Answer{
				"q1": {TextAnswers: &forms.TextAnswers{Answers: []*forms.TextAnswer{{Value: "Al"}}}},
				"q2": {FileUploadAnswers: &forms.FileUploadAnswers{Answers: []*forms.FileUploadAnswer{{FileId: "file-1"}}}},
			},
		}}})
	case r.Method == http.MethodPost && p == "/drive/v3/files/file-1/permissions":
		reply(drive.Permission{Id: "anyoneWithLink", Type: "anyone", Role: "reader"})
	case r.Method == http.MethodGet && p == "/drive/v3/files/file-1":
		reply(drive.File{Id: "file-1", WebContentLink: "https://drive.example/file-1"})
	default:
		fail(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, topic string) (*Client, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	formsSvc, err := forms.NewService(ctx, option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication(), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	driveSvc, err := drive.NewService(ctx, option.WithEndpoint(srv.URL+"/drive/v3/"), option.WithoutAuthentication(), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return NewWithServices(formsSvc, driveSvc, coreconfig.GoogleConfig{PubSubTopic: topic}), api
}

func TestResolveFormIsCached(t *testing.T) {
	c, api := newTestClient(t, "")
	ctx := context.Background()

	f, err := c.ResolveForm(ctx, "F1")
	require.NoError(t, err)
	assert.Equal(t, "Intake", f.Title)
	assert.Len(t, f.Questions, 4)

	_, err = c.ResolveForm(ctx, "F1")
	require.NoError(t, err)
	assert.Equal(t, 1, api.formGets)
}

func TestResolveFormErrors(t *testing.T) {
	c, _ := newTestClient(t, "")
	_, err := c.ResolveForm(context.Background(), "missing")
	assert.ErrorIs(t, err, validate.ErrFormNotFound)
	_, err = c.ResolveForm(context.Background(), "private")
	assert.ErrorIs(t, err, validate.ErrFormPermission)
}

func TestWatches(t *testing.T) {
	c, _ := newTestClient(t, "projects/p/topics/t")
	w := c.Watches()
	ctx := context.Background()

	subs, err := w.List(ctx, "F1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "w1", subs[0].ID)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), subs[0].ExpireTime)

	created, err := w.Create(ctx, "F1")
	require.NoError(t, err)
	assert.Equal(t, "new", created.ID)
	assert.Equal(t, "F1", created.FormID)

	renewed, err := w.Renew(ctx, "F1", "w1")
	require.NoError(t, err)
	assert.Equal(t, 16, renewed.ExpireTime.Day())

	require.NoError(t, w.Delete(ctx, "F1", "w1"))

	_, err = w.List(ctx, "missing")
	assert.ErrorIs(t, err, validate.ErrFormNotFound)
}

func TestCreateWatchNeedsTopic(t *testing.T) {
	c, api := newTestClient(t, "")
	_, err := c.Watches().Create(context.Background(), "F1")
	require.Error(t, err)
	assert.Empty(t, api.requests)
}

func TestListSubmissions(t *testing.T) {
	c, api := newTestClient(t, "")
	since := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	events, err := c.ListSubmissions(context.Background(), "F1", since)
	require.NoError(t, err)
	assert.Equal(t, "timestamp >= 2026-01-01T09:00:00Z", api.filter)

	require.Len(t, events, 2)
	assert.Equal(t, "r1", events[0].ResponseID)
	assert.Equal(t, "r2", events[1].ResponseID)
	assert.Equal(t, []dispatch.ItemResponse{
		{QuestionTitle: "Name", Answers: []string{"Al"}, ItemType: dispatch.ItemText},
		{QuestionTitle: "Photos", Answers: []string{"file-1"}, ItemType: dispatch.ItemFileUpload},
	}, events[0].Responses)
}

func TestShareFile(t *testing.T) {
	c, api := newTestClient(t, "")
	link, err := c.ShareFile(context.Background(), "file-1")
	require.NoError(t, err)
	assert.Equal(t, "https://drive.example/file-1", link)
	assert.True(t, strings.HasPrefix(api.requests[0], "POST /drive/v3/files/file-1/permissions"))

	_, err = c.ShareFile(context.Background(), "nope")
	assert.Error(t, err)
}
