package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"renderdesk/internal/auth"
	"renderdesk/internal/httpapi/handlers"
	"renderdesk/internal/jobview"
	"renderdesk/internal/metrics"
	"renderdesk/internal/models"
	"renderdesk/internal/pkg/errors"
	"renderdesk/internal/pkg/logger"
	"renderdesk/internal/registry"
)

const testSecret = "test-secret"

type fakeWorker struct {
	items      []models.RenderJobMeta
	err        error
	configured bool
	gotClient  string
	// hang waits for the request deadline instead of answering.
	hang bool
}

func (f *fakeWorker) FetchQueue(ctx context.Context, client string) ([]models.RenderJobMeta, error) {
	f.gotClient = client
	if f.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.RenderJobMeta, len(f.items))
	for i, it := range f.items {
		out[i] = it.Clone()
	}
	return out, nil
}

func (f *fakeWorker) Configured() bool { return f.configured }

// downStore fails every call, like a Redis registry that lost its connection.
type downStore struct {
	registry.Store
}

var errRegistryDown = errors.New(errors.CodeInternal, "dial tcp 10.0.0.5:6379: connection refused")

func (downStore) Register(context.Context, models.RenderJobMeta) error { return errRegistryDown }
func (downStore) TryRegister(context.Context, models.RenderJobMeta) (string, error) {
	return "", errRegistryDown
}
func (downStore) List(context.Context, string) ([]models.RenderJobMeta, error) {
	return nil, errRegistryDown
}
func (downStore) RemoveFinished(context.Context, string) (int, error) { return 0, errRegistryDown }
func (downStore) IsBlocked(context.Context, string, string, string) (bool, error) {
	return false, errRegistryDown
}
func (downStore) UpsertStatus(context.Context, string, string, models.JobPatch) (bool, error) {
	return false, errRegistryDown
}
func (downStore) Delete(context.Context, string, string) error { return errRegistryDown }
func (downStore) Clients(context.Context) ([]string, error) { return nil, errRegistryDown }

type testEnv struct {
	store    *registry.MemoryStore
	worker   *fakeWorker
	sessions *auth.Sessions
	router   http.Handler
}

// blockDuplicates turns on the 409 for an active model/variant with a ttl for
// jobs the worker never reports.
func blockDuplicates(ttl time.Duration) func(*Deps) {
	return func(d *Deps) {
		d.BlockDuplicates = true
		d.PendingTTL = ttl
	}
}

func newTestEnv(t *testing.T, opts ...func(*Deps)) *testEnv {
	t.Helper()

	var buf bytes.Buffer
	log := logger.New(logger.Config{Level: "debug", Format: "json", Output: &buf})

	env := &testEnv{
		store:    registry.NewMemoryStore(),
		worker:   &fakeWorker{configured: true},
		sessions: auth.NewSessions(testSecret, ""),
	}
	deps := Deps{
		Deps: handlers.Deps{
			Store:    env.store,
			Worker:   env.worker,
			Resolver: auth.NewTenantResolver(nil),
			Policy:   jobview.DefaultPolicy(),
			Log:      log,
		},
		Sessions:       env.sessions,
		AllowedOrigins: []string{"http://localhost:5173"},
		RequestTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	env.router = NewRouter(deps)
	return env
}

func (e *testEnv) token(t *testing.T, client string) string {
	t.Helper()
	tok, err := e.sessions.Mint("user-1", client, time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

type errorResponse struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestRegisterJob(t *testing.T) {
	t.Run("stores pending job", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, http.MethodPost, "/api/render/jobs/register",
			`{"jobId":"j1","client":"Acme","modelName":"Chair","variantName":"oak","view":"front","status":"completed"}`, "")

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if strings.TrimSpace(rec.Body.String()) != `{"success":true}` {
			t.Errorf("unexpected body: %s", rec.Body.String())
		}

		jobs, _ := env.store.List(context.Background(), "Acme")
		if len(jobs) != 1 {
			t.Fatalf("expected 1 job, got %d", len(jobs))
		}
		if jobs[0].Status != models.StatusPending {
			t.Errorf("expected pending, got %s", jobs[0].Status)
		}
		if jobs[0].Variant() != "oak" || jobs[0].View != "front" {
			t.Errorf("expected optional fields to pass through, got %+v", jobs[0])
		}
		if _, err := time.Parse(time.RFC3339, jobs[0].CreatedAt); err != nil {
			t.Errorf("expected createdAt default, got %q", jobs[0].CreatedAt)
		}
	})

	t.Run("keeps submitted createdAt", func(t *testing.T) {
		env := newTestEnv(t)
		env.do(t, http.MethodPost, "/api/render/jobs/register",
			`{"jobId":"j1","client":"Acme","modelName":"Chair","createdAt":"2024-05-01T10:00:00.000Z"}`, "")

		jobs, _ := env.store.List(context.Background(), "Acme")
		if len(jobs) != 1 || jobs[0].CreatedAt != "2024-05-01T10:00:00.000Z" {
			t.Errorf("expected submitted createdAt, got %+v", jobs)
		}
	})

	missing := []struct {
		name string
		body string
	}{
		{"no jobId", `{"client":"Acme","modelName":"Chair"}`},
		{"no client", `{"jobId":"j1","modelName":"Chair"}`},
		{"no modelName", `{"jobId":"j1","client":"Acme"}`},
		{"empty modelName", `{"jobId":"j1","client":"Acme","modelName":""}`},
		{"empty body", ``},
		{"malformed json", `{"jobId":`},
	}
	for _, tt := range missing {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			rec := env.do(t, http.MethodPost, "/api/render/jobs/register", tt.body, "")

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if got := decode[errorResponse](t, rec).Error.Code; got != string(errors.CodeValidation) {
				t.Errorf("expected VALIDATION_ERROR, got %s", got)
			}
			clients, _ := env.store.Clients(context.Background())
			if len(clients) != 0 {
				t.Errorf("expected registry untouched, got clients %v", clients)
			}
		})
	}

	t.Run("whitespace values are stored as given", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, http.MethodPost, "/api/render/jobs/register", `{"jobId":"j1","client":"Acme","modelName":" "}`, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		jobs, _ := env.store.List(context.Background(), "Acme")
		if len(jobs) != 1 || jobs[0].ModelName != " " {
			t.Errorf("expected model name kept verbatim, got %+v", jobs)
		}
	})

	t.Run("same model twice is tracked twice", func(t *testing.T) {
		env := newTestEnv(t)

		for _, id := range []string{"j1", "j2"} {
			rec := env.do(t, http.MethodPost, "/api/render/jobs/register",
				`{"jobId":"`+id+`","client":"Acme","modelName":"Chair","variantName":null}`, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("%s: expected 200, got %d: %s", id, rec.Code, rec.Body.String())
			}
			if strings.TrimSpace(rec.Body.String()) != `{"success":true}` {
				t.Errorf("%s: unexpected body: %s", id, rec.Body.String())
			}
		}

		jobs, _ := env.store.List(context.Background(), "Acme")
		if len(jobs) != 2 {
			t.Fatalf("expected both jobs stored, got %d", len(jobs))
		}
		for _, j := range jobs {
			if j.Status != models.StatusPending || j.ModelName != "Chair" || j.VariantName != nil {
				t.Errorf("expected pending Chair without variant, got %+v", j)
			}
		}
	})

	t.Run("registry down", func(t *testing.T) {
		env := newTestEnv(t, func(d *Deps) { d.Store = downStore{} })

		rec := env.do(t, http.MethodPost, "/api/render/jobs/register", `{"jobId":"j1","client":"Acme","modelName":"Chair"}`, "")

		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d: %s", rec.Code, rec.Body.String())
		}
		body := decode[errorResponse](t, rec)
		if body.Error.Message != "registry unavailable" || strings.Contains(rec.Body.String(), "10.0.0.5") {
			t.Errorf("expected a generic message without the cause, got %s", rec.Body.String())
		}
	})

	t.Run("other variant is not blocked", func(t *testing.T) {
		env := newTestEnv(t)
		env.do(t, http.MethodPost, "/api/render/jobs/register", `{"jobId":"j1","client":"Acme","modelName":"Chair"}`, "")

		rec := env.do(t, http.MethodPost, "/api/render/jobs/register", `{"jobId":"j2","client":"Acme","modelName":"Chair","variantName":"oak"}`, "")
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("resubmitting the same job merges", func(t *testing.T) {
		env := newTestEnv(t)
		env.do(t, http.MethodPost, "/api/render/jobs/register", `{"jobId":"j1","client":"Acme","modelName":"Chair"}`, "")

		rec := env.do(t, http.MethodPost, "/api/render/jobs/register", `{"jobId":"j1","client":"Acme","modelName":"Chair","format":"png"}`, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		jobs, _ := env.store.List(context.Background(), "Acme")
		if len(jobs) != 1 || jobs[0].Format != "png" {
			t.Errorf("expected merged job, got %+v", jobs)
		}
	})
}

func TestRegisterJobBlockDuplicates(t *testing.T) {
	t.Run("refuses a second active render", func(t *testing.T) {
		env := newTestEnv(t, blockDuplicates(time.Hour))
		env.do(t, http.MethodPost, "/api/render/jobs/register", `{"jobId":"j1","client":"Acme","modelName":"Chair"}`, "")

		rec := env.do(t, http.MethodPost, "/api/render/jobs/register", `{"jobId":"j2","client":"Acme","modelName":"Chair"}`, "")

		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
		}
		body := decode[errorResponse](t, rec)
		if body.Error.Code != string(errors.CodeRenderBlocked) {
			t.Errorf("expected RENDER_BLOCKED, got %s", body.Error.Code)
		}
		if body.Error.Details["blockingJobId"] != "j1" {
			t.Errorf("expected blockingJobId j1, got %v", body.Error.Details)
		}

		jobs, _ := env.store.List(context.Background(), "Acme")
		if len(jobs) != 1 {
			t.Errorf("expected blocked job not stored, got %d jobs", len(jobs))
		}
	})

	t.Run("listing frees the slot of a job the worker never saw", func(t *testing.T) {
		env := newTestEnv(t, blockDuplicates(15*time.Minute))
		ctx := context.Background()
		tok := env.token(t, "Acme")

		env.do(t, http.MethodPost, "/api/render/jobs/register",
			`{"jobId":"lost","client":"Acme","modelName":"Chair","createdAt":"2024-05-01T10:00:00.000Z"}`, "")
		env.do(t, http.MethodPost, "/api/render/jobs/register",
			`{"jobId":"busy","client":"Acme","modelName":"Sofa","createdAt":"2024-05-01T10:00:00.000Z"}`, "")
		env.do(t, http.MethodPost, "/api/render/jobs/register", `{"jobId":"fresh","client":"Acme","modelName":"Lamp"}`, "")
		env.worker.items = []models.RenderJobMeta{{JobID: "busy", Status: models.StatusRunning}}

		if rec := env.do(t, http.MethodPost, "/api/render/jobs/register", `{"jobId":"retry","client":"Acme","modelName":"Chair"}`, ""); rec.Code != http.StatusConflict {
			t.Fatalf("expected 409 before listing, got %d", rec.Code)
		}

		if rec := env.do(t, http.MethodGet, "/api/render/jobs/list", "", tok); rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		status := map[string]models.Status{}
		jobs, _ := env.store.List(ctx, "Acme")
		for _, j := range jobs {
			status[j.JobID] = j.Status
		}
		if status["lost"] != models.StatusFailed {
			t.Errorf("expected unreported old job failed, got %s", status["lost"])
		}
		if status["busy"] != models.StatusRunning {
			t.Errorf("expected reported job kept, got %s", status["busy"])
		}
		if status["fresh"] != models.StatusPending {
			t.Errorf("expected young job kept, got %s", status["fresh"])
		}

		rec := env.do(t, http.MethodPost, "/api/render/jobs/register", `{"jobId":"retry","client":"Acme","modelName":"Chair"}`, "")
		if rec.Code != http.StatusOK {
			t.Errorf("expected resubmission admitted after expiry, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("listing leaves jobs alone when duplicates are allowed", func(t *testing.T) {
		env := newTestEnv(t)
		env.do(t, http.MethodPost, "/api/render/jobs/register",
			`{"jobId":"lost","client":"Acme","modelName":"Chair","createdAt":"2024-05-01T10:00:00.000Z"}`, "")

		env.do(t, http.MethodGet, "/api/render/jobs/list", "", env.token(t, "Acme"))

		jobs, _ := env.store.List(context.Background(), "Acme")
		if len(jobs) != 1 || jobs[0].Status != models.StatusPending {
			t.Errorf("expected job still pending, got %+v", jobs)
		}
	})
}

func TestListJobs(t *testing.T) {
	t.Run("requires a session", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, http.MethodGet, "/api/render/jobs/list", "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
		if decode[errorResponse](t, rec).Error.Message != "Unauthorized" {
			t.Errorf("unexpected body: %s", rec.Body.String())
		}
	})

	t.Run("rejects a token signed with another secret", func(t *testing.T) {
		env := newTestEnv(t)
		tok, _ := auth.NewSessions("other", "").Mint("user-1", "Acme", time.Hour)

		rec := env.do(t, http.MethodGet, "/api/render/jobs/list", "", tok)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("accepts the session cookie", func(t *testing.T) {
		env := newTestEnv(t)

		req := httptest.NewRequest(http.MethodGet, "/api/render/jobs/list", nil)
		req.AddCookie(&http.Cookie{Name: auth.DefaultCookieName, Value: env.token(t, "Acme")})
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("defaults tenant to Shared", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, http.MethodGet, "/api/render/jobs/list", "", env.token(t, ""))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if env.worker.gotClient != auth.SharedTenant {
			t.Errorf("expected tenant %s, got %s", auth.SharedTenant, env.worker.gotClient)
		}
	})

	t.Run("builds a bounded view", func(t *testing.T) {
		env := newTestEnv(t)
		for i := 0; i < 12; i++ {
			pos := 12 - i
			env.worker.items = append(env.worker.items, models.RenderJobMeta{
				JobID:         "a" + string(rune('a'+i)),
				Status:        models.StatusQueued,
				QueuePosition: &pos,
			})
		}
		for i := 0; i < 3; i++ {
			env.worker.items = append(env.worker.items, models.RenderJobMeta{
				JobID:  "f" + string(rune('a'+i)),
				Status: models.StatusCompleted,
			})
		}

		rec := env.do(t, http.MethodGet, "/api/render/jobs/list", "", env.token(t, "Acme"))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		v := decode[jobview.View](t, rec)
		if v.Total != 15 || v.ActiveCount != 12 || v.TrackedActiveCount != 10 || v.QueuedCount != 2 || v.FinishedCount != 3 {
			t.Errorf("unexpected counts: %+v", v)
		}
		if !v.Limited {
			t.Error("expected limited")
		}
		if len(v.Items) != 13 {
			t.Fatalf("expected 13 items, got %d", len(v.Items))
		}
		if *v.Items[0].QueuePosition != 1 {
			t.Errorf("expected front of queue first, got position %d", *v.Items[0].QueuePosition)
		}
		if env.worker.gotClient != "Acme" {
			t.Errorf("expected tenant Acme, got %s", env.worker.gotClient)
		}
	})

	t.Run("syncs registry and merges descriptive fields", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		_ = env.store.Register(ctx, models.RenderJobMeta{
			JobID: "j1", Client: "Acme", ModelName: "Chair", View: "front", CreatedAt: "2024-01-01T00:00:00.000Z",
		})
		progress := 55.0
		env.worker.items = []models.RenderJobMeta{
			{JobID: "j1", Status: models.StatusRunning, Progress: &progress},
			{JobID: "ghost", Status: models.StatusQueued},
		}

		rec := env.do(t, http.MethodGet, "/api/render/jobs/list", "", env.token(t, "Acme"))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		v := decode[jobview.View](t, rec)
		var listed models.RenderJobMeta
		for _, it := range v.Items {
			if it.JobID == "j1" {
				listed = it
			}
		}
		if listed.ModelName != "Chair" || listed.View != "front" {
			t.Errorf("expected registry fields merged, got %+v", listed)
		}

		jobs, _ := env.store.List(ctx, "Acme")
		if len(jobs) != 1 {
			t.Fatalf("expected unknown upstream job not inserted, got %d jobs", len(jobs))
		}
		if jobs[0].Status != models.StatusRunning || jobs[0].Progress == nil || *jobs[0].Progress != 55 {
			t.Errorf("expected registry updated from upstream, got %+v", jobs[0])
		}
	})

	t.Run("status-less upstream item keeps pending", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		_ = env.store.Register(ctx, models.RenderJobMeta{
			JobID: "j1", Client: "Acme", ModelName: "Chair", CreatedAt: "2024-01-01T00:00:00.000Z", Status: models.StatusPending,
		})
		env.worker.items = []models.RenderJobMeta{{JobID: "j1"}}

		rec := env.do(t, http.MethodGet, "/api/render/jobs/list", "", env.token(t, "Acme"))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if v := decode[jobview.View](t, rec); len(v.Items) != 1 || v.Items[0].Status != models.StatusPending {
			t.Errorf("expected listed as pending, got %+v", v.Items)
		}
		jobs, _ := env.store.List(ctx, "Acme")
		if jobs[0].Status != models.StatusPending {
			t.Errorf("expected registry still pending, got %s", jobs[0].Status)
		}
	})

	t.Run("worker slower than the request deadline", func(t *testing.T) {
		env := newTestEnv(t, func(d *Deps) { d.RequestTimeout = 20 * time.Millisecond })
		env.worker.hang = true

		rec := env.do(t, http.MethodGet, "/api/render/jobs/list", "", env.token(t, "Acme"))

		if rec.Code != http.StatusGatewayTimeout {
			t.Fatalf("expected 504, got %d: %s", rec.Code, rec.Body.String())
		}
		body := decode[errorResponse](t, rec)
		if body.Error.Code != string(errors.CodeTimeout) || body.Error.Details["operation"] != "renderjobs.list" {
			t.Errorf("unexpected body: %s", rec.Body.String())
		}
	})

	errs := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"worker not configured", errors.NotConfigured("Server not configured"), http.StatusInternalServerError, "Server not configured"},
		{"upstream status relayed", errors.Upstream("render worker", http.StatusServiceUnavailable, "queue paused"), http.StatusServiceUnavailable, "queue paused"},
		{"unexpected failure", context.DeadlineExceeded, http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range errs {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.worker.err = tt.err

			rec := env.do(t, http.MethodGet, "/api/render/jobs/list", "", env.token(t, "Acme"))

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if got := decode[errorResponse](t, rec).Error.Message; got != tt.wantMsg {
				t.Errorf("expected message %q, got %q", tt.wantMsg, got)
			}
		})
	}
}

func TestLocalAndBlocked(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_ = env.store.Register(ctx, models.RenderJobMeta{JobID: "j1", Client: "Acme", ModelName: "Chair", CreatedAt: "2024-01-01"})
	_ = env.store.Register(ctx, models.RenderJobMeta{JobID: "j2", Client: "Acme", ModelName: "Sofa", CreatedAt: "2024-01-02", Status: models.StatusCompleted})
	_ = env.store.Register(ctx, models.RenderJobMeta{JobID: "x1", Client: "Other", ModelName: "Chair", CreatedAt: "2024-01-03"})
	tok := env.token(t, "Acme")

	rec := env.do(t, http.MethodGet, "/api/render/jobs/local", "", tok)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	local := decode[struct {
		Items []models.RenderJobMeta `json:"items"`
	}](t, rec)
	if len(local.Items) != 2 || local.Items[0].JobID != "j2" {
		t.Errorf("expected Acme jobs newest first, got %+v", local.Items)
	}

	tests := []struct {
		query string
		want  bool
	}{
		{"modelName=Chair", true},
		{"modelName=Sofa", false},
		{"modelName=Chair&variantName=oak", false},
		{"modelName=Table", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/render/jobs/blocked?"+tt.query, "", tok)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			got := decode[map[string]bool](t, rec)["blocked"]
			if got != tt.want {
				t.Errorf("expected blocked=%v, got %v", tt.want, got)
			}
		})
	}

	t.Run("modelName required", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/render/jobs/blocked", "", tok)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestRegistryUnavailable(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Store = downStore{} })
	tok := env.token(t, "Acme")

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/render/jobs/local"},
		{http.MethodGet, "/api/render/jobs/blocked?modelName=Chair"},
		{http.MethodPost, "/api/render/jobs/prune"},
		{http.MethodDelete, "/api/render/jobs/j1"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, "", tok)

			if rec.Code != http.StatusServiceUnavailable {
				t.Fatalf("expected 503, got %d: %s", rec.Code, rec.Body.String())
			}
			body := decode[errorResponse](t, rec)
			if body.Error.Code != string(errors.CodeUnavailable) || body.Error.Details["backend"] != "registry" {
				t.Errorf("unexpected body: %s", rec.Body.String())
			}
		})
	}

	t.Run("list still serves worker data", func(t *testing.T) {
		env.worker.items = []models.RenderJobMeta{{JobID: "j1", Status: models.StatusQueued}}

		rec := env.do(t, http.MethodGet, "/api/render/jobs/list", "", tok)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if v := decode[jobview.View](t, rec); v.Total != 1 {
			t.Errorf("expected the worker item, got %+v", v)
		}
	})
}

func TestPruneAndDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_ = env.store.Register(ctx, models.RenderJobMeta{JobID: "j1", Client: "Acme", ModelName: "Chair", CreatedAt: "2024-01-01"})
	_ = env.store.Register(ctx, models.RenderJobMeta{JobID: "j2", Client: "Acme", ModelName: "Sofa", CreatedAt: "2024-01-02", Status: models.StatusCompleted})
	_ = env.store.Register(ctx, models.RenderJobMeta{JobID: "j3", Client: "Acme", ModelName: "Lamp", CreatedAt: "2024-01-03", Status: models.StatusFailed})
	tok := env.token(t, "Acme")

	rec := env.do(t, http.MethodPost, "/api/render/jobs/prune", "", tok)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decode[map[string]int](t, rec)["removed"]; got != 2 {
		t.Errorf("expected 2 removed, got %d", got)
	}

	rec = env.do(t, http.MethodPost, "/api/render/jobs/prune", "", tok)
	if got := decode[map[string]int](t, rec)["removed"]; got != 0 {
		t.Errorf("expected prune to be idempotent, got %d", got)
	}

	rec = env.do(t, http.MethodDelete, "/api/render/jobs/j1", "", tok)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	jobs, _ := env.store.List(ctx, "Acme")
	if len(jobs) != 0 {
		t.Errorf("expected empty bucket, got %+v", jobs)
	}

	rec = env.do(t, http.MethodDelete, "/api/render/jobs/missing", "", tok)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected deleting an unknown job to succeed, got %d", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	metrics.MustRegister()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK || decode[map[string]any](t, rec)["status"] != "ok" {
		t.Errorf("unexpected health: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/health?deep=true", "", "")
	body := decode[struct {
		Status string                    `json:"status"`
		Checks map[string]map[string]any `json:"checks"`
	}](t, rec)
	if body.Status != "ok" {
		t.Errorf("expected ok with disabled dependencies, got %s", body.Status)
	}
	if body.Checks["postgres"]["status"] != "disabled" || body.Checks["redis"]["status"] != "disabled" {
		t.Errorf("expected disabled checks, got %v", body.Checks)
	}
	if body.Checks["registry"]["backend"] != registry.BackendMemory {
		t.Errorf("expected memory backend, got %v", body.Checks["registry"])
	}

	env.worker.configured = false
	rec = env.do(t, http.MethodGet, "/health?deep=true", "", "")
	if got := decode[map[string]any](t, rec)["status"]; got != "degraded" {
		t.Errorf("expected degraded without worker config, got %v", got)
	}

	env.do(t, http.MethodPost, "/api/render/jobs/register", `{"jobId":"m1","client":"Acme","modelName":"Chair"}`, "")
	rec = env.do(t, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "render_jobs_registered_total") {
		t.Error("expected render job counters to be exported")
	}
}

func TestRequestIDAndCORS(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/render/jobs/list", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected preflight 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Errorf("expected origin echoed, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
}
