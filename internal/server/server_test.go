package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodline/internal/db"
	"prodline/internal/domain"
	"prodline/internal/engine"
	"prodline/internal/migrate"
)

const testSecret = "test-secret"

var noon = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn, db.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, db.SQLite)
	e.Now = func() time.Time { return noon }
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: testSecret, Issuer: "prodline", AllowActorHeader: true}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

var operator = map[string]string{"X-Actor-Id": "operator-1"}

// call performs a request as operator-1, checks the status and decodes the response.
func call(t *testing.T, srv *testServer, method, path string, body any, wantStatus int, out any) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), method, srv.URL+"/v1"+path, body, operator)
	require.Equal(t, wantStatus, res.StatusCode, "%s %s: %s", method, path, data)
	if out != nil {
		require.NoError(t, json.Unmarshal(data, out), string(data))
	}
}

type apiErrorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func expectError(t *testing.T, srv *testServer, method, path string, body any, wantStatus int, wantCode string) {
	t.Helper()
	var env apiErrorEnvelope
	call(t, srv, method, path, body, wantStatus, &env)
	assert.Equal(t, wantCode, env.Error.Code)
	assert.NotEmpty(t, env.Error.Message)
}

type fixture struct {
	Process domain.Process
	S1, S2  domain.ProcessStep
	Order   domain.ProductionOrder
}

func seedCatalog(t *testing.T, srv *testServer) fixture {
	t.Helper()
	var f fixture
	var ws domain.Workshop
	call(t, srv, http.MethodPost, "/workshops", map[string]any{"name": "Assembly"}, http.StatusCreated, &ws)
	call(t, srv, http.MethodPost, "/processes", map[string]any{"code": "P-100", "name": "Frame"}, http.StatusCreated, &f.Process)
	call(t, srv, http.MethodPost, "/processes/"+f.Process.ID+"/steps", map[string]any{"code": "S1", "name": "Cut", "order": 1}, http.StatusCreated, &f.S1)
	call(t, srv, http.MethodPost, "/processes/"+f.Process.ID+"/steps", map[string]any{"code": "S2", "name": "Weld", "order": 2}, http.StatusCreated, &f.S2)
	call(t, srv, http.MethodPost, "/orders", map[string]any{
		"order_number":       "WO-001",
		"production_number":  "PN-1",
		"product_name":       "Frame",
		"planned_start_date": "2024-03-04",
		"planned_end_date":   "2024-03-08",
		"process_id":         f.Process.ID,
		"workshop_id":        ws.ID,
	}, http.StatusCreated, &f.Order)
	require.Equal(t, domain.OrderPending, f.Order.Status)
	return f
}

func TestReportLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	f := seedCatalog(t, srv)

	var r1 ReportResponse
	call(t, srv, http.MethodPost, "/reports", map[string]any{
		"order_id": f.Order.ID, "step_id": f.S1.ID, "start_time": "2024-03-04T09:00:00Z",
	}, http.StatusCreated, &r1)
	assert.Equal(t, "operator-1", r1.CreatorID)
	assert.False(t, r1.Completed)

	call(t, srv, http.MethodPost, "/reports/"+r1.ID+"/pause", nil, http.StatusOK, &r1)
	assert.True(t, r1.Paused)
	expectError(t, srv, http.MethodPost, "/reports/"+r1.ID+"/pause", nil, http.StatusConflict, "invalid_transition")
	call(t, srv, http.MethodPost, "/reports/"+r1.ID+"/resume", nil, http.StatusOK, &r1)
	assert.False(t, r1.Paused)

	call(t, srv, http.MethodPost, "/reports/"+r1.ID+"/complete", map[string]any{"end_time": "2024-03-04T10:30:00Z"}, http.StatusOK, &r1)
	require.NotNil(t, r1.TotalTimeMS)
	assert.EqualValues(t, (90 * time.Minute).Milliseconds(), *r1.TotalTimeMS)
	assert.Equal(t, "1h30m0s", r1.TotalTime)

	var order domain.ProductionOrder
	call(t, srv, http.MethodGet, "/orders/"+f.Order.ID, nil, http.StatusOK, &order)
	assert.Equal(t, domain.OrderInProgress, order.Status)

	expectError(t, srv, http.MethodPost, "/reports/"+r1.ID+"/complete", nil, http.StatusConflict, "already_completed")
	expectError(t, srv, http.MethodPost, "/reports/"+r1.ID+"/resume", nil, http.StatusConflict, "sealed_record")
	expectError(t, srv, http.MethodPatch, "/reports/"+r1.ID, map[string]any{"start_time": "2024-03-04T08:00:00Z"}, http.StatusConflict, "sealed_record")
	expectError(t, srv, http.MethodDelete, "/reports/"+r1.ID, nil, http.StatusConflict, "sealed_record")

	var r2 ReportResponse
	call(t, srv, http.MethodPost, "/reports", map[string]any{
		"order_id": f.Order.ID, "step_id": f.S2.ID, "start_time": "2024-03-04T11:00:00Z",
	}, http.StatusCreated, &r2)
	// Without a body the report ends now.
	call(t, srv, http.MethodPost, "/reports/"+r2.ID+"/complete", nil, http.StatusOK, &r2)
	assert.EqualValues(t, time.Hour.Milliseconds(), *r2.TotalTimeMS)

	var progress OrderProgressResponse
	call(t, srv, http.MethodGet, "/orders/"+f.Order.ID+"/progress", nil, http.StatusOK, &progress)
	assert.True(t, progress.Complete)
	assert.Equal(t, domain.OrderCompleted, progress.Status)
	require.Len(t, progress.Steps, 2)
	assert.Equal(t, "S1", progress.Steps[0].Code)
	assert.EqualValues(t, (90 * time.Minute).Milliseconds(), progress.Steps[0].TotalTimeMS)

	expectError(t, srv, http.MethodPost, "/reports", map[string]any{"order_id": f.Order.ID, "step_id": f.S1.ID}, http.StatusConflict, "invalid_order_state")
	expectError(t, srv, http.MethodPost, "/orders/"+f.Order.ID+"/cancel", nil, http.StatusConflict, "invalid_transition")

	var reports []ReportResponse
	call(t, srv, http.MethodGet, "/reports?order_id="+f.Order.ID+"&completed=true", nil, http.StatusOK, &reports)
	assert.Len(t, reports, 2)
}

func TestCatalogErrors(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	f := seedCatalog(t, srv)

	expectError(t, srv, http.MethodGet, "/orders/nope", nil, http.StatusNotFound, "not_found")
	expectError(t, srv, http.MethodPost, "/workshops", map[string]any{"name": "Assembly"}, http.StatusConflict, "conflict")
	expectError(t, srv, http.MethodDelete, "/processes/"+f.Process.ID, nil, http.StatusConflict, "protected")
	expectError(t, srv, http.MethodGet, "/workshops?active=maybe", nil, http.StatusBadRequest, "bad_request")
	expectError(t, srv, http.MethodPost, "/orders", map[string]any{
		"order_number": "WO-002", "production_number": "PN-2", "product_name": "Frame",
		"planned_start_date": "2024-03-08", "planned_end_date": "2024-03-04",
		"process_id": f.Process.ID, "workshop_id": f.Order.WorkshopID,
	}, http.StatusBadRequest, "invalid_input")

	var canceled domain.ProductionOrder
	call(t, srv, http.MethodPost, "/orders/"+f.Order.ID+"/cancel", nil, http.StatusOK, &canceled)
	assert.Equal(t, domain.OrderCanceled, canceled.Status)
	call(t, srv, http.MethodDelete, "/orders/"+f.Order.ID, nil, http.StatusNoContent, nil)
}

func TestAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/orders", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Contains(t, string(data), `"code":"unauthorized"`)

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/orders", nil, map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	other, err := SignToken("other-secret", "prodline", "operator-2", time.Hour)
	require.NoError(t, err)
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/orders", nil, map[string]string{"Authorization": "Bearer " + other})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	token, err := SignToken(testSecret, "prodline", "operator-2", time.Hour)
	require.NoError(t, err)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/workshops", map[string]any{"name": "Paint"},
		map[string]string{"Authorization": "Bearer " + token, "X-Request-Id": "req-42"})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	evts, err := srv.Engine.Repo.LatestEventID(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, evts)
	var page paginatedEvents
	call(t, srv, http.MethodGet, "/events?type=workshop.created", nil, http.StatusOK, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "operator-2", page.Items[0].ActorID)
	assert.Equal(t, "req-42", page.Items[0].RequestID)
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	for _, name := range []string{"A", "B", "C"} {
		call(t, srv, http.MethodPost, "/workshops", map[string]any{"name": name}, http.StatusCreated, nil)
	}
	var page paginatedEvents
	call(t, srv, http.MethodGet, "/events?limit=2", nil, http.StatusOK, &page)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	assert.Greater(t, page.Items[0].ID, page.Items[1].ID)

	var rest paginatedEvents
	call(t, srv, http.MethodGet, "/events?limit=2&cursor="+page.NextCursor, nil, http.StatusOK, &rest)
	require.Len(t, rest.Items, 1)
	assert.Empty(t, rest.NextCursor)
	expectError(t, srv, http.MethodGet, "/events?cursor=abc", nil, http.StatusBadRequest, "bad_request")
}

func TestMetricsAndOpenAPI(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	call(t, srv, http.MethodGet, "/workshops", nil, http.StatusOK, nil)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, strings.Contains(string(data), "prodline_http_requests_total"))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "/v1/reports/{report_id}/complete")
}
