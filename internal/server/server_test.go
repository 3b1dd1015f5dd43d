package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-dispatch/constants"
	"github.com/joseph-ayodele/invoice-dispatch/internal/async"
	"github.com/joseph-ayodele/invoice-dispatch/internal/common"
	"github.com/joseph-ayodele/invoice-dispatch/internal/entity"
	"github.com/joseph-ayodele/invoice-dispatch/internal/export"
	"github.com/joseph-ayodele/invoice-dispatch/internal/llm"
	"github.com/joseph-ayodele/invoice-dispatch/internal/metrics"
	"github.com/joseph-ayodele/invoice-dispatch/internal/pipeline"
	"github.com/joseph-ayodele/invoice-dispatch/internal/raster"
	"github.com/joseph-ayodele/invoice-dispatch/internal/reconcile"
	"github.com/joseph-ayodele/invoice-dispatch/internal/repository"
)

type stubRaster struct{}

func (stubRaster) Rasterize(context.Context, []byte, string, raster.Options) (*raster.Image, error) {
	return &raster.Image{Data: []byte{0xff, 0xd8}, MIMEType: constants.MIMEJPEG, Source: constants.SourceRaster}, nil
}

type stubExtractor struct{ reply string }

func (s *stubExtractor) Extract(context.Context, llm.ExtractRequest) (string, error) {
	return s.reply, nil
}

type env struct {
	ts        *httptest.Server
	extractor *stubExtractor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWithLogger(t, nil)
}

func newEnvWithLogger(t *testing.T, logger *slog.Logger) *env {
	t.Helper()
	ctx := context.Background()
	db, err := repository.Open(ctx, repository.Config{DSN: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(nil) })
	require.NoError(t, repository.Migrate(ctx, db, nil))

	products := repository.NewProductRepository(db, nil)
	require.NoError(t, products.Import(ctx, "acme", []entity.Product{
		{ID: "p-ore", TechnicalName: "Fe 62% Fines", CommonName: "Iron Ore"},
	}))
	dispatches := repository.NewDispatchRepository(db, nil)
	stock := repository.NewStockRepository(db, nil)
	counters := repository.NewCounterRepository(db, nil)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	svc := reconcile.NewService(dispatches, stock, counters, nil, reconcile.WithMetrics(m))
	jobs := async.NewWorkerQueue(svc, nil, async.WithWorkers(1))
	t.Cleanup(func() { jobs.Shutdown(context.Background()) })

	ex := &stubExtractor{reply: `{"date":"2024-03-01","product":"Iron Ore","quantity":"12","truckNumber":"MH12AB1234","invoiceNumber":"45/24"}`}
	p := pipeline.New(pipeline.NewMachine(pipeline.Config{DateOffsetDays: 1, MaxTokens: 256}),
		stubRaster{}, ex, svc, products, nil, pipeline.WithMetrics(m))

	srv := New(Deps{
		Sessions:   p,
		Dispatches: dispatches,
		Stock:      stock,
		Counters:   counters,
		Products:   products,
		Export:     export.NewService(dispatches, stock, nil),
		Jobs:       jobs,
		Gatherer:   reg,
		Ping:       func(ctx context.Context) error { return repository.HealthCheck(ctx, db, time.Second, nil) },
	}, common.ServerConfig{AllowedOrigins: []string{"*"}, MaxUploadBytes: 1 << 20}, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &env{ts: ts, extractor: ex}
}

func (e *env) upload(t *testing.T, filename, contentType string, data []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(e.ts.URL+"/v1/companies/acme/session", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func (e *env) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestUploadConfirmAndRead(t *testing.T) {
	e := newEnv(t)

	resp := e.upload(t, "invoice.pdf", "application/octet-stream", []byte("%PDF-1.7 fake"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[pipeline.Snapshot](t, resp)
	assert.Equal(t, pipeline.StateAwaitingConfirmation, snap.State)
	require.NotNil(t, snap.Draft.Product)
	assert.Equal(t, "p-ore", snap.Draft.Product.ID)

	resp = e.do(t, http.MethodPatch, "/v1/companies/acme/session/draft", `{"truck_number":"MH12XY0001"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MH12XY0001", decode[pipeline.Snapshot](t, resp).Draft.TruckNumber)

	resp = e.do(t, http.MethodPost, "/v1/companies/acme/session/confirm", `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap = decode[pipeline.Snapshot](t, resp)
	assert.Equal(t, pipeline.StateSaved, snap.State)

	resp = e.do(t, http.MethodGet, "/v1/companies/acme/dispatches?from=2024-03-01&to=2024-03-31", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[struct {
		Dispatches []entity.DispatchEntry `json:"dispatches"`
	}](t, resp)
	require.Len(t, list.Dispatches, 1)
	assert.Equal(t, "MH12XY0001", list.Dispatches[0].TruckNumber)

	resp = e.do(t, http.MethodGet, "/v1/companies/acme/stock/p-ore", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "-12", decode[entity.StockBalance](t, resp).AvailableQuantity.String())

	resp = e.do(t, http.MethodGet, "/v1/companies/acme/counter", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "45/24", decode[entity.CompanyInvoiceCounter](t, resp).LastInvoiceNumber)

	resp = e.do(t, http.MethodGet, "/v1/companies/acme/session", "")
	assert.Equal(t, pipeline.StateIdle, decode[pipeline.Snapshot](t, resp).State)
}

func TestDuplicateIsConflictUntilOverridden(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 2; i++ {
		resp := e.upload(t, "invoice.pdf", constants.MIMEPDF, []byte("%PDF-1.7"))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
		if i == 0 {
			resp = e.do(t, http.MethodPost, "/v1/companies/acme/session/confirm", "")
			require.Equal(t, http.StatusOK, resp.StatusCode)
			resp.Body.Close()
		}
	}

	resp := e.do(t, http.MethodPost, "/v1/companies/acme/session/confirm", `{"allow_duplicate":false}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	snap := decode[pipeline.Snapshot](t, resp)
	assert.Equal(t, common.CodeReconciliationWarning, snap.Error.Code)
	assert.Len(t, snap.Duplicates, 1)

	resp = e.do(t, http.MethodPost, "/v1/companies/acme/session/confirm", `{"allow_duplicate":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestFailuresMapToStatusCodes(t *testing.T) {
	e := newEnv(t)

	resp := e.upload(t, "notes.txt", "text/plain", []byte("hello"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[errorBody](t, resp)
	assert.Equal(t, common.CodeValidation, body.Error.Code)

	e.extractor.reply = "no invoice here"
	resp = e.upload(t, "invoice.pdf", constants.MIMEPDF, []byte("%PDF-1.7"))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, pipeline.StateFailed, decode[pipeline.Snapshot](t, resp).State)

	resp = e.do(t, http.MethodPost, "/v1/companies/acme/session/confirm", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, common.CodeInvalidTransition, decode[errorBody](t, resp).Error.Code)

	resp = e.do(t, http.MethodPost, "/v1/companies/acme/session/select", `{"bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = e.do(t, http.MethodGet, "/v1/companies/nobody/counter", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = e.do(t, http.MethodDelete, "/v1/companies/acme/session", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestRecomputeJob(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodPost, "/v1/companies/acme/stock/p-ore/recompute", `{"opening":"250"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	loc := resp.Header.Get("Location")
	resp.Body.Close()
	require.NotEmpty(t, loc)

	require.Eventually(t, func() bool {
		r := e.do(t, http.MethodGet, loc, "")
		return decode[async.JobStatus](t, r).State == async.JobDone
	}, 2*time.Second, 10*time.Millisecond)

	resp = e.do(t, http.MethodGet, "/v1/companies/acme/stock/p-ore", "")
	assert.Equal(t, "250", decode[entity.StockBalance](t, resp).AvailableQuantity.String())

	resp = e.do(t, http.MethodGet, "/v1/jobs/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestExportHealthAndMetrics(t *testing.T) {
	e := newEnv(t)
	resp := e.upload(t, "invoice.pdf", constants.MIMEPDF, []byte("%PDF-1.7"))
	resp.Body.Close()

	resp = e.do(t, http.MethodGet, "/v1/companies/acme/export.xlsx", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "dispatches-acme.xlsx")
	resp.Body.Close()

	resp = e.do(t, http.MethodGet, "/v1/companies/acme/export.xlsx?from=03-01-2024", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = e.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = e.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	resp.Body.Close()
	assert.Contains(t, buf.String(), `invoice_dispatch_uploads_total{format="pdf"} 1`)
}

// lockedBuffer is written by handler goroutines while the test reads it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRejectionsLogCompany(t *testing.T) {
	var buf lockedBuffer
	e := newEnvWithLogger(t, slog.New(slog.NewTextHandler(&buf, nil)))

	resp := e.do(t, http.MethodGet, "/v1/companies/nobody/counter", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	assert.Contains(t, buf.String(), "msg=http.rejected")
	assert.Contains(t, buf.String(), "company_id=nobody")
}
