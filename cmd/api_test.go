package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/waste-pipeline/internal/model"
	"github.com/sells-group/waste-pipeline/internal/store"
)

func newTestAPI(t *testing.T, status model.Status) (*api, *store.SQLiteStore, *fakeProcessor) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	p := &fakeProcessor{status: status}
	return newAPI(context.Background(), st, p), st, p
}

func uploadRequest(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestAPI_Health(t *testing.T) {
	a, _, _ := newTestAPI(t, model.StatusApproved)
	rec := httptest.NewRecorder()

	a.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAPI_UploadProcessesAndStoresResult(t *testing.T) {
	a, st, p := newTestAPI(t, model.StatusNeedsReview)
	h := a.routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, "rapport.csv", []byte("Datum;Vikt\n2024-01-02;12\n")))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	id := accepted["id"]
	require.NotEmpty(t, id)

	a.wait()
	assert.Equal(t, []string{"rapport.csv"}, p.calls())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/"+id+"/result", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var res model.ProcessingResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, model.StatusNeedsReview, res.Status)
	assert.Equal(t, "adaptive → verify", res.ModelPath)

	doc, err := st.GetDocument(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentReview, doc.Status)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents?status=needs_review", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var docs []model.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, id, docs[0].ID)
}

func TestAPI_UploadRejectsUnsupportedType(t *testing.T) {
	a, _, p := newTestAPI(t, model.StatusApproved)
	rec := httptest.NewRecorder()

	a.routes().ServeHTTP(rec, uploadRequest(t, "notes.docx", []byte("x")))

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Empty(t, p.calls())
}

func TestAPI_UploadRequiresFile(t *testing.T) {
	a, _, _ := newTestAPI(t, model.StatusApproved)
	rec := httptest.NewRecorder()

	a.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/documents", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_NotFound(t *testing.T) {
	a, _, _ := newTestAPI(t, model.StatusApproved)
	h := a.routes()

	for _, path := range []string{"/documents/missing", "/documents/missing/result"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/documents/missing/reprocess", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_Reprocess(t *testing.T) {
	a, st, p := newTestAPI(t, model.StatusApproved)
	doc, err := st.CreateDocument(context.Background(), &model.Document{Filename: "faktura.pdf", Content: []byte("%PDF")})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/documents/"+doc.ID+"/reprocess", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	a.wait()

	assert.Equal(t, []string{"faktura.pdf"}, p.calls())
	res, err := st.GetResult(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, res.Status)
}

func TestAPI_CancelledServerStillRecordsError(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	doc, err := st.CreateDocument(context.Background(), &model.Document{Filename: "faktura.pdf", Content: []byte("%PDF")})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	p := &fakeProcessor{status: model.StatusApproved}
	a := newAPI(ctx, st, p)
	cancel()

	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/documents/"+doc.ID+"/reprocess", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	a.wait()

	assert.Equal(t, []string{"faktura.pdf"}, p.calls())
	res, err := st.GetResult(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, res.Status)
	assert.Contains(t, res.Reason, "cancelled")

	got, err := st.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentFailed, got.Status)
}

func TestAPI_CORSPreflight(t *testing.T) {
	a, _, _ := newTestAPI(t, model.StatusApproved)
	req := httptest.NewRequest(http.MethodOptions, "/documents", nil)
	req.Header.Set("Origin", "https://review.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()

	a.routes().ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
