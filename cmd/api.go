package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/waste-pipeline/internal/model"
	"github.com/sells-group/waste-pipeline/internal/pipeline"
	"github.com/sells-group/waste-pipeline/internal/store"
)

// maxUploadBytes caps multipart uploads.
const maxUploadBytes = 32 << 20

// persistTimeout bounds store writes made after the server context ends.
const persistTimeout = 10 * time.Second

// api serves document upload, status and results. Processing runs in the
// background on the server context.
type api struct {
	ctx   context.Context
	store store.Store
	proc  processor
	wg    sync.WaitGroup
}

func newAPI(ctx context.Context, st store.Store, p processor) *api {
	return &api{ctx: ctx, store: st, proc: p}
}

func (a *api) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/documents", func(r chi.Router) {
		r.Post("/", a.upload)
		r.Get("/", a.list)
		r.Get("/{id}", a.get)
		r.Get("/{id}/result", a.result)
		r.Post("/{id}/reprocess", a.reprocess)
	})
	return r
}

// wait blocks until background processing has finished.
func (a *api) wait() { a.wg.Wait() }

func (a *api) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read upload")
		return
	}
	name := filepath.Base(header.Filename)
	if model.FileTypeFromName(name) == model.FileTypeUnknown {
		writeError(w, http.StatusUnsupportedMediaType, "only PDF, XLSX and CSV documents are supported")
		return
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mime.TypeByExtension(filepath.Ext(name))
	}

	doc, err := a.store.CreateDocument(r.Context(), &model.Document{Filename: name, MimeType: mimeType, Content: content})
	if err != nil {
		zap.L().Error("api: create document", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not store document")
		return
	}
	a.enqueue(doc.ID, r.URL.Query().Get("backend"))
	writeJSON(w, http.StatusAccepted, map[string]string{"id": doc.ID, "status": string(model.DocumentProcessing)})
}

func (a *api) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	docs, err := a.store.ListDocuments(r.Context(), store.DocumentFilter{
		Status: model.DocumentStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		zap.L().Error("api: list documents", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list documents")
		return
	}
	if docs == nil {
		docs = []model.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (a *api) get(w http.ResponseWriter, r *http.Request) {
	doc, err := a.store.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *api) result(w http.ResponseWriter, r *http.Request) {
	res, err := a.store.GetResult(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) reprocess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.store.GetDocument(r.Context(), id); err != nil {
		a.storeError(w, err)
		return
	}
	a.enqueue(id, r.URL.Query().Get("backend"))
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": string(model.DocumentProcessing)})
}

// enqueue processes a stored document in the background. Every run starts
// over from the stored bytes. Store reads and writes outlive the server
// context so a run cut short by shutdown still records its error.
func (a *api) enqueue(id, backend string) {
	storeCtx := context.WithoutCancel(a.ctx)
	if err := a.store.UpdateDocumentStatus(storeCtx, id, model.DocumentProcessing); err != nil {
		zap.L().Warn("api: mark processing", zap.String("document_id", id), zap.Error(err))
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log := zap.L().With(zap.String("document_id", id))

		doc, err := a.store.GetDocument(storeCtx, id)
		if err != nil {
			log.Error("api: load document", zap.Error(err))
			return
		}
		var opts []pipeline.ProcessOption
		if backend != "" {
			opts = append(opts, pipeline.WithBackend(backend))
		}
		res := a.proc.Process(a.ctx, doc, opts...)

		saveCtx, cancel := context.WithTimeout(storeCtx, persistTimeout)
		defer cancel()
		if err := a.store.SaveResult(saveCtx, id, &res); err != nil {
			log.Error("api: save result", zap.Error(err))
			return
		}
		log.Info("api: document processed",
			zap.String("status", string(res.Status)),
			zap.Float64("confidence", res.Confidence),
			zap.String("model_path", res.ModelPath),
		)
	}()
}

func (a *api) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	zap.L().Error("api: store", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
