package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/vectra/internal/config"
	"github.com/kailas-cloud/vectra/internal/db"
	"github.com/kailas-cloud/vectra/internal/domain"
	"github.com/kailas-cloud/vectra/internal/domain/collection"
	"github.com/kailas-cloud/vectra/internal/domain/metric"
	"github.com/kailas-cloud/vectra/internal/embedding"
	logpkg "github.com/kailas-cloud/vectra/internal/logger"
	"github.com/kailas-cloud/vectra/internal/metastore"
	collectionrepo "github.com/kailas-cloud/vectra/internal/repository/collection"
	"github.com/kailas-cloud/vectra/internal/usecase/vectordb"
)

// handlers is the ops HTTP surface: health, metrics, collection
// administration and a debug search endpoint.
type handlers struct {
	registry *vectordb.Service
	store    db.Pinger
	meta     metastore.Store
	embedder *embedding.Embedder
	index    config.IndexConfig
	log      *zap.Logger
}

func newHandlers(registry *vectordb.Service, store db.Pinger, meta metastore.Store, embedder *embedding.Embedder, index config.IndexConfig, log *zap.Logger) *handlers {
	return &handlers{registry: registry, store: store, meta: meta, embedder: embedder, index: index, log: log}
}

func (h *handlers) routes(r chi.Router) {
	r.Get("/health", h.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/collections", h.listCollections)
	r.Post("/collections", h.createCollection)
	r.Delete("/collections/{id}", h.deleteCollection)
	r.Post("/collections/{id}/index", h.createIndex)
	r.Put("/blue", h.setBlue)
	r.Post("/debug/search", h.debugSearch)
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error { return h.store.Ping(ctx) })
	g.Go(func() error { return h.meta.Ping(ctx) })
	if err := g.Wait(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type collectionView struct {
	CollectionID         string   `json:"collection_id"`
	Model                string   `json:"model"`
	Dimensions           uint     `json:"dimensions"`
	Metric               string   `json:"metric"`
	Aggregation          string   `json:"aggregation"`
	WorkState            string   `json:"work_state"`
	IndexCreated         bool     `json:"index_created"`
	ContainsQueries      bool     `json:"contains_queries"`
	CreatedAt            string   `json:"created_at"`
	AppliedOptimizations []string `json:"applied_optimizations,omitempty"`
}

func viewOf(info collection.Info) collectionView {
	return collectionView{
		CollectionID:         info.CollectionID,
		Model:                info.Model.FullName(),
		Dimensions:           info.Spec.Dimensions,
		Metric:               string(info.Spec.Metric),
		Aggregation:          string(info.Spec.Aggregation),
		WorkState:            string(info.WorkState),
		IndexCreated:         info.IndexCreated,
		ContainsQueries:      info.ContainsQueries,
		CreatedAt:            info.CreatedAt.Format(time.RFC3339),
		AppliedOptimizations: info.AppliedOptimizations,
	}
}

func (h *handlers) listCollections(w http.ResponseWriter, _ *http.Request) {
	var views []collectionView
	for _, info := range h.registry.Collections() {
		views = append(views, viewOf(info))
	}
	for _, info := range h.registry.QueryCollections() {
		views = append(views, viewOf(info))
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": views})
}

type createCollectionRequest struct {
	ModelName   string `json:"model_name"`
	ModelID     string `json:"model_id"`
	Dimensions  uint   `json:"dimensions"`
	Metric      string `json:"metric"`
	Aggregation string `json:"aggregation"`
	WithQueries bool   `json:"with_queries"`
}

func (h *handlers) createCollection(w http.ResponseWriter, r *http.Request) {
	var req createCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	model := domain.EmbeddingModelInfo{Name: req.ModelName, ID: req.ModelID}
	spec, err := metric.NewIndexSpec(req.Dimensions, metric.Metric(req.Metric), metric.Aggregation(req.Aggregation),
		metric.HNSWParams{M: uint(h.index.HNSWM), EFConstruction: uint(h.index.HNSWEFConstruct)})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	repo, err := h.registry.CreateCollection(r.Context(), model, spec)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if req.WithQueries {
		if _, err := h.registry.CreateQueryCollection(r.Context(), model, spec); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	logpkg.FromContext(r.Context()).Info("collection created via API",
		zap.String("collection_id", repo.Info().CollectionID))
	writeJSON(w, http.StatusCreated, viewOf(repo.Info()))
}

func (h *handlers) deleteCollection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.registry.DeleteCollection(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) createIndex(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	repo, err := h.registry.GetCollection(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := repo.CreateIndex(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "index created"})
}

type setBlueRequest struct {
	CollectionID string `json:"collection_id"`
}

func (h *handlers) setBlue(w http.ResponseWriter, r *http.Request) {
	var req setBlueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.registry.SetBlueCollection(r.Context(), req.CollectionID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"blue": req.CollectionID})
}

type debugSearchRequest struct {
	Query           string    `json:"query"`
	Vector          []float32 `json:"vector"`
	UserID          string    `json:"user_id"`
	Limit           int       `json:"limit"`
	Offset          int       `json:"offset"`
	MaxDistance     *float64  `json:"max_distance"`
	SimilarityFirst bool      `json:"similarity_first"`
	AverageOnly     bool      `json:"average_only"`
}

type debugSearchHit struct {
	ObjectID   string  `json:"object_id"`
	Distance   float64 `json:"distance"`
	PartsFound int     `json:"parts_found"`
}

// debugSearch runs a similarity search against the blue collection. The
// query is either a raw vector or a text embedded on the fly.
func (h *handlers) debugSearch(w http.ResponseWriter, r *http.Request) {
	var req debugSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	repo, err := h.registry.GetBlueCollection()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	vector := req.Vector
	if len(vector) == 0 {
		if h.embedder == nil {
			writeError(w, http.StatusBadRequest, errors.New("no vector given and no embedder configured"))
			return
		}
		if vector, err = h.embedder.Embed(r.Context(), req.Query); err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
	}
	limit := clampLimit(req.Limit, h.index)
	result, err := repo.FindSimilarities(r.Context(), collectionrepo.SimilarityRequest{
		Vector:          vector,
		UserID:          req.UserID,
		MaxDistance:     req.MaxDistance,
		Limit:           limit,
		Offset:          req.Offset,
		SimilarityFirst: req.SimilarityFirst,
		AverageOnly:     req.AverageOnly,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	hits := make([]debugSearchHit, len(result.Objects))
	for i, obj := range result.Objects {
		hits[i] = debugSearchHit{ObjectID: obj.Object.ObjectID, Distance: obj.Distance, PartsFound: obj.PartsFound}
	}
	resp := map[string]any{"hits": hits}
	if result.NextOffset != nil {
		resp["next_offset"] = strconv.Itoa(*result.NextOffset)
	}
	writeJSON(w, http.StatusOK, resp)
}

// clampLimit applies the page size defaults: unset falls back to the
// default page size, oversized requests are capped at the maximum.
func clampLimit(limit int, index config.IndexConfig) int {
	if limit <= 0 {
		return index.DefaultPageSize
	}
	if limit > index.MaxPageSize {
		return index.MaxPageSize
	}
	return limit
}

// writeDomainError maps domain sentinels to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrCollectionNotFound), errors.Is(err, domain.ErrObjectNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrCreateCollectionConflict),
		errors.Is(err, domain.ErrDeleteBlueCollection),
		errors.Is(err, domain.ErrDuplicateObject):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrDimensionMismatch):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrLockAcquisition):
		// Retryable by resubmission.
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
