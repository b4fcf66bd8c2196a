package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tutoreval/internal/api/response"
	"github.com/kiranshivaraju/tutoreval/internal/dataset"
	"github.com/kiranshivaraju/tutoreval/internal/store"
	"github.com/kiranshivaraju/tutoreval/pkg/models"
)

const maxDatasetBytes = 10 << 20

// datasetHeader is a dataset without its cases. NumCases is only known when
// the cases were loaded.
type datasetHeader struct {
	ID        uuid.UUID `json:"dataset_id"`
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	NumCases  *int      `json:"num_cases,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func headerOf(ds *models.Dataset, withCount bool) datasetHeader {
	h := datasetHeader{ID: ds.ID, Name: ds.Name, Version: ds.Version, CreatedAt: ds.CreatedAt}
	if withCount {
		n := len(ds.Cases)
		h.NumCases = &n
	}
	return h
}

// NewCreateDatasetHandler returns an http.HandlerFunc for POST /api/v1/datasets.
// The body is a dataset document with a top-level test_cases array.
func NewCreateDatasetHandler(datasets DatasetStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantOrAbort(w, r)
		if !ok {
			return
		}

		f, err := dataset.Parse(http.MaxBytesReader(w, r.Body, maxDatasetBytes))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_DATASET", err.Error(), nil)
			return
		}
		if name := r.URL.Query().Get("name"); name != "" {
			f.Name = name
		}
		ds, err := f.New(tenantID, "dataset-"+time.Now().UTC().Format("20060102-150405"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_CASE", err.Error(), nil)
			return
		}

		if err := datasets.CreateDataset(r.Context(), ds); err != nil {
			slog.Error("creating dataset", "tenant_id", tenantID, "error", err)
			internalError(w)
			return
		}
		slog.Info("dataset created", "dataset_id", ds.ID, "tenant_id", tenantID, "num_cases", len(ds.Cases))
		response.Created(w, headerOf(ds, true))
	}
}

// NewListDatasetsHandler returns an http.HandlerFunc for GET /api/v1/datasets.
func NewListDatasetsHandler(datasets DatasetStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantOrAbort(w, r)
		if !ok {
			return
		}
		list, err := datasets.ListDatasets(r.Context(), tenantID)
		if err != nil {
			slog.Error("listing datasets", "tenant_id", tenantID, "error", err)
			internalError(w)
			return
		}
		out := make([]datasetHeader, 0, len(list))
		for _, ds := range list {
			out = append(out, headerOf(ds, false))
		}
		response.JSON(w, out)
	}
}

// NewGetDatasetHandler returns an http.HandlerFunc for GET /api/v1/datasets/{datasetID}.
func NewGetDatasetHandler(datasets DatasetStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantOrAbort(w, r)
		if !ok {
			return
		}
		id, ok := uuidParam(w, r, "datasetID", "INVALID_DATASET_ID")
		if !ok {
			return
		}
		ds, err := datasets.GetDataset(r.Context(), id, tenantID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "DATASET_NOT_FOUND", "Dataset not found", nil)
				return
			}
			slog.Error("getting dataset", "dataset_id", id, "error", err)
			internalError(w)
			return
		}
		response.JSON(w, ds)
	}
}
