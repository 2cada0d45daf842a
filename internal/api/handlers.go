package api

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/contractml/internal/model"
	"github.com/sells-group/contractml/internal/registry"
)

type predictResponse struct {
	Status      string            `json:"status"`
	ExecutionID string            `json:"execution_id,omitempty"`
	Domain      string            `json:"domain"`
	Version     string            `json:"version"`
	Data        map[string]any    `json:"data"`
	Predictions *model.Prediction `json:"predictions"`
	Metadata    map[string]any    `json:"metadata"`
}

type migratedResponse struct {
	Status        string            `json:"status"`
	ExecutionID   string            `json:"execution_id,omitempty"`
	Domain        string            `json:"domain"`
	SourceVersion string            `json:"source_version"`
	TargetVersion string            `json:"target_version"`
	Migrated      bool              `json:"migrated"`
	Data          map[string]any    `json:"data"`
	Predictions   *model.Prediction `json:"predictions"`
	Metadata      map[string]any    `json:"metadata"`
}

type migrateRequest struct {
	Domain           string        `json:"domain"`
	FromVersion      string        `json:"from_version"`
	ToVersion        string        `json:"to_version"`
	Data             model.Payload `json:"data"`
	RequireMigration bool          `json:"require_migration"`
}

type migrateResponse struct {
	Status             string                `json:"status"`
	Domain             string                `json:"domain"`
	FromVersion        string                `json:"from_version"`
	ToVersion          string                `json:"to_version"`
	OriginalData       model.Payload         `json:"original_data"`
	MigratedData       model.Payload         `json:"migrated_data"`
	MigrationStatus    model.MigrationStatus `json:"migration_status"`
	MigrationPathFound bool                  `json:"migration_path_found"`
	MigrationPath      []string              `json:"migration_path,omitempty"`
	MigrationErrors    []string              `json:"migration_errors"`
}

type versionsResponse struct {
	Domain        string   `json:"domain"`
	Versions      []string `json:"versions"`
	LatestVersion string   `json:"latest_version"`
	TotalVersions int      `json:"total_versions"`
}

type contractsResponse struct {
	ContractsLoaded int                 `json:"contracts_loaded"`
	Domains         []string            `json:"domains"`
	Versions        map[string][]string `json:"versions"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"engine": "contract-execution",
	})
}

func (h *Handler) listContracts(w http.ResponseWriter, r *http.Request) {
	byDomain, err := h.svc.Domains()
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := contractsResponse{Domains: make([]string, 0, len(byDomain)), Versions: byDomain}
	for domain, versions := range byDomain {
		resp.Domains = append(resp.Domains, domain)
		resp.ContractsLoaded += len(versions)
	}
	sort.Strings(resp.Domains)
	writeJSON(w, http.StatusOK, resp)
}

// predict runs the contract directly, or migrates first when a
// target_version query parameter is present.
func (h *Handler) predict(w http.ResponseWriter, r *http.Request) {
	domain, version := chi.URLParam(r, "domain"), chi.URLParam(r, "version")

	var payload model.Payload
	if !h.decode(w, r, &payload) {
		return
	}

	var (
		res *model.ExecutionResult
		err error
	)
	if target := r.URL.Query().Get("target_version"); target != "" {
		res, err = h.svc.ExecuteWithMigration(r.Context(), registry.ExecuteRequest{
			Domain:           domain,
			Version:          version,
			Payload:          payload,
			TargetVersion:    target,
			RequireMigration: queryBool(r, "require_migration"),
		})
	} else {
		res, err = h.svc.Execute(r.Context(), domain, version, payload)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, predictResponse{
		Status:      "success",
		ExecutionID: res.ID,
		Domain:      domain,
		Version:     version,
		Data:        res.Data,
		Predictions: res.Predictions,
		Metadata:    res.Metadata,
	})
}

func (h *Handler) executeWithMigration(w http.ResponseWriter, r *http.Request) {
	domain, version := chi.URLParam(r, "domain"), chi.URLParam(r, "version")

	var payload model.Payload
	if !h.decode(w, r, &payload) {
		return
	}

	res, err := h.svc.ExecuteWithMigration(r.Context(), registry.ExecuteRequest{
		Domain:           domain,
		Version:          version,
		Payload:          payload,
		TargetVersion:    r.URL.Query().Get("target_version"),
		RequireMigration: queryBool(r, "require_migration"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	target, _ := res.Metadata[model.MetaTargetVersion].(string)
	writeJSON(w, http.StatusOK, migratedResponse{
		Status:        "success",
		ExecutionID:   res.ID,
		Domain:        domain,
		SourceVersion: version,
		TargetVersion: target,
		Migrated:      res.Migrated(),
		Data:          res.Data,
		Predictions:   res.Predictions,
		Metadata:      res.Metadata,
	})
}

func (h *Handler) migrate(w http.ResponseWriter, r *http.Request) {
	var req migrateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Domain == "" || req.FromVersion == "" || req.ToVersion == "" {
		writeFailure(w, r, http.StatusBadRequest, "bad_request", "domain, from_version and to_version are required")
		return
	}
	if req.Data == nil {
		req.Data = model.Payload{}
	}

	out, outcome, err := h.svc.Migrate(r.Context(), registry.MigrateRequest{
		Domain:  req.Domain,
		From:    req.FromVersion,
		To:      req.ToVersion,
		Payload: req.Data,
		Require: req.RequireMigration || queryBool(r, "require_migration"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	errs := outcome.Errors
	if errs == nil {
		errs = []string{}
	}
	writeJSON(w, http.StatusOK, migrateResponse{
		Status:             "success",
		Domain:             req.Domain,
		FromVersion:        req.FromVersion,
		ToVersion:          req.ToVersion,
		OriginalData:       req.Data,
		MigratedData:       out,
		MigrationStatus:    outcome.Status,
		MigrationPathFound: outcome.PathFound(),
		MigrationPath:      outcome.Path,
		MigrationErrors:    errs,
	})
}

func (h *Handler) versions(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")

	versions, err := h.svc.AvailableVersions(domain)
	if err != nil {
		writeError(w, r, err)
		return
	}
	latest, err := h.svc.LatestVersion(domain)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, versionsResponse{
		Domain:        domain,
		Versions:      versions,
		LatestVersion: latest,
		TotalVersions: len(versions),
	})
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}
