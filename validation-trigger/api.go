package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/animus-labs/gx-hosting/internal/dataquality"
	"github.com/animus-labs/gx-hosting/internal/platform/httpserver"
	"github.com/animus-labs/gx-hosting/internal/platform/metrics"
	"github.com/animus-labs/gx-hosting/internal/platform/objectstore"
	"github.com/animus-labs/gx-hosting/internal/platform/sqldb"
	"gopkg.in/yaml.v3"
)

const (
	noSpecificationMessage = "No table specification given."
	maxBodyBytes           = 1 << 20
)

var errBodyTooLarge = errors.New("request body too large")

type triggerAPI struct {
	logger      *slog.Logger
	store       objectstore.Store
	configRef   objectstore.Ref
	contextRoot string
	sqlCfg      sqldb.Config
	runs        *metrics.Outcomes

	now     func() time.Time
	openSQL dataquality.SQLOpener
}

func newTriggerAPI(logger *slog.Logger, store objectstore.Store, configRef objectstore.Ref, contextRoot string, sqlCfg sqldb.Config, runs *metrics.Outcomes) *triggerAPI {
	return &triggerAPI{
		logger:      logger,
		store:       store,
		configRef:   configRef,
		contextRoot: contextRoot,
		sqlCfg:      sqlCfg,
		runs:        runs,
		now:         time.Now,
	}
}

func (api *triggerAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("/", api.handleTrigger)
}

type validationRequest struct {
	DatasourceName       string `json:"datasource_name"`
	DataAssetName        string `json:"data_asset_name"`
	ExpectationSuiteName string `json:"expectation_suite_name"`
}

func (req validationRequest) checkpointName() string {
	return req.DataAssetName + "_" + req.ExpectationSuiteName
}

func (api *triggerAPI) handleTrigger(w http.ResponseWriter, r *http.Request) {
	fields, ok, err := requestFields(w, r)
	if errors.Is(err, errBodyTooLarge) {
		api.writeError(w, r, http.StatusRequestEntityTooLarge, "body_too_large")
		return
	}
	if !ok {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, noSpecificationMessage)
		return
	}

	var req validationRequest
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"datasource_name", &req.DatasourceName},
		{"data_asset_name", &req.DataAssetName},
		{"expectation_suite_name", &req.ExpectationSuiteName},
	} {
		v := strings.TrimSpace(fields[f.name])
		if v == "" {
			api.writeError(w, r, http.StatusBadRequest, f.name+"_required")
			return
		}
		*f.dst = v
	}

	result, err := api.runCheckpoint(r.Context(), req)
	if err != nil {
		api.runs.Inc("error")
		httpserver.InternalError(w, r, api.logger, err)
		return
	}

	status := http.StatusOK
	outcome := "success"
	if !result.Success {
		status = http.StatusExpectationFailed
		outcome = "failure"
	}
	api.runs.Inc(outcome)

	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	api.logger.Info("checkpoint run",
		"request_id", requestID,
		"checkpoint", req.checkpointName(),
		"datasource", req.DatasourceName,
		"data_asset", req.DataAssetName,
		"suite", req.ExpectationSuiteName,
		"success", result.Success,
	)
	api.writeJSON(w, status, result)
}

// requestFields returns the descriptor from a non-empty JSON object body, or
// failing that from a non-empty query string. ok is false when neither is
// present. The body is parsed whatever its Content-Type. A body over
// maxBodyBytes yields errBodyTooLarge.
func requestFields(w http.ResponseWriter, r *http.Request) (map[string]string, bool, error) {
	body, err := decodeBodyObject(w, r)
	if err != nil {
		return nil, false, err
	}
	if len(body) > 0 {
		out := make(map[string]string, len(body))
		for k, v := range body {
			if s, isString := v.(string); isString {
				out[k] = s
			}
		}
		return out, true, nil
	}

	query := r.URL.Query()
	if len(query) == 0 {
		return nil, false, nil
	}
	out := make(map[string]string, len(query))
	for k := range query {
		out[k] = query.Get(k)
	}
	return out, true, nil
}

// decodeBodyObject silently ignores bodies that are not a JSON object. Only an
// oversized body is reported.
func decodeBodyObject(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	if r.Body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errBodyTooLarge
		}
		return nil, nil
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, nil
	}
	return obj, nil
}

func (api *triggerAPI) runCheckpoint(ctx context.Context, req validationRequest) (dataquality.CheckpointResult, error) {
	text, err := objectstore.ReadText(ctx, api.store, api.configRef)
	if err != nil {
		return dataquality.CheckpointResult{}, fmt.Errorf("load data context config: %w", err)
	}

	var tree map[string]any
	if err := yaml.Unmarshal([]byte(text), &tree); err != nil {
		return dataquality.CheckpointResult{}, fmt.Errorf("parse data context config %s: %w", api.configRef, err)
	}
	cfg, err := dataquality.ContextConfigFromMap(tree, nil)
	if err != nil {
		return dataquality.CheckpointResult{}, fmt.Errorf("data context config %s: %w", api.configRef, err)
	}

	dc, err := dataquality.NewDataContext(cfg, api.contextRoot, api.store, dataquality.Options{
		Logger:  api.logger,
		SQL:     api.sqlCfg,
		OpenSQL: api.openSQL,
		Now:     api.now,
	})
	if err != nil {
		return dataquality.CheckpointResult{}, fmt.Errorf("build data context: %w", err)
	}
	defer func() {
		if err := dc.Close(); err != nil {
			api.logger.Warn("close data context", "error", err)
		}
	}()

	checkpoint, err := dc.NewCheckpoint(dataquality.CheckpointConfig{
		Name:      req.checkpointName(),
		ClassName: "SimpleCheckpoint",
		Validations: []dataquality.ValidationConfig{{
			BatchRequest: dataquality.BatchRequest{
				DatasourceName:    req.DatasourceName,
				DataConnectorName: dataquality.DefaultDataConnectorName,
				DataAssetName:     req.DataAssetName,
			},
			ExpectationSuiteName: req.ExpectationSuiteName,
		}},
	})
	if err != nil {
		return dataquality.CheckpointResult{}, err
	}
	return checkpoint.Run(ctx)
}

func (api *triggerAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *triggerAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": requestID,
	})
}
