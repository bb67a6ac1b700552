package interfaces

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/logger"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/remote"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/eligibility/application"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/eligibility/domain"
)

// globalStore 是 URL 中表示全局过滤器的占位符。
const globalStore = "global"

// Evaluator 对一组用户属性求值条件。
type Evaluator interface {
	Evaluate(condition string, facts domain.Facts) (bool, error)
}

// FilterHandler 封装了资格过滤器的 HTTP 处理器。
type FilterHandler struct {
	service   *application.FilterService
	evaluator Evaluator
}

func NewFilterHandler(service *application.FilterService, evaluator Evaluator) *FilterHandler {
	return &FilterHandler{service: service, evaluator: evaluator}
}

func (h *FilterHandler) RegisterRoutes(r chi.Router) {
	r.Route("/eligibility", func(r chi.Router) {
		r.Get("/filters", h.handleList)
		r.Get("/filters/{store}", h.handleGet)
		r.Put("/filters/{store}/draft", h.handleSaveDraft)
		r.Post("/filters/{store}/publish", h.handlePublish)
		r.Get("/preview", h.handlePreview)
		r.Post("/evaluate", h.handleEvaluate)
	})
}

type response struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	Data      any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func statusFor(err error) (int, bool) {
	var re *remote.Error
	switch {
	case errors.Is(err, domain.ErrFilterNotFound):
		return http.StatusNotFound, false
	case errors.Is(err, domain.ErrInvalidFilter):
		return http.StatusBadRequest, false
	case errors.Is(err, domain.ErrStatusNotAllowed),
		errors.Is(err, domain.ErrDiverged):
		return http.StatusConflict, false
	case remote.IsBusy(err):
		return http.StatusConflict, true
	case remote.IsOffline(err):
		return http.StatusServiceUnavailable, true
	case remote.IsCompensationFailure(err):
		return http.StatusInternalServerError, false
	case errors.As(err, &re) && re.Origin != remote.OriginStore:
		return http.StatusBadGateway, false
	default:
		return http.StatusInternalServerError, false
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error, data any) {
	code, retryable := statusFor(err)
	if code >= http.StatusInternalServerError {
		logger.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Int("status", code).Msg("request failed")
	}
	writeJSON(w, code, response{Message: err.Error(), Retryable: retryable, Data: data})
}

func storeParam(r *http.Request) string {
	store := chi.URLParam(r, "store")
	if strings.EqualFold(store, globalStore) {
		return ""
	}
	return store
}

func (h *FilterHandler) handleList(w http.ResponseWriter, r *http.Request) {
	fs, err := h.service.List(r.Context())
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: fs})
}

func (h *FilterHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	f, err := h.service.Get(r.Context(), storeParam(r))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: f})
}

func (h *FilterHandler) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	var data domain.FilterData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, r, errors.Wrapf(domain.ErrInvalidFilter, "invalid request body: %v", err), nil)
		return
	}
	f, err := h.service.SaveDraft(r.Context(), storeParam(r), data)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Message: "draft saved", Data: f})
}

// handlePublish 按 env 参数发布到 staged（默认）或 published。
func (h *FilterHandler) handlePublish(w http.ResponseWriter, r *http.Request) {
	env := collaborator.EnvStaged
	if raw := r.URL.Query().Get("env"); raw != "" {
		var err error
		if env, err = collaborator.ParseEnv(raw); err != nil || !env.Remote() {
			writeError(w, r, errors.Wrapf(domain.ErrInvalidFilter, "cannot publish to %q", raw), nil)
			return
		}
	}

	publish := h.service.PublishStaged
	if env == collaborator.EnvPublished {
		publish = h.service.PublishProd
	}
	f, err := publish(r.Context(), storeParam(r))
	if err != nil {
		writeError(w, r, err, f)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Message: "[" + env.Short() + "] eligibility published", Data: f})
}

// handlePreview 返回 env 阶段数据合并后的规则，不写入远端；默认合并草稿。
func (h *FilterHandler) handlePreview(w http.ResponseWriter, r *http.Request) {
	env := collaborator.EnvLocal
	if raw := r.URL.Query().Get("env"); raw != "" {
		var err error
		if env, err = collaborator.ParseEnv(raw); err != nil {
			writeError(w, r, errors.Wrap(domain.ErrInvalidFilter, err.Error()), nil)
			return
		}
	}
	ps, err := h.service.Preview(r.Context(), env)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: domain.Entries(ps)})
}

type evaluateRequest struct {
	Condition string       `json:"condition"`
	Facts     domain.Facts `json:"facts"`
}

func (h *FilterHandler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errors.Wrapf(domain.ErrInvalidFilter, "invalid request body: %v", err), nil)
		return
	}
	ok, err := h.evaluator.Evaluate(req.Condition, req.Facts)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: map[string]bool{"eligible": ok}})
}
