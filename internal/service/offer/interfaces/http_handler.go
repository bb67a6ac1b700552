package interfaces

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/logger"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/remote"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/offer/application"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/offer/domain"
)

// OfferHandler 封装了 offer 与 campaign 的 HTTP 处理器。
type OfferHandler struct {
	offers    *application.OfferSaga
	campaigns *application.CampaignSaga
}

// NewOfferHandler 创建一个新的 HTTP 处理器实例
func NewOfferHandler(offers *application.OfferSaga, campaigns *application.CampaignSaga) *OfferHandler {
	return &OfferHandler{offers: offers, campaigns: campaigns}
}

// RegisterRoutes 在 chi.Router 上注册所有路由
func (h *OfferHandler) RegisterRoutes(r chi.Router) {
	r.Route("/offers/{kind}/{store}/{code}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Get("/history", h.handleHistory)
		r.Put("/draft", h.handleSaveDraft)
		r.Delete("/draft", h.handleDiscardDraft)
		r.Post("/", h.handleCreate)
		r.Put("/", h.handleUpdate)
		r.Delete("/", h.handleDelete)
		r.Post("/validate", h.handleValidate)
	})
	r.Post("/builds/callback", h.handleBuildCallback)
	r.Route("/campaigns/{kind}", func(r chi.Router) {
		r.Post("/", h.handleCreateCampaign)
		r.Get("/{id}", h.handleGetCampaign)
		r.Put("/{id}", h.handleUpdateCampaign)
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

// statusFor 把错误映射为 HTTP 状态码，第二个返回值表示调用方可以稍后重试。
func statusFor(err error) (int, bool) {
	var re *remote.Error
	switch {
	case errors.Is(err, domain.ErrOfferNotFound):
		return http.StatusNotFound, false
	case errors.Is(err, domain.ErrInvalidOffer):
		return http.StatusBadRequest, false
	case errors.Is(err, domain.ErrStatusNotAllowed),
		errors.Is(err, domain.ErrPolicyViolation):
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

func ref(r *http.Request) (application.OfferRef, error) {
	kind, err := domain.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		return application.OfferRef{}, err
	}
	return application.OfferRef{Kind: kind, StoreCode: chi.URLParam(r, "store"), OfferCode: chi.URLParam(r, "code")}, nil
}

func envParam(r *http.Request) (collaborator.Env, error) {
	raw := r.URL.Query().Get("env")
	if raw == "" {
		return collaborator.EnvStaged, nil
	}
	env, err := collaborator.ParseEnv(raw)
	if err != nil {
		return "", errors.Wrap(domain.ErrInvalidOffer, err.Error())
	}
	return env, nil
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrapf(domain.ErrInvalidOffer, "invalid request body: %v", err)
	}
	return nil
}

func (h *OfferHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	rf, err := ref(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	o, err := h.offers.Get(r.Context(), rf)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: o})
}

func (h *OfferHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	rf, err := ref(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	hs, err := h.offers.History(r.Context(), rf)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: hs})
}

func (h *OfferHandler) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	rf, err := ref(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	var draft domain.DraftData
	if err := decode(r, &draft); err != nil {
		writeError(w, r, err, nil)
		return
	}
	o, err := h.offers.SaveDraft(r.Context(), application.DraftRequest{
		OfferRef: rf,
		Campaign: r.URL.Query().Get("campaign"),
		Draft:    draft,
	})
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Message: "draft saved", Data: o})
}

func (h *OfferHandler) handleDiscardDraft(w http.ResponseWriter, r *http.Request) {
	rf, err := ref(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	if err := h.offers.DiscardDraft(r.Context(), rf); err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Message: "draft discarded"})
}

// handleCreate 的请求体可以为空，此时使用已保存的草稿。
func (h *OfferHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	rf, err := ref(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	env, err := envParam(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	req := application.CreateRequest{OfferRef: rf, Env: env, Campaign: r.URL.Query().Get("campaign")}
	if r.ContentLength != 0 {
		var draft domain.DraftData
		if err := decode(r, &draft); err != nil {
			writeError(w, r, err, nil)
			return
		}
		req.Draft = &draft
	}
	h.writeResult(w, r, http.StatusCreated, func() (*application.Result, error) { return h.offers.Create(r.Context(), req) })
}

func (h *OfferHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	rf, err := ref(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	env, err := envParam(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	var draft domain.DraftData
	if err := decode(r, &draft); err != nil {
		writeError(w, r, err, nil)
		return
	}
	h.writeResult(w, r, http.StatusOK, func() (*application.Result, error) {
		return h.offers.Update(r.Context(), application.UpdateRequest{OfferRef: rf, Env: env, Draft: draft})
	})
}

func (h *OfferHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	rf, err := ref(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	h.writeResult(w, r, http.StatusOK, func() (*application.Result, error) { return h.offers.Delete(r.Context(), rf) })
}

func (h *OfferHandler) handleValidate(w http.ResponseWriter, r *http.Request) {
	rf, err := ref(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	env, err := envParam(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	h.writeResult(w, r, http.StatusAccepted, func() (*application.Result, error) { return h.offers.Validate(r.Context(), rf, env) })
}

// handleBuildCallback 接收构建服务的 HTTP 回调；与 Kafka 消费者走同一条处理路径。
func (h *OfferHandler) handleBuildCallback(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	var res collaborator.BuildResult
	if err := decode(r, &res); err != nil {
		writeError(w, r, err, nil)
		return
	}
	out, err := h.offers.HandleBuildResult(ctx, res)
	if err != nil && !handledBuildFailure(res, err) {
		writeError(w, r, err, offerOf(out))
		return
	}
	writeJSON(w, http.StatusOK, response{Success: err == nil, Message: messageOf(out, err), Data: offerOf(out)})
}

func (h *OfferHandler) writeResult(w http.ResponseWriter, r *http.Request, okCode int, run func() (*application.Result, error)) {
	res, err := run()
	if err != nil {
		writeError(w, r, err, offerOf(res))
		return
	}
	writeJSON(w, okCode, response{Success: true, Message: res.Message, Data: res.Offer})
}

func offerOf(res *application.Result) any {
	if res == nil || res.Offer == nil {
		return nil
	}
	return res.Offer
}

func messageOf(res *application.Result, err error) string {
	if res != nil && res.Message != "" {
		return res.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// handledBuildFailure 报告错误是否只是失败构建被正常处理（补偿成功）的结果。
func handledBuildFailure(res collaborator.BuildResult, err error) bool {
	return !res.Success && !remote.IsCompensationFailure(err) && remote.OriginOf(err) == remote.OriginBuild
}

type campaignBody struct {
	Campaign string                      `json:"campaign"`
	Offers   []application.CampaignOffer `json:"offers"`
}

func (h *OfferHandler) campaignRequest(r *http.Request) (application.CampaignRequest, error) {
	kind, err := domain.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		return application.CampaignRequest{}, err
	}
	env, err := envParam(r)
	if err != nil {
		return application.CampaignRequest{}, err
	}
	var body campaignBody
	if err := decode(r, &body); err != nil {
		return application.CampaignRequest{}, err
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		id = strings.TrimSpace(body.Campaign)
	}
	return application.CampaignRequest{Kind: kind, Env: env, Campaign: id, Offers: body.Offers}, nil
}

func (h *OfferHandler) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	req, err := h.campaignRequest(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	res, err := h.campaigns.Create(r.Context(), req)
	h.writeCampaign(w, r, res, err)
}

func (h *OfferHandler) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	req, err := h.campaignRequest(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	res, err := h.campaigns.Update(r.Context(), req)
	h.writeCampaign(w, r, res, err)
}

// writeCampaign 在部分区域失败时返回 207，各区域结果在 data 中。
func (h *OfferHandler) writeCampaign(w http.ResponseWriter, r *http.Request, res *application.CampaignResult, err error) {
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	code := http.StatusOK
	if res.Failed() {
		code = http.StatusMultiStatus
	}
	writeJSON(w, code, response{Success: !res.Failed(), Message: res.Message, Data: res})
}

func (h *OfferHandler) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	c, err := h.campaigns.Get(r.Context(), kind, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: map[string]any{
		"campaign": c.ID,
		"kind":     c.Kind,
		"status":   c.Status(),
		"offers":   c.Offers,
	}})
}
