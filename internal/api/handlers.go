package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"viewpulse/internal/alerting"
	"viewpulse/internal/logger"
	"viewpulse/internal/model"
	"viewpulse/internal/monitor"
	"viewpulse/internal/scheduler"
	"viewpulse/internal/storage"
)

const defaultHistoryWindow = 24 * time.Hour

type Poller interface {
	RunItem(ctx context.Context, itemID string) (scheduler.ItemResult, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req alerting.Request) (alerting.Result, error)
}

type Handler struct {
	Store      storage.Backend
	Poller     Poller
	Dispatcher Dispatcher
	Timeout    time.Duration
	Now        func() time.Time

	log zerolog.Logger
}

type itemView struct {
	model.TrackedItem
	Snapshot monitor.Snapshot `json:"snapshot"`
}

type historyResponse struct {
	ItemID string              `json:"itemId"`
	From   time.Time           `json:"from"`
	To     time.Time           `json:"to"`
	Points []monitor.RatePoint `json:"points"`
}

type testAlertRequest struct {
	Tier    string `json:"tier"`
	Message string `json:"message"`
}

// NewRouter builds the HTTP surface with the middleware stack and metrics.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	h.RegisterRoutes(r)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	h.log = logger.WithComponent("api")
	if h.Now == nil {
		h.Now = time.Now
	}
	if h.Timeout <= 0 {
		h.Timeout = 10 * time.Second
	}
	r.Get("/healthz", h.handleHealth)
	r.Route("/items", func(r chi.Router) {
		r.Get("/", h.handleItemsList)
		r.Get("/{id}", h.handleItemGet)
		r.Get("/{id}/samples", h.handleItemSamples)
		r.Post("/{id}/test-alert", h.handleTestAlert)
		r.Post("/{id}/poll", h.handlePoll)
	})
	r.Get("/alerts", h.handleAlertsList)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleItemsList(w http.ResponseWriter, r *http.Request) {
	status := model.ItemStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "INVALID_STATUS", "status must be active or paused")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	items, err := h.Store.ListItems(ctx, status)
	if err != nil {
		h.storageError(w, err)
		return
	}
	views := make([]itemView, 0, len(items))
	for _, item := range items {
		view, err := h.view(ctx, item)
		if err != nil {
			h.storageError(w, err)
			return
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleItemGet(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	item, ok := h.loadItem(ctx, w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	view, err := h.view(ctx, item)
	if err != nil {
		h.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleItemSamples(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	to := h.Now().UTC()
	if raw := query.Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_RANGE", "to must be an RFC3339 timestamp")
			return
		}
		to = parsed.UTC()
	}
	from := to.Add(-defaultHistoryWindow)
	if raw := query.Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_RANGE", "from must be an RFC3339 timestamp")
			return
		}
		from = parsed.UTC()
	}
	if from.After(to) {
		writeError(w, http.StatusBadRequest, "INVALID_RANGE", "from must not be after to")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	item, ok := h.loadItem(ctx, w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	samples, err := h.Store.SamplesBetween(ctx, item.ID, from, to)
	if err != nil {
		h.storageError(w, err)
		return
	}
	var predecessor *model.Sample
	prev, err := h.Store.SampleBefore(ctx, item.ID, from)
	switch {
	case err == nil:
		predecessor = &prev
	case !errors.Is(err, storage.ErrNotFound):
		h.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{
		ItemID: item.ID,
		From:   from,
		To:     to,
		Points: monitor.HistoryRates(predecessor, samples),
	})
}

// handleTestAlert sends a test alert regardless of cooldown or item status.
func (h *Handler) handleTestAlert(w http.ResponseWriter, r *http.Request) {
	var req testAlertRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	tier := model.TierWarning
	if strings.TrimSpace(req.Tier) != "" {
		parsed, err := model.ParseTier(req.Tier)
		if err != nil || !parsed.Alerting() {
			writeError(w, http.StatusBadRequest, "INVALID_TIER", "tier must be warning or emergency")
			return
		}
		tier = parsed
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	item, ok := h.loadItem(ctx, w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	recent, err := h.Store.RecentSamples(ctx, item.ID, 2)
	if err != nil {
		h.storageError(w, err)
		return
	}
	result, err := h.Dispatcher.Dispatch(ctx, alerting.Request{
		Kind:    alerting.KindTest,
		Item:    item,
		Tier:    tier,
		Rate:    monitor.Rate(recent),
		Message: strings.TrimSpace(req.Message),
	})
	if err != nil {
		h.log.Error().Err(err).Str("item_id", item.ID).Msg("test alert records incomplete")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": err.Error(), "result": result})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handlePoll(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.Poller.RunItem(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "item not found")
		return
	case errors.Is(err, scheduler.ErrItemNotActive):
		writeError(w, http.StatusConflict, "ITEM_PAUSED", "item is paused")
		return
	case err != nil:
		h.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleAlertsList(w http.ResponseWriter, r *http.Request) {
	filter, details := parseAlertFilter(r)
	if len(details) > 0 {
		writeError(w, http.StatusBadRequest, "INVALID_FILTER", "invalid alert filter", details...)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	alerts, err := h.Store.ListAlerts(ctx, filter)
	if err != nil {
		h.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func parseAlertFilter(r *http.Request) (storage.AlertFilter, []model.ErrorDetail) {
	query := r.URL.Query()
	filter := storage.AlertFilter{ItemID: strings.TrimSpace(query.Get("item"))}
	var details []model.ErrorDetail
	if raw := query.Get("channel"); raw != "" {
		channel, err := model.ParseChannel(raw)
		if err != nil {
			details = append(details, model.ErrorDetail{Field: "channel", Problem: err.Error(), Hint: "Use email, chat or sms"})
		}
		filter.Channel = channel
	}
	if raw := query.Get("outcome"); raw != "" {
		outcome := model.Outcome(strings.ToLower(raw))
		if !outcome.Valid() {
			details = append(details, model.ErrorDetail{Field: "outcome", Problem: "invalid", Hint: "Use delivered or failed"})
		}
		filter.Outcome = outcome
	}
	if raw := query.Get("tier"); raw != "" {
		tier, err := model.ParseTier(raw)
		if err != nil {
			details = append(details, model.ErrorDetail{Field: "tier", Problem: err.Error()})
		}
		filter.Tier = &tier
	}
	if raw := query.Get("test"); raw != "" {
		isTest, err := strconv.ParseBool(raw)
		if err != nil {
			details = append(details, model.ErrorDetail{Field: "test", Problem: "must be true or false"})
		}
		filter.IsTest = &isTest
	}
	if raw := query.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			details = append(details, model.ErrorDetail{Field: "since", Problem: "must be an RFC3339 timestamp"})
		}
		filter.Since = since
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			details = append(details, model.ErrorDetail{Field: "limit", Problem: "must be a positive integer"})
		}
		filter.Limit = limit
	}
	return filter, details
}

func (h *Handler) view(ctx context.Context, item model.TrackedItem) (itemView, error) {
	recent, err := h.Store.RecentSamples(ctx, item.ID, 2)
	if err != nil {
		return itemView{}, err
	}
	return itemView{TrackedItem: item, Snapshot: monitor.Evaluate(recent, item)}, nil
}

func (h *Handler) loadItem(ctx context.Context, w http.ResponseWriter, id string) (model.TrackedItem, bool) {
	item, err := h.Store.GetItem(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "item not found")
		return model.TrackedItem{}, false
	}
	if err != nil {
		h.storageError(w, err)
		return model.TrackedItem{}, false
	}
	return item, true
}

func (h *Handler) storageError(w http.ResponseWriter, err error) {
	h.log.Error().Err(err).Msg("request failed")
	writeError(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "storage unavailable")
}
