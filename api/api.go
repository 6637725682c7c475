// Package api exposes the read surface of the engine plus the small set
// of write operations (rule and tenant management, manual run trigger,
// notification resend) over HTTP. Every data route is tenant-scoped via
// a mandatory tenant_id parameter.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"guardian/core"
	"guardian/notify"
	"guardian/rules"
	"guardian/storage"
)

const (
	defaultQueryWindow = 24 * time.Hour
	defaultAuditLimit  = 100
	maxAuditLimit      = 1000
)

// Stores bundles the storage interfaces the API reads from and writes to.
type Stores struct {
	Tenants   storage.TenantStore
	Rules     storage.RuleStore
	Events    storage.EventStore
	Alerts    storage.AlertStore
	Clusters  storage.ClusterStore
	Scores    storage.RiskScoreStore
	Incidents storage.IncidentStore
	Records   storage.NotificationStore
	Audit     storage.AuditStore
}

// API is the HTTP handler set for the engine.
type API struct {
	stores     Stores
	validator  *rules.Validator
	dispatcher *notify.Dispatcher
	trigger    TenantRunner
	validate   *validator.Validate
	logger     *zap.SugaredLogger
}

// TenantRunner enqueues an immediate evaluation run for one tenant.
// Satisfied by the scheduler; nil disables the trigger endpoint.
type TenantRunner interface {
	TriggerNow(ctx context.Context, tenantID string) error
}

// New creates the API handler set. trigger may be nil when no scheduler
// is running (read-only deployments).
func New(stores Stores, ruleValidator *rules.Validator, dispatcher *notify.Dispatcher, trigger TenantRunner, logger *zap.SugaredLogger) *API {
	return &API{
		stores:     stores,
		validator:  ruleValidator,
		dispatcher: dispatcher,
		trigger:    trigger,
		validate:   validator.New(),
		logger:     logger,
	}
}

// Router builds the route table.
func (a *API) Router(limit RateLimit) *mux.Router {
	r := mux.NewRouter()
	r.Use(rateLimitMiddleware(limit, a.logger))

	v1 := r.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/events", a.ingestEvents).Methods(http.MethodPost)
	v1.HandleFunc("/alerts", a.getAlerts).Methods(http.MethodGet)
	v1.HandleFunc("/clusters", a.getClusters).Methods(http.MethodGet)
	v1.HandleFunc("/scores", a.getScore).Methods(http.MethodGet)
	v1.HandleFunc("/incidents", a.getIncidents).Methods(http.MethodGet)
	v1.HandleFunc("/audit", a.getAuditEntries).Methods(http.MethodGet)

	v1.HandleFunc("/rules", a.getRules).Methods(http.MethodGet)
	v1.HandleFunc("/rules", a.createRule).Methods(http.MethodPost)
	v1.HandleFunc("/rules/{id}", a.updateRule).Methods(http.MethodPut)
	v1.HandleFunc("/rules/{id}", a.deleteRule).Methods(http.MethodDelete)

	v1.HandleFunc("/tenants", a.getTenants).Methods(http.MethodGet)
	v1.HandleFunc("/tenants/{id}", a.getTenant).Methods(http.MethodGet)
	v1.HandleFunc("/tenants/{id}", a.upsertTenant).Methods(http.MethodPut)
	v1.HandleFunc("/tenants/{id}/run", a.triggerRun).Methods(http.MethodPost)

	v1.HandleFunc("/notifications/{id}/resend", a.resendNotification).Methods(http.MethodPost)

	r.HandleFunc("/healthz", a.health).Methods(http.MethodGet)
	return r
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	a.respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// ingestEvents accepts a JSON array of telemetry events. Events with no
// ID are assigned one; events with no timestamp get the receive time.
func (a *API) ingestEvents(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body", err, a.logger)
		return
	}
	var events []core.Event
	if err := json.Unmarshal(body, &events); err != nil {
		writeError(w, http.StatusBadRequest, "malformed event batch, expected a JSON array", err, a.logger)
		return
	}

	now := time.Now().UTC()
	accepted := 0
	for i := range events {
		event := &events[i]
		if event.TenantID == "" {
			writeError(w, http.StatusBadRequest, "every event requires a tenant_id", nil, a.logger)
			return
		}
		if event.ID == "" {
			event.ID = uuid.NewString()
		}
		if event.OccurredAt.IsZero() {
			event.OccurredAt = now
		}
		if err := a.stores.Events.InsertEvent(r.Context(), event); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to store events", err, a.logger)
			return
		}
		accepted++
	}
	a.respondJSON(w, map[string]int{"accepted": accepted}, http.StatusAccepted)
}

func (a *API) getAlerts(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	since, err := parseSince(r, time.Now().UTC().Add(-defaultQueryWindow))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid since parameter", err, a.logger)
		return
	}

	alerts, err := a.stores.Alerts.GetAlertsSince(r.Context(), tenantID, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to retrieve alerts", err, a.logger)
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := alerts[:0]
		for _, alert := range alerts {
			if string(alert.Status) == status {
				filtered = append(filtered, alert)
			}
		}
		alerts = filtered
	}
	a.respondJSON(w, listResponse{Items: alerts, Count: len(alerts)}, http.StatusOK)
}

func (a *API) getClusters(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	since, err := parseSince(r, time.Now().UTC().Add(-defaultQueryWindow))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid since parameter", err, a.logger)
		return
	}

	clusters, err := a.stores.Clusters.GetClustersSince(r.Context(), tenantID, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to retrieve clusters", err, a.logger)
		return
	}
	a.respondJSON(w, listResponse{Items: clusters, Count: len(clusters)}, http.StatusOK)
}

func (a *API) getScore(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		date = core.ScoreDateOf(time.Now())
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "invalid date parameter, expected YYYY-MM-DD", err, a.logger)
		return
	}

	score, err := a.stores.Scores.GetScore(r.Context(), tenantID, date)
	if errors.Is(err, storage.ErrScoreNotFound) {
		writeError(w, http.StatusNotFound, "no risk score for that date", nil, a.logger)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to retrieve risk score", err, a.logger)
		return
	}
	a.respondJSON(w, score, http.StatusOK)
}

func (a *API) getIncidents(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	since, err := parseSince(r, time.Now().UTC().Add(-defaultQueryWindow))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid since parameter", err, a.logger)
		return
	}

	incidents, err := a.stores.Incidents.GetIncidentsSince(r.Context(), tenantID, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to retrieve incidents", err, a.logger)
		return
	}
	a.respondJSON(w, listResponse{Items: incidents, Count: len(incidents)}, http.StatusOK)
}

func (a *API) getAuditEntries(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	since, err := parseSince(r, time.Now().UTC().Add(-defaultQueryWindow))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid since parameter", err, a.logger)
		return
	}
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter", err, a.logger)
			return
		}
		if limit > maxAuditLimit {
			limit = maxAuditLimit
		}
	}

	entries, err := a.stores.Audit.GetEntries(r.Context(), tenantID, since, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to retrieve audit entries", err, a.logger)
		return
	}
	a.respondJSON(w, listResponse{Items: entries, Count: len(entries)}, http.StatusOK)
}

func (a *API) getRules(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	ruleList, err := a.stores.Rules.GetEnabledRules(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to retrieve rules", err, a.logger)
		return
	}
	a.respondJSON(w, listResponse{Items: ruleList, Count: len(ruleList)}, http.StatusOK)
}

func (a *API) createRule(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body", err, a.logger)
		return
	}
	rule, err := a.validator.ValidateJSON(body)
	if err != nil {
		if core.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
			return
		}
		writeError(w, http.StatusInternalServerError, "rule validation failed", err, a.logger)
		return
	}

	now := time.Now().UTC()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if err := a.stores.Rules.CreateRule(r.Context(), rule); err != nil {
		if errors.Is(err, storage.ErrDuplicateRule) {
			writeError(w, http.StatusConflict, "rule already exists", nil, a.logger)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create rule", err, a.logger)
		return
	}
	a.respondJSON(w, rule, http.StatusCreated)
}

func (a *API) updateRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body", err, a.logger)
		return
	}
	rule, err := a.validator.ValidateJSON(body)
	if err != nil {
		if core.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
			return
		}
		writeError(w, http.StatusInternalServerError, "rule validation failed", err, a.logger)
		return
	}
	rule.ID = id

	existing, err := a.stores.Rules.GetRule(r.Context(), rule.TenantID, id)
	if errors.Is(err, storage.ErrRuleNotFound) {
		writeError(w, http.StatusNotFound, "rule not found", nil, a.logger)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load rule", err, a.logger)
		return
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()
	if err := a.stores.Rules.UpdateRule(r.Context(), rule); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update rule", err, a.logger)
		return
	}
	a.respondJSON(w, rule, http.StatusOK)
}

func (a *API) deleteRule(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if err := a.stores.Rules.DeleteRule(r.Context(), tenantID, id); err != nil {
		if errors.Is(err, storage.ErrRuleNotFound) {
			writeError(w, http.StatusNotFound, "rule not found", nil, a.logger)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete rule", err, a.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := a.stores.Tenants.GetTenants(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to retrieve tenants", err, a.logger)
		return
	}
	a.respondJSON(w, listResponse{Items: tenants, Count: len(tenants)}, http.StatusOK)
}

func (a *API) getTenant(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	tenant, err := a.stores.Tenants.GetTenant(r.Context(), id)
	if errors.Is(err, storage.ErrTenantNotFound) {
		writeError(w, http.StatusNotFound, "tenant not found", nil, a.logger)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to retrieve tenant", err, a.logger)
		return
	}
	a.respondJSON(w, tenant, http.StatusOK)
}

func (a *API) upsertTenant(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body", err, a.logger)
		return
	}
	var settings core.TenantSettings
	if err := json.Unmarshal(body, &settings); err != nil {
		writeError(w, http.StatusBadRequest, "malformed tenant settings", err, a.logger)
		return
	}
	settings.TenantID = id
	if settings.SeverityThreshold != "" && !settings.SeverityThreshold.IsValid() {
		writeError(w, http.StatusBadRequest, "invalid severity_threshold", nil, a.logger)
		return
	}
	if err := a.validate.Struct(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant settings: "+err.Error(), nil, a.logger)
		return
	}

	if err := a.stores.Tenants.UpsertTenant(r.Context(), &settings); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store tenant settings", err, a.logger)
		return
	}
	a.respondJSON(w, settings, http.StatusOK)
}

func (a *API) triggerRun(w http.ResponseWriter, r *http.Request) {
	if a.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not running", nil, a.logger)
		return
	}
	id := mux.Vars(r)["id"]
	if err := a.trigger.TriggerNow(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrTenantNotFound) {
			writeError(w, http.StatusNotFound, "tenant not found", nil, a.logger)
			return
		}
		writeError(w, http.StatusServiceUnavailable, "failed to enqueue run", err, a.logger)
		return
	}
	a.respondJSON(w, map[string]string{"status": "queued", "tenant_id": id}, http.StatusAccepted)
}

func (a *API) resendNotification(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	recordID := mux.Vars(r)["id"]

	record, err := a.stores.Records.GetRecord(r.Context(), tenantID, recordID)
	if errors.Is(err, storage.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "notification record not found", nil, a.logger)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load notification record", err, a.logger)
		return
	}
	if record.DeliveryStatus != core.DeliveryStatusFailed {
		writeError(w, http.StatusConflict, "only failed notifications can be resent", nil, a.logger)
		return
	}

	tenant, err := a.stores.Tenants.GetTenant(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load tenant settings", err, a.logger)
		return
	}
	msg, err := a.rebuildMessage(r, record)
	if err != nil {
		writeError(w, http.StatusNotFound, "notification target no longer exists", err, a.logger)
		return
	}

	updated, err := a.dispatcher.Resend(r.Context(), tenantID, recordID, tenant.Channels, msg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "resend failed", err, a.logger)
		return
	}
	a.respondJSON(w, updated, http.StatusOK)
}

// rebuildMessage reconstructs the original notification payload from the
// record's target.
func (a *API) rebuildMessage(r *http.Request, record *core.NotificationRecord) (notify.Message, error) {
	switch record.TargetKind {
	case core.TargetIncident:
		incident, err := a.stores.Incidents.GetIncident(r.Context(), record.TenantID, record.TargetID)
		if err != nil {
			return notify.Message{}, err
		}
		severity := core.SeverityHigh
		if len(incident.SourceAlertIDs) > 0 {
			if alert, err := a.stores.Alerts.GetAlert(r.Context(), record.TenantID, incident.SourceAlertIDs[0]); err == nil {
				severity = alert.Severity
			}
		}
		return notify.IncidentMessage(incident, severity), nil
	default:
		alert, err := a.stores.Alerts.GetAlert(r.Context(), record.TenantID, record.TargetID)
		if err != nil {
			return notify.Message{}, err
		}
		return notify.AlertMessage(alert), nil
	}
}

type listResponse struct {
	Items any `json:"items"`
	Count int `json:"count"`
}

func (a *API) respondJSON(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Errorw("Failed to encode response", "error", err)
	}
}
