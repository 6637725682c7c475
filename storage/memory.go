package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"guardian/core"
)

// Memory implements every store interface over plain maps. It backs unit
// tests for the pipeline stages; failure injection via FailOp simulates
// genuine storage errors without a database.
type Memory struct {
	mu sync.RWMutex

	tenants       map[string]core.TenantSettings
	rules         map[string]map[string]core.Rule
	events        map[string][]core.Event
	alerts        map[string]map[string]core.AlertEvent
	clusters      map[string][]core.CorrelationCluster
	scores        map[string]map[string]core.RiskScore
	incidents     map[string]map[string]core.Incident
	notifications map[string]map[string]core.NotificationRecord
	audit         map[string][]core.AuditLogEntry

	failures map[string]error
}

// NewMemory creates an empty in-memory store set.
func NewMemory() *Memory {
	return &Memory{
		tenants:       make(map[string]core.TenantSettings),
		rules:         make(map[string]map[string]core.Rule),
		events:        make(map[string][]core.Event),
		alerts:        make(map[string]map[string]core.AlertEvent),
		clusters:      make(map[string][]core.CorrelationCluster),
		scores:        make(map[string]map[string]core.RiskScore),
		incidents:     make(map[string]map[string]core.Incident),
		notifications: make(map[string]map[string]core.NotificationRecord),
		audit:         make(map[string][]core.AuditLogEntry),
		failures:      make(map[string]error),
	}
}

// FailOp makes every call to the named operation return err until cleared
// with a nil err. Operation names match the Op field of the persistence
// errors the SQLite stores produce ("alerts.insert", "scores.upsert", ...).
func (m *Memory) FailOp(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

func (m *Memory) failure(op string) error {
	if err, ok := m.failures[op]; ok {
		return &core.PersistenceError{Op: op, Err: err}
	}
	return nil
}

// --- TenantStore ---

func (m *Memory) GetTenants(ctx context.Context) ([]core.TenantSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("tenants.get_all"); err != nil {
		return nil, err
	}
	out := make([]core.TenantSettings, 0, len(m.tenants))
	for _, t := range m.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}

func (m *Memory) GetTenant(ctx context.Context, tenantID string) (*core.TenantSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("tenants.get"); err != nil {
		return nil, err
	}
	t, ok := m.tenants[tenantID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return &t, nil
}

func (m *Memory) UpsertTenant(ctx context.Context, settings *core.TenantSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("tenants.upsert"); err != nil {
		return err
	}
	m.tenants[settings.TenantID] = *settings
	return nil
}

// --- RuleStore ---

func (m *Memory) GetEnabledRules(ctx context.Context, tenantID string) ([]core.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("rules.get_enabled"); err != nil {
		return nil, err
	}
	var out []core.Rule
	for _, r := range m.rules[tenantID] {
		if r.Enabled {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetRule(ctx context.Context, tenantID, id string) (*core.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("rules.get"); err != nil {
		return nil, err
	}
	r, ok := m.rules[tenantID][id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	return &r, nil
}

func (m *Memory) CreateRule(ctx context.Context, rule *core.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("rules.create"); err != nil {
		return err
	}
	if m.rules[rule.TenantID] == nil {
		m.rules[rule.TenantID] = make(map[string]core.Rule)
	}
	if _, exists := m.rules[rule.TenantID][rule.ID]; exists {
		return ErrDuplicateRule
	}
	m.rules[rule.TenantID][rule.ID] = *rule
	return nil
}

func (m *Memory) UpdateRule(ctx context.Context, rule *core.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("rules.update"); err != nil {
		return err
	}
	if _, exists := m.rules[rule.TenantID][rule.ID]; !exists {
		return ErrRuleNotFound
	}
	m.rules[rule.TenantID][rule.ID] = *rule
	return nil
}

func (m *Memory) DeleteRule(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("rules.delete"); err != nil {
		return err
	}
	if _, exists := m.rules[tenantID][id]; !exists {
		return ErrRuleNotFound
	}
	delete(m.rules[tenantID], id)
	return nil
}

// --- EventStore ---

func (m *Memory) InsertEvent(ctx context.Context, event *core.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("events.insert"); err != nil {
		return err
	}
	m.events[event.TenantID] = append(m.events[event.TenantID], *event)
	return nil
}

func (m *Memory) GetEventsBetween(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]core.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("events.get_between"); err != nil {
		return nil, err
	}
	var out []core.Event
	for _, e := range m.events[tenantID] {
		if !e.OccurredAt.Before(from) && !e.OccurredAt.After(to) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- AlertStore ---

func (m *Memory) InsertAlert(ctx context.Context, alert *core.AlertEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("alerts.insert"); err != nil {
		return err
	}
	if m.alerts[alert.TenantID] == nil {
		m.alerts[alert.TenantID] = make(map[string]core.AlertEvent)
	}
	m.alerts[alert.TenantID][alert.ID] = *alert
	return nil
}

func (m *Memory) FindOpenByDedupeKey(ctx context.Context, tenantID, ruleID, dedupeKey string, since time.Time) ([]core.AlertEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("alerts.find_open"); err != nil {
		return nil, err
	}
	var out []core.AlertEvent
	for _, a := range m.alerts[tenantID] {
		if a.RuleID == ruleID && a.DedupeKey == dedupeKey &&
			a.Status == core.AlertStatusOpen && !a.TriggeredAt.Before(since) {
			out = append(out, a)
		}
	}
	sortAlerts(out)
	return out, nil
}

func (m *Memory) CountByDedupeKey(ctx context.Context, tenantID, dedupeKey string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("alerts.count_by_dedupe"); err != nil {
		return 0, err
	}
	count := 0
	for _, a := range m.alerts[tenantID] {
		if a.DedupeKey == dedupeKey && !a.TriggeredAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *Memory) GetAlertsSince(ctx context.Context, tenantID string, since time.Time) ([]core.AlertEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("alerts.get_since"); err != nil {
		return nil, err
	}
	var out []core.AlertEvent
	for _, a := range m.alerts[tenantID] {
		if !a.TriggeredAt.Before(since) {
			out = append(out, a)
		}
	}
	sortAlerts(out)
	return out, nil
}

func (m *Memory) GetOpenAlerts(ctx context.Context, tenantID string) ([]core.AlertEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("alerts.get_open"); err != nil {
		return nil, err
	}
	var out []core.AlertEvent
	for _, a := range m.alerts[tenantID] {
		if a.Status == core.AlertStatusOpen {
			out = append(out, a)
		}
	}
	sortAlerts(out)
	return out, nil
}

func (m *Memory) GetAlert(ctx context.Context, tenantID, id string) (*core.AlertEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("alerts.get"); err != nil {
		return nil, err
	}
	a, ok := m.alerts[tenantID][id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	return &a, nil
}

func (m *Memory) UpdateAlertStatus(ctx context.Context, tenantID, id string, status core.AlertStatus, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("alerts.update_status"); err != nil {
		return err
	}
	a, ok := m.alerts[tenantID][id]
	if !ok {
		return ErrAlertNotFound
	}
	a.Status = status
	a.UpdatedAt = now
	m.alerts[tenantID][id] = a
	return nil
}

func sortAlerts(alerts []core.AlertEvent) {
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].TriggeredAt.Equal(alerts[j].TriggeredAt) {
			return alerts[i].ID < alerts[j].ID
		}
		return alerts[i].TriggeredAt.Before(alerts[j].TriggeredAt)
	})
}

// --- ClusterStore ---

func (m *Memory) InsertClusters(ctx context.Context, clusters []core.CorrelationCluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("clusters.insert"); err != nil {
		return err
	}
	for _, c := range clusters {
		m.clusters[c.TenantID] = append(m.clusters[c.TenantID], c)
	}
	return nil
}

func (m *Memory) GetClustersSince(ctx context.Context, tenantID string, since time.Time) ([]core.CorrelationCluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("clusters.get_since"); err != nil {
		return nil, err
	}
	var out []core.CorrelationCluster
	for _, c := range m.clusters[tenantID] {
		if !c.CreatedAt.Before(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

// --- RiskScoreStore ---

func (m *Memory) UpsertScore(ctx context.Context, score *core.RiskScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("scores.upsert"); err != nil {
		return err
	}
	if m.scores[score.TenantID] == nil {
		m.scores[score.TenantID] = make(map[string]core.RiskScore)
	}
	m.scores[score.TenantID][score.ScoreDate] = *score
	return nil
}

func (m *Memory) GetScore(ctx context.Context, tenantID, scoreDate string) (*core.RiskScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("scores.get"); err != nil {
		return nil, err
	}
	s, ok := m.scores[tenantID][scoreDate]
	if !ok {
		return nil, ErrScoreNotFound
	}
	return &s, nil
}

// --- IncidentStore ---

func (m *Memory) InsertIncident(ctx context.Context, incident *core.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("incidents.insert"); err != nil {
		return err
	}
	if m.incidents[incident.TenantID] == nil {
		m.incidents[incident.TenantID] = make(map[string]core.Incident)
	}
	m.incidents[incident.TenantID][incident.ID] = *incident
	return nil
}

func (m *Memory) UpdateIncident(ctx context.Context, incident *core.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("incidents.update"); err != nil {
		return err
	}
	if _, ok := m.incidents[incident.TenantID][incident.ID]; !ok {
		return ErrIncidentNotFound
	}
	m.incidents[incident.TenantID][incident.ID] = *incident
	return nil
}

func (m *Memory) GetIncident(ctx context.Context, tenantID, id string) (*core.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("incidents.get"); err != nil {
		return nil, err
	}
	inc, ok := m.incidents[tenantID][id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	return &inc, nil
}

func (m *Memory) GetOpenIncidents(ctx context.Context, tenantID string) ([]core.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("incidents.get_open"); err != nil {
		return nil, err
	}
	var out []core.Incident
	for _, inc := range m.incidents[tenantID] {
		if inc.Status != core.IncidentStatusResolved {
			out = append(out, inc)
		}
	}
	sortIncidents(out)
	return out, nil
}

func (m *Memory) GetIncidentsSince(ctx context.Context, tenantID string, since time.Time) ([]core.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("incidents.get_since"); err != nil {
		return nil, err
	}
	var out []core.Incident
	for _, inc := range m.incidents[tenantID] {
		if !inc.CreatedAt.Before(since) {
			out = append(out, inc)
		}
	}
	sortIncidents(out)
	return out, nil
}

func sortIncidents(incidents []core.Incident) {
	sort.Slice(incidents, func(i, j int) bool {
		if incidents[i].CreatedAt.Equal(incidents[j].CreatedAt) {
			return incidents[i].ID < incidents[j].ID
		}
		return incidents[i].CreatedAt.Before(incidents[j].CreatedAt)
	})
}

// --- NotificationStore ---

func (m *Memory) InsertRecord(ctx context.Context, record *core.NotificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("notifications.insert"); err != nil {
		return err
	}
	if m.notifications[record.TenantID] == nil {
		m.notifications[record.TenantID] = make(map[string]core.NotificationRecord)
	}
	m.notifications[record.TenantID][record.ID] = *record
	return nil
}

func (m *Memory) UpdateRecord(ctx context.Context, record *core.NotificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("notifications.update"); err != nil {
		return err
	}
	if _, ok := m.notifications[record.TenantID][record.ID]; !ok {
		return ErrRecordNotFound
	}
	m.notifications[record.TenantID][record.ID] = *record
	return nil
}

func (m *Memory) GetRecord(ctx context.Context, tenantID, id string) (*core.NotificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("notifications.get"); err != nil {
		return nil, err
	}
	r, ok := m.notifications[tenantID][id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &r, nil
}

func (m *Memory) GetFailedRecords(ctx context.Context, tenantID string, limit int) ([]core.NotificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("notifications.get_failed"); err != nil {
		return nil, err
	}
	var out []core.NotificationRecord
	for _, r := range m.notifications[tenantID] {
		if r.DeliveryStatus == core.DeliveryStatusFailed {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- AuditStore ---

func (m *Memory) AppendEntry(ctx context.Context, entry *core.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("audit.append"); err != nil {
		return err
	}
	m.audit[entry.TenantID] = append(m.audit[entry.TenantID], *entry)
	return nil
}

func (m *Memory) GetEntries(ctx context.Context, tenantID string, since time.Time, limit int) ([]core.AuditLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("audit.get_entries"); err != nil {
		return nil, err
	}
	var out []core.AuditLogEntry
	for _, e := range m.audit[tenantID] {
		if !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
