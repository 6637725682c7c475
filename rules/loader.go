package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"guardian/core"
	"guardian/storage"
)

// Loader seeds rule definitions from a directory of YAML files at
// startup. Files are validated like any other rule input; an invalid
// file is skipped with a log entry and never blocks the remaining files.
type Loader struct {
	store     storage.RuleStore
	validator *Validator
	logger    *zap.SugaredLogger
}

// NewLoader creates a rule file loader.
func NewLoader(store storage.RuleStore, validator *Validator, logger *zap.SugaredLogger) *Loader {
	return &Loader{store: store, validator: validator, logger: logger}
}

// LoadDir walks dir for .yml/.yaml files and upserts each rule. Returns
// the number of rules loaded.
func (l *Loader) LoadDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read rule directory %s: %w", dir, err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		rule, err := l.loadFile(path)
		if err != nil {
			l.logger.Warnw("Skipping invalid rule file",
				"path", path,
				"error", err)
			continue
		}
		if err := l.upsert(ctx, rule); err != nil {
			if core.IsPersistence(err) {
				return loaded, err
			}
			l.logger.Warnw("Failed to store rule",
				"path", path,
				"rule_id", rule.ID,
				"error", err)
			continue
		}
		loaded++
	}
	l.logger.Infow("Rule files loaded", "dir", dir, "count", loaded)
	return loaded, nil
}

// loadFile decodes one YAML rule file through the JSON validator so YAML
// and API input share identical validation.
func (l *Loader) loadFile(path string) (*core.Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("malformed YAML: %w", err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert YAML document: %w", err)
	}

	rule, err := l.validator.ValidateJSON(data)
	if err != nil {
		return nil, err
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	return rule, nil
}

func (l *Loader) upsert(ctx context.Context, rule *core.Rule) error {
	now := time.Now().UTC()
	existing, err := l.store.GetRule(ctx, rule.TenantID, rule.ID)
	if errors.Is(err, storage.ErrRuleNotFound) {
		rule.CreatedAt = now
		rule.UpdatedAt = now
		return l.store.CreateRule(ctx, rule)
	}
	if err != nil {
		return err
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = now
	return l.store.UpdateRule(ctx, rule)
}
