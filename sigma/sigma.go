// Package sigma evaluates accepted net events against Sigma detection
// rules. Rules live under <rulesDir>/enabled_rules and are reloaded
// automatically when the directory changes.
package sigma

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bradleyjkemp/sigma-go"
	"github.com/bradleyjkemp/sigma-go/evaluator"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/nmels/wfpmon/wfp"
)

// Detector manages Sigma rules and evaluates events against them.
type Detector struct {
	rulesDir string
	log      *zap.Logger

	mu         sync.RWMutex
	evaluators map[string]*evaluator.RuleEvaluator

	reloadCh chan struct{}
	watcher  *fsnotify.Watcher

	// OnMatch, when set, is called for every rule match.
	OnMatch func(MatchResult, map[string]interface{})
}

// MatchResult is one rule match against one event.
type MatchResult struct {
	Rule         sigma.Rule
	MatchDetails []string
}

// fieldConfig maps the common Sigma network-taxonomy aliases onto the
// field names EventFields emits.
func fieldConfig() sigma.Config {
	return sigma.Config{
		Title: "wfpmon net events",
		FieldMappings: map[string]sigma.FieldMapping{
			"dst_ip":   {TargetNames: []string{"DestinationIp"}},
			"dst_port": {TargetNames: []string{"DestinationPort"}},
			"src_ip":   {TargetNames: []string{"SourceIp"}},
			"src_port": {TargetNames: []string{"SourcePort"}},
			"User":     {TargetNames: []string{"User", "Username"}},
		},
	}
}

// NewDetector creates a detector rooted at rulesDir and loads the enabled
// rules. The enabled_rules and disabled_rules directories are created when
// missing; only enabled_rules is watched.
func NewDetector(rulesDir string, log *zap.Logger) (*Detector, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %v", err)
	}

	d := &Detector{
		rulesDir:   rulesDir,
		log:        log,
		evaluators: make(map[string]*evaluator.RuleEvaluator),
		reloadCh:   make(chan struct{}, 1),
		watcher:    watcher,
	}

	enabledDir := filepath.Join(rulesDir, "enabled_rules")
	disabledDir := filepath.Join(rulesDir, "disabled_rules")
	for _, dir := range []string{enabledDir, disabledDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to create directory %s: %v", dir, err)
		}
	}

	if err := watcher.Add(enabledDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %v", enabledDir, err)
	}
	go d.watchFileChanges()

	if err := d.LoadRules(); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to load rules: %v", err)
	}
	return d, nil
}

func (d *Detector) watchFileChanges() {
	for {
		select {
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".yml") && !strings.HasSuffix(event.Name, ".yaml") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				d.log.Debug("rule change detected", zap.String("file", event.Name))
				d.ReloadRules()
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log.Warn("file watcher error", zap.Error(err))
		}
	}
}

// LoadRules replaces the active evaluator set with the rules currently in
// enabled_rules. Unparseable files are skipped with a warning.
func (d *Detector) LoadRules() error {
	enabledDir := filepath.Join(d.rulesDir, "enabled_rules")
	files, err := os.ReadDir(enabledDir)
	if err != nil {
		return err
	}

	evaluators := make(map[string]*evaluator.RuleEvaluator)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		ext := filepath.Ext(file.Name())
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		path := filepath.Join(enabledDir, file.Name())
		rule, err := d.parseRuleFile(path)
		if err != nil {
			d.log.Warn("skipping rule file", zap.String("file", path), zap.Error(err))
			continue
		}
		evaluators[rule.ID] = newEvaluator(rule)
		d.log.Debug("loaded rule", zap.String("title", rule.Title), zap.String("id", rule.ID))
	}

	d.mu.Lock()
	d.evaluators = evaluators
	d.mu.Unlock()

	d.log.Info("sigma rules loaded", zap.Int("count", len(evaluators)), zap.String("dir", enabledDir))
	return nil
}

func (d *Detector) parseRuleFile(path string) (sigma.Rule, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return sigma.Rule{}, err
	}
	if sigma.InferFileType(content) != sigma.RuleFile {
		return sigma.Rule{}, fmt.Errorf("file is not a Sigma rule")
	}
	return sigma.ParseRule(content)
}

func newEvaluator(rule sigma.Rule) *evaluator.RuleEvaluator {
	return evaluator.ForRule(rule,
		evaluator.WithConfig(fieldConfig()),
		evaluator.WithPlaceholderExpander(func(ctx context.Context, placeholderName string) ([]string, error) {
			return nil, nil
		}),
		evaluator.CountImplementation(func(ctx context.Context, key evaluator.GroupedByValues) (float64, error) {
			return 0, nil
		}),
		evaluator.SumImplementation(func(ctx context.Context, key evaluator.GroupedByValues, value float64) (float64, error) {
			return 0, nil
		}),
		evaluator.AverageImplementation(func(ctx context.Context, key evaluator.GroupedByValues, value float64) (float64, error) {
			return 0, nil
		}))
}

// ReloadRules signals the reload loop. A pending signal is enough, extra
// ones coalesce.
func (d *Detector) ReloadRules() {
	select {
	case d.reloadCh <- struct{}{}:
	default:
	}
}

// Run services reload signals until the context ends.
func (d *Detector) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.reloadCh:
			if err := d.LoadRules(); err != nil {
				d.log.Warn("rule reload failed", zap.Error(err))
			}
		}
	}
}

// Close stops the file watcher.
func (d *Detector) Close() error {
	return d.watcher.Close()
}

// RuleCount returns the number of active evaluators.
func (d *Detector) RuleCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.evaluators)
}

// EventFields flattens a net event into the Sigma network taxonomy. Only
// present fields are emitted so absent-field modifiers behave.
func EventFields(ev wfp.LogicalEvent) map[string]interface{} {
	fields := map[string]interface{}{
		"EventType": ev.Kind.String(),
		"Direction": ev.Direction.String(),
	}
	if ev.Protocol != "" {
		fields["Protocol"] = ev.Protocol
	}
	if ev.LocalAddr.IsValid() {
		fields["SourceIp"] = ev.LocalAddr.String()
		fields["SourcePort"] = int(ev.LocalPort)
	}
	if ev.RemoteAddr.IsValid() {
		fields["DestinationIp"] = ev.RemoteAddr.String()
		fields["DestinationPort"] = int(ev.RemotePort)
	}
	if ev.App != "" {
		fields["Image"] = ev.App
	}
	if ev.User != nil {
		fields["User"] = ev.User.Domain + `\` + ev.User.Account
		fields["Username"] = ev.User.Account
	}
	if ev.Package != "" {
		fields["PackageSid"] = ev.Package
	}
	if ev.FilterName != "" {
		fields["FilterName"] = ev.FilterName
	}
	if ev.Capability != "" {
		fields["Capability"] = ev.Capability
	}
	if ev.Country != "" {
		fields["Country"] = ev.Country
	}
	return fields
}

// CheckEvent evaluates one flattened event against every active rule and
// returns the matches. OnMatch fires per match.
func (d *Detector) CheckEvent(ctx context.Context, event map[string]interface{}) []MatchResult {
	d.mu.RLock()
	evaluators := d.evaluators
	d.mu.RUnlock()

	var results []MatchResult
	for _, re := range evaluators {
		result, err := re.Matches(ctx, event)
		if err != nil {
			d.log.Warn("rule evaluation failed", zap.String("rule", re.Rule.ID), zap.Error(err))
			continue
		}
		if !result.Match {
			continue
		}

		var conditions []string
		for k, v := range result.SearchResults {
			if v {
				conditions = append(conditions, k)
			}
		}
		match := MatchResult{
			Rule:         re.Rule,
			MatchDetails: []string{fmt.Sprintf("Matched conditions: %s", strings.Join(conditions, ", "))},
		}
		results = append(results, match)

		d.log.Info("sigma rule matched",
			zap.String("rule", re.Rule.Title),
			zap.String("id", re.Rule.ID))
		if d.OnMatch != nil {
			d.OnMatch(match, event)
		}
	}
	return results
}

// HandleEvent flattens and checks one accepted net event.
func (d *Detector) HandleEvent(ctx context.Context, ev wfp.LogicalEvent) []MatchResult {
	return d.CheckEvent(ctx, EventFields(ev))
}
