package service

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/user/llm-gateway-go/internal/models"
)

// RuleEvaluator evaluates individual rules and rulesets against a request
// context. Any resolution or comparison failure yields false, never an
// error: a broken rule must not take down routing.
type RuleEvaluator struct{}

// NewRuleEvaluator creates a RuleEvaluator.
func NewRuleEvaluator() *RuleEvaluator {
	return &RuleEvaluator{}
}

// EvaluateRuleSet applies a ruleset to a context. A nil or empty ruleset
// always matches.
func (e *RuleEvaluator) EvaluateRuleSet(rs *models.RuleSet, ctx *models.RequestContext) bool {
	if rs == nil || len(rs.Rules) == 0 {
		return true
	}
	if rs.Logic == models.LogicOr {
		for _, rule := range rs.Rules {
			if e.EvaluateRule(rule, ctx) {
				return true
			}
		}
		return false
	}
	for _, rule := range rs.Rules {
		if !e.EvaluateRule(rule, ctx) {
			return false
		}
	}
	return true
}

// EvaluateRule resolves the rule's field path against the context and
// applies the operator.
func (e *RuleEvaluator) EvaluateRule(rule models.Rule, ctx *models.RequestContext) bool {
	value, found := resolveField(rule.Field, ctx)

	switch rule.Operator {
	case models.OpExists:
		expected, ok := rule.Value.(bool)
		if !ok {
			return false
		}
		return found == expected
	case models.OpEq:
		return found && looseEqual(value, rule.Value)
	case models.OpNe:
		return !found || !looseEqual(value, rule.Value)
	case models.OpGt, models.OpGte, models.OpLt, models.OpLte:
		if !found {
			return false
		}
		return compareOrdered(rule.Operator, value, rule.Value)
	case models.OpContains:
		s, ok := value.(string)
		needle, ok2 := rule.Value.(string)
		return ok && ok2 && strings.Contains(s, needle)
	case models.OpNotContains:
		s, ok := value.(string)
		needle, ok2 := rule.Value.(string)
		if !found || !ok || !ok2 {
			return true
		}
		return !strings.Contains(s, needle)
	case models.OpRegex:
		s, ok := value.(string)
		pattern, ok2 := rule.Value.(string)
		if !found || !ok || !ok2 {
			return false
		}
		matched, err := regexp.MatchString(pattern, s)
		return err == nil && matched
	case models.OpIn:
		list, ok := rule.Value.([]any)
		if !found || !ok {
			return false
		}
		return containsLoose(list, value)
	case models.OpNotIn:
		list, ok := rule.Value.([]any)
		if !ok {
			return true
		}
		return !found || !containsLoose(list, value)
	default:
		return false
	}
}

// resolveField looks up a dotted field path in the request context.
// Supported roots: model, headers.<name>, body.<path> (with [idx] list
// indexing), token_usage.{input,output,total}_tokens.
func resolveField(field string, ctx *models.RequestContext) (any, bool) {
	if ctx == nil {
		return nil, false
	}
	if field == "model" {
		return ctx.CurrentModel, true
	}
	if name, ok := strings.CutPrefix(field, "headers."); ok {
		v, found := ctx.Headers[strings.ToLower(name)]
		return v, found
	}
	if path, ok := strings.CutPrefix(field, "body."); ok {
		return resolveBodyPath(ctx.RequestBody, path)
	}
	if metric, ok := strings.CutPrefix(field, "token_usage."); ok {
		switch metric {
		case "input_tokens":
			return float64(ctx.TokenUsage.InputTokens), true
		case "output_tokens":
			return float64(ctx.TokenUsage.OutputTokens), true
		case "total_tokens":
			return float64(ctx.TokenUsage.TotalTokens()), true
		}
	}
	return nil, false
}

// resolveBodyPath walks a parsed JSON body by dot-separated segments;
// a segment may carry one or more [idx] suffixes for list indexing.
func resolveBodyPath(body map[string]any, path string) (any, bool) {
	var current any = body
	for _, segment := range strings.Split(path, ".") {
		name := segment
		var indexes []int
		for {
			open := strings.LastIndexByte(name, '[')
			if open < 0 || !strings.HasSuffix(name, "]") {
				break
			}
			idx, err := strconv.Atoi(name[open+1 : len(name)-1])
			if err != nil {
				return nil, false
			}
			indexes = append([]int{idx}, indexes...)
			name = name[:open]
		}

		if name != "" {
			obj, ok := current.(map[string]any)
			if !ok {
				return nil, false
			}
			current, ok = obj[name]
			if !ok {
				return nil, false
			}
		}
		for _, idx := range indexes {
			list, ok := current.([]any)
			if !ok || idx < 0 || idx >= len(list) {
				return nil, false
			}
			current = list[idx]
		}
	}
	return current, true
}

// looseEqual compares with numeric coercion: JSON decoding yields float64
// while rule literals may arrive as ints.
func looseEqual(a, b any) bool {
	if na, ok := asFloat(a); ok {
		if nb, ok := asFloat(b); ok {
			return na == nb
		}
		return false
	}
	return a == b
}

func containsLoose(list []any, v any) bool {
	for _, item := range list {
		if looseEqual(item, v) {
			return true
		}
	}
	return false
}

// compareOrdered handles gt/gte/lt/lte on numbers; strings compare
// lexicographically. Mixed or unordered types yield false.
func compareOrdered(op models.RuleOperator, a, b any) bool {
	if na, ok := asFloat(a); ok {
		nb, ok := asFloat(b)
		if !ok {
			return false
		}
		return applyOrdering(op, compareFloats(na, nb))
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		return applyOrdering(op, strings.Compare(sa, sb))
	}
	return false
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func applyOrdering(op models.RuleOperator, cmp int) bool {
	switch op {
	case models.OpGt:
		return cmp > 0
	case models.OpGte:
		return cmp >= 0
	case models.OpLt:
		return cmp < 0
	case models.OpLte:
		return cmp <= 0
	default:
		return false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// RuleEngine filters a mapping's provider links down to the candidates
// whose rules match a request context.
type RuleEngine struct {
	evaluator *RuleEvaluator
}

// NewRuleEngine creates a RuleEngine.
func NewRuleEngine() *RuleEngine {
	return &RuleEngine{evaluator: NewRuleEvaluator()}
}

// SelectCandidates returns the matching candidates sorted by priority
// ascending, provider ID as the deterministic tiebreak. An inactive link,
// a missing provider, or an inactive provider is skipped. If the
// model-level ruleset fails, no candidate matches.
func (re *RuleEngine) SelectCandidates(
	ctx *models.RequestContext,
	mapping *models.ModelMapping,
	links []*models.ModelMappingProvider,
	providers map[int64]*models.Provider,
) []*models.CandidateProvider {
	if mapping == nil || !re.evaluator.EvaluateRuleSet(mapping.MatchingRules, ctx) {
		return nil
	}

	var candidates []*models.CandidateProvider
	for _, link := range links {
		if !link.IsActive {
			continue
		}
		provider, ok := providers[link.ProviderID]
		if !ok || !provider.IsActive {
			continue
		}
		if !re.evaluator.EvaluateRuleSet(link.ProviderRules, ctx) {
			continue
		}
		candidates = append(candidates, &models.CandidateProvider{
			ProviderID:   provider.ID,
			Name:         provider.Name,
			BaseURL:      provider.BaseURL,
			Protocol:     provider.Protocol,
			APIKey:       provider.APIKey,
			ExtraHeaders: provider.ExtraHeaders,
			ProxyEnabled: provider.ProxyEnabled,
			ProxyURL:     provider.ProxyURL,
			TargetModel:  link.TargetModelName,
			Priority:     link.Priority,
			Weight:       link.Weight,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].ProviderID < candidates[j].ProviderID
	})
	return candidates
}
