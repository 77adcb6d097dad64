package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mailpilot/internal/classify"
	"mailpilot/internal/model"
	"mailpilot/pkg/metrics"
)

// RuleSource 按优先级顺序提供账号的规则
type RuleSource interface {
	ListForAccount(ctx context.Context, accountID int64) ([]model.Rule, error)
}

// GroupSource 提供 GROUP 规则引用的组定义（限定在消息所属账号内）
type GroupSource interface {
	FindByID(ctx context.Context, accountID, groupID int64) (*model.Group, error)
}

// CategorySource 提供发件人→类别映射（由外部归类流程预先计算）
type CategorySource interface {
	CategoryForSender(ctx context.Context, accountID int64, sender string) (int64, bool, error)
}

// Classifier AI 兜底分类能力
type Classifier interface {
	Classify(ctx context.Context, msg *model.Message, candidates []classify.CandidateRule) classify.Verdict
}

// RuleMatch 一条被选中（或候选）的规则及其依据
type RuleMatch struct {
	Rule      model.Rule
	Reason    model.MatchReason
	Rationale string
}

// MatchResult Match 与 PotentialMatches 是硬性契约的两边：
// Match 可以自动执行，PotentialMatches 只展示给人审，永远不触发执行。
type MatchResult struct {
	Match            *RuleMatch
	PotentialMatches []RuleMatch
}

// Matcher orchestrates the four evaluation strategies in the fixed total
// order STATIC > GROUP > CATEGORY > AI. First match by stored rule order
// wins; specificity never reorders anything.
type Matcher struct {
	rules      RuleSource
	groups     GroupSource
	categories CategorySource
	classifier Classifier
	logger     *zap.Logger
}

func NewMatcher(rules RuleSource, groups GroupSource, categories CategorySource, classifier Classifier, logger *zap.Logger) *Matcher {
	return &Matcher{
		rules:      rules,
		groups:     groups,
		categories: categories,
		classifier: classifier,
		logger:     logger,
	}
}

// Match returns at most one executable rule for the message, plus any
// suggest-only candidates. A nil Match with no error means the message is
// left unrouted.
func (m *Matcher) Match(ctx context.Context, msg *model.Message) (*MatchResult, error) {
	rules, err := m.rules.ListForAccount(ctx, msg.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	result := &MatchResult{}

	// 发件人类别整场匹配只查一次
	categoryID, categorized, haveCategory := int64(0), false, false

	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled || rule.Inert() {
			continue
		}

		verdict := evalStatic(msg, rule)

		if !verdict.Matches && rule.GroupID != nil {
			group, err := m.groups.FindByID(ctx, msg.AccountID, *rule.GroupID)
			if err != nil {
				// 数据完整性问题：跳过这条规则，不拦住其他规则
				m.logger.Warn("Rule references missing or unreadable group, skipping",
					zap.Int64("rule_id", rule.ID),
					zap.Int64("group_id", *rule.GroupID),
					zap.Error(err),
				)
				continue
			}
			verdict = evalGroup(msg, group)
		}

		if !verdict.Matches && len(rule.CategoryIDs) > 0 {
			if !haveCategory {
				categoryID, categorized, err = m.categories.CategoryForSender(ctx, msg.AccountID, msg.From)
				if err != nil {
					m.logger.Warn("Sender category lookup failed, skipping CATEGORY evaluation",
						zap.Int64("rule_id", rule.ID),
						zap.Error(err),
					)
					continue
				}
				haveCategory = true
			}
			verdict = evalCategory(rule, categoryID, categorized)
		}

		if !verdict.Matches {
			continue
		}

		match := RuleMatch{Rule: *rule, Reason: verdict.Reason}
		if !rule.Automate {
			// automate=false 只建议，继续找可执行的匹配
			result.PotentialMatches = append(result.PotentialMatches, match)
			continue
		}

		result.Match = &match
		metrics.IncrementRuleMatch(string(verdict.Reason))
		return result, nil
	}

	// 确定性策略全部落空 → AI 兜底，一次性跨所有候选规则
	if match := m.classifyFallback(ctx, msg, rules); match != nil {
		result.Match = match
		metrics.IncrementRuleMatch(string(model.ReasonAI))
		return result, nil
	}

	metrics.IncrementRuleMatch("none")
	return result, nil
}

func (m *Matcher) classifyFallback(ctx context.Context, msg *model.Message, rules []model.Rule) *RuleMatch {
	var candidates []classify.CandidateRule
	byID := map[int64]*model.Rule{}

	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled || rule.Inert() || !rule.Automate || rule.Instructions == "" {
			continue
		}
		candidates = append(candidates, classify.CandidateRule{
			ID:           rule.ID,
			Name:         rule.Name,
			Instructions: rule.Instructions,
		})
		byID[rule.ID] = rule
	}
	if len(candidates) == 0 {
		return nil
	}

	verdict := m.classifier.Classify(ctx, msg, candidates)
	if verdict.RuleID == nil {
		return nil
	}

	rule, ok := byID[*verdict.RuleID]
	if !ok {
		// 裁决必须指向候选集内的规则，否则按弃权处理
		return nil
	}

	return &RuleMatch{
		Rule:      *rule,
		Reason:    model.ReasonAI,
		Rationale: verdict.Rationale,
	}
}
