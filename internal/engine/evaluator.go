package engine

import (
	"strings"

	"mailpilot/internal/model"
)

// Verdict 单个评估策略的判定结果
type Verdict struct {
	Matches bool
	Reason  model.MatchReason
	Detail  string
}

// evalStatic 结构化条件判定：所有非空字段都必须命中（AND 语义）。
// 最便宜的策略，永远最先跑。
func evalStatic(msg *model.Message, rule *model.Rule) Verdict {
	if !rule.HasStaticConditions() {
		return Verdict{}
	}

	if rule.From != "" && !containsFold(msg.From, rule.From) {
		return Verdict{}
	}
	if rule.To != "" && !containsFold(msg.To, rule.To) {
		return Verdict{}
	}
	if rule.Subject != "" && !containsFold(msg.Subject, rule.Subject) {
		return Verdict{}
	}
	if rule.Body != "" && !containsFold(msg.Body, rule.Body) {
		return Verdict{}
	}

	return Verdict{Matches: true, Reason: model.ReasonStatic}
}

// evalGroup 组判定：命中至少一个非排除条目、且没有命中任何排除条目。
// 排除优先级高于包含。
func evalGroup(msg *model.Message, group *model.Group) Verdict {
	included := false
	for _, item := range group.Items {
		value := msg.From
		if item.Type == model.GroupItemSubject {
			value = msg.Subject
		}
		if !matchPattern(value, item.Value) {
			continue
		}
		if item.Exclude {
			return Verdict{}
		}
		included = true
	}
	if !included {
		return Verdict{}
	}
	return Verdict{Matches: true, Reason: model.ReasonGroup, Detail: group.Name}
}

// evalCategory 类别判定：发件人已有类别且类别在规则的过滤集合里。
// 未归类的发件人永远不命中 CATEGORY 规则。
func evalCategory(rule *model.Rule, categoryID int64, categorized bool) Verdict {
	if !categorized || len(rule.CategoryIDs) == 0 {
		return Verdict{}
	}
	for _, id := range rule.CategoryIDs {
		if id == categoryID {
			return Verdict{Matches: true, Reason: model.ReasonCategory}
		}
	}
	return Verdict{}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// matchPattern 大小写不敏感。不带 * 的模式按子串匹配；
// 带 * 的模式按整串 glob 匹配（* 匹配任意字符序列）。
func matchPattern(value, pattern string) bool {
	value = strings.ToLower(value)
	pattern = strings.ToLower(pattern)

	if !strings.Contains(pattern, "*") {
		return strings.Contains(value, pattern)
	}

	segments := strings.Split(pattern, "*")

	// 首段必须在开头，末段必须在结尾
	if first := segments[0]; first != "" {
		if !strings.HasPrefix(value, first) {
			return false
		}
		value = value[len(first):]
	}
	last := segments[len(segments)-1]
	if last != "" {
		if !strings.HasSuffix(value, last) {
			return false
		}
		value = value[:len(value)-len(last)]
	}

	for _, seg := range segments[1 : len(segments)-1] {
		if seg == "" {
			continue
		}
		idx := strings.Index(value, seg)
		if idx < 0 {
			return false
		}
		value = value[idx+len(seg):]
	}
	return true
}
