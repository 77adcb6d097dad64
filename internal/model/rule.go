package model

import "time"

// ActionType 动作类型
type ActionType string

const (
	ActionArchive     ActionType = "ARCHIVE"
	ActionLabel       ActionType = "LABEL"
	ActionMarkRead    ActionType = "MARK_READ"
	ActionMarkSpam    ActionType = "MARK_SPAM"
	ActionReply       ActionType = "REPLY"
	ActionDraft       ActionType = "DRAFT"
	ActionForward     ActionType = "FORWARD"
	ActionCallWebhook ActionType = "CALL_WEBHOOK"
	ActionDigest      ActionType = "DIGEST"
	ActionTrackThread ActionType = "TRACK_THREAD"
)

// delayableTypes 允许延迟执行的动作类型白名单。
// CALL_WEBHOOK / DIGEST / TRACK_THREAD 不改动邮箱本身，必须立即执行。
var delayableTypes = map[ActionType]bool{
	ActionArchive:  true,
	ActionLabel:    true,
	ActionMarkRead: true,
	ActionMarkSpam: true,
	ActionReply:    true,
	ActionDraft:    true,
	ActionForward:  true,
}

// SupportsDelay reports whether the action type may carry DelayInMinutes.
func (t ActionType) SupportsDelay() bool {
	return delayableTypes[t]
}

// SystemType 系统内置规则标记
type SystemType string

const (
	SystemTypeColdEmail    SystemType = "COLD_EMAIL"
	SystemTypeReplyTracker SystemType = "REPLY_TRACKER"
)

// Rule 单条自动化规则，按 Position 排序，先匹配先赢
type Rule struct {
	ID           int64
	AccountID    int64
	Name         string
	Instructions string // AI 匹配用的自由文本
	Position     int
	Enabled      bool
	Automate     bool // false = 只建议，永远不自动执行
	SystemType   *SystemType
	GroupID      *int64  // GROUP 匹配
	CategoryIDs  []int64 // CATEGORY 匹配的类别过滤集合

	// STATIC 匹配的结构化条件，为空的字段不参与判断
	From    string
	To      string
	Subject string
	Body    string

	Actions   []Action
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasStaticConditions reports whether any structural predicate is set.
func (r *Rule) HasStaticConditions() bool {
	return r.From != "" || r.To != "" || r.Subject != "" || r.Body != ""
}

// EnabledActions returns the rule's enabled actions in declared order.
func (r *Rule) EnabledActions() []Action {
	actions := make([]Action, 0, len(r.Actions))
	for _, a := range r.Actions {
		if a.Enabled {
			actions = append(actions, a)
		}
	}
	return actions
}

// Inert 没有任何可执行动作的规则永远不报告为匹配
func (r *Rule) Inert() bool {
	return len(r.EnabledActions()) == 0
}

// Action 规则下的单个动作
type Action struct {
	ID      int64
	RuleID  int64
	Type    ActionType
	Enabled bool

	// 类型相关参数
	Label   *string // LABEL
	Content *string // REPLY / DRAFT 的内容模板
	To      *string // FORWARD 的收件人
	Subject *string // FORWARD / DRAFT 覆盖主题
	URL     *string // CALL_WEBHOOK

	DelayInMinutes *int
}

// Delayed reports whether the action requests deferred execution.
func (a *Action) Delayed() bool {
	return a.DelayInMinutes != nil && *a.DelayInMinutes > 0
}

// GroupItemType 组条目匹配的字段
type GroupItemType string

const (
	GroupItemFrom    GroupItemType = "FROM"
	GroupItemSubject GroupItemType = "SUBJECT"
)

// Group 发件人/主题模式集合
type Group struct {
	ID        int64
	AccountID int64
	Name      string
	Items     []GroupItem
}

// GroupItem (type, value, exclude) 三元组；exclude 条目优先于普通条目
type GroupItem struct {
	ID      int64
	GroupID int64
	Type    GroupItemType
	Value   string // 字面量或带 * 通配符的模式
	Exclude bool
}

// Category 由外部归类流程赋给发件人（不是单封邮件）的标签
type Category struct {
	ID        int64
	AccountID int64
	Name      string
}
