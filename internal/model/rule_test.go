package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSupportsDelay(t *testing.T) {
	for _, typ := range []ActionType{
		ActionArchive, ActionLabel, ActionMarkRead, ActionMarkSpam,
		ActionReply, ActionDraft, ActionForward,
	} {
		assert.True(t, typ.SupportsDelay(), string(typ))
	}
	for _, typ := range []ActionType{
		ActionCallWebhook, ActionDigest, ActionTrackThread,
	} {
		assert.False(t, typ.SupportsDelay(), string(typ))
	}
}

func TestActionDelayed(t *testing.T) {
	zero := 0
	thirty := 30

	assert.False(t, (&Action{}).Delayed())
	assert.False(t, (&Action{DelayInMinutes: &zero}).Delayed())
	assert.True(t, (&Action{DelayInMinutes: &thirty}).Delayed())
}

func TestRuleInert(t *testing.T) {
	rule := &Rule{Actions: []Action{{Type: ActionArchive, Enabled: false}}}
	assert.True(t, rule.Inert())

	rule.Actions = append(rule.Actions, Action{Type: ActionLabel, Enabled: true})
	assert.False(t, rule.Inert())
	assert.Len(t, rule.EnabledActions(), 1)
}

func TestHasStaticConditions(t *testing.T) {
	assert.False(t, (&Rule{}).HasStaticConditions())
	assert.True(t, (&Rule{Subject: "invoice"}).HasStaticConditions())
}
