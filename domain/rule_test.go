// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConditionField(t *testing.T) {
	tests := map[string]ConditionField{
		"subject":           FieldSubject,
		"SUBJECT":           FieldSubject,
		" from ":            FieldFrom,
		"CC":                FieldCc,
		"ccn":               FieldBcc,
		"blind-carbon-copy": FieldBcc,
		"body":              FieldBody,
		"text":              FieldBody,
	}
	for input, want := range tests {
		got, err := ParseConditionField(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseConditionField("header")
	assert.Error(t, err)
}

func TestParseConditionOperator(t *testing.T) {
	tests := map[string]ConditionOperator{
		"equals":       OpEquals,
		"==":           OpEquals,
		"NOT_EQUALS":   OpNotEquals,
		"contains":     OpContains,
		"not-contains": OpNotContains,
		"starts_with":  OpStartsWith,
		"ENDS_WITH":    OpEndsWith,
		"matches":      OpRegex,
	}
	for input, want := range tests {
		got, err := ParseConditionOperator(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseConditionOperator("like")
	assert.Error(t, err)
}

func TestParseActionType(t *testing.T) {
	tests := map[string]ActionType{
		"move":       ActionMove,
		"DELETE":     ActionDelete,
		"mark-read":  ActionMarkRead,
		"unread":     ActionMarkUnread,
		"star":       ActionFlag,
		"add_label":  ActionAddLabel,
		"archive":    ActionArchive,
		"forward":    ActionForward,
		"stop":       ActionStop,
	}
	for input, want := range tests {
		got, err := ParseActionType(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseActionType("explode")
	assert.Error(t, err)
}

func TestParseSpamAction(t *testing.T) {
	tests := map[string]SpamAction{
		"delete":         SpamDelete,
		"MOVE":           SpamMove,
		"move_to_folder": SpamMove,
		"mark-as-read":   SpamMarkRead,
	}
	for input, want := range tests {
		got, err := ParseSpamAction(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseSpamAction("quarantine")
	assert.Error(t, err)
}

func TestNeedsDestination(t *testing.T) {
	assert.True(t, ActionMove.NeedsDestination())
	assert.True(t, ActionCopy.NeedsDestination())
	assert.True(t, ActionForward.NeedsDestination())
	assert.False(t, ActionDelete.NeedsDestination())
	assert.False(t, ActionArchive.NeedsDestination())
	assert.False(t, ActionStop.NeedsDestination())
}

func TestRuleString(t *testing.T) {
	r := &Rule{Field: FieldSubject, Operator: OpContains, Value: "invoice", Action: ActionMove, Destination: "Invoices"}
	assert.Equal(t, `subject contains "invoice" -> move "Invoices"`, r.String())

	r = &Rule{Field: FieldFrom, Operator: OpEquals, Value: "a@b", Action: ActionDelete}
	assert.Equal(t, `from equals "a@b" -> delete "-"`, r.String())
}
