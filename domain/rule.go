// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import "fmt"

type ConditionField string

const (
	FieldSubject = ConditionField("subject")
	FieldFrom    = ConditionField("from")
	FieldTo      = ConditionField("to")
	FieldCc      = ConditionField("cc")
	FieldBcc     = ConditionField("bcc")
	FieldBody    = ConditionField("body")
)

func ParseConditionField(s string) (ConditionField, error) {
	switch normalizeToken(s) {
	case "subject":
		return FieldSubject, nil
	case "from":
		return FieldFrom, nil
	case "to":
		return FieldTo, nil
	case "cc", "carbon_copy":
		return FieldCc, nil
	case "bcc", "ccn", "blind_carbon_copy":
		return FieldBcc, nil
	case "body", "message", "text":
		return FieldBody, nil
	}
	return "", fmt.Errorf("unknown condition field %q", s)
}

type ConditionOperator string

const (
	OpEquals      = ConditionOperator("equals")
	OpNotEquals   = ConditionOperator("notequals")
	OpContains    = ConditionOperator("contains")
	OpNotContains = ConditionOperator("notcontains")
	OpStartsWith  = ConditionOperator("startswith")
	OpEndsWith    = ConditionOperator("endswith")
	OpRegex       = ConditionOperator("regex")
)

func ParseConditionOperator(s string) (ConditionOperator, error) {
	switch normalizeToken(s) {
	case "equals", "eq", "==":
		return OpEquals, nil
	case "notequals", "not_equals", "ne", "!=", "<>":
		return OpNotEquals, nil
	case "contains", "has", "~=":
		return OpContains, nil
	case "notcontains", "not_contains", "not_has", "!~":
		return OpNotContains, nil
	case "startswith", "starts_with", "sw", "^=":
		return OpStartsWith, nil
	case "endswith", "ends_with", "ew", "$=":
		return OpEndsWith, nil
	case "regex", "matches":
		return OpRegex, nil
	}
	return "", fmt.Errorf("unknown condition operator %q", s)
}

type ActionType string

const (
	ActionMove        = ActionType("move")
	ActionCopy        = ActionType("copy")
	ActionDelete      = ActionType("delete")
	ActionMarkRead    = ActionType("markread")
	ActionMarkUnread  = ActionType("markunread")
	ActionFlag        = ActionType("flag")
	ActionAddLabel    = ActionType("addlabel")
	ActionRemoveLabel = ActionType("removelabel")
	ActionArchive     = ActionType("archive")
	ActionForward     = ActionType("forward")
	ActionStop        = ActionType("stop")
)

func ParseActionType(s string) (ActionType, error) {
	switch normalizeToken(s) {
	case "move":
		return ActionMove, nil
	case "copy":
		return ActionCopy, nil
	case "delete", "del", "remove":
		return ActionDelete, nil
	case "markread", "mark_read", "read":
		return ActionMarkRead, nil
	case "markunread", "mark_unread", "unread":
		return ActionMarkUnread, nil
	case "flag", "star":
		return ActionFlag, nil
	case "addlabel", "add_label", "label_add":
		return ActionAddLabel, nil
	case "removelabel", "remove_label", "label_remove":
		return ActionRemoveLabel, nil
	case "archive":
		return ActionArchive, nil
	case "forward":
		return ActionForward, nil
	case "stop", "halt", "break":
		return ActionStop, nil
	}
	return "", fmt.Errorf("unknown action type %q", s)
}

// NeedsDestination reports whether the action cannot be applied without a
// target. Archive resolves a conventional folder name when none is given.
func (a ActionType) NeedsDestination() bool {
	switch a {
	case ActionMove, ActionCopy, ActionAddLabel, ActionRemoveLabel, ActionForward:
		return true
	}
	return false
}

// Rule is one entry of the ordered rule list. Rules are evaluated in
// stored order and the first match wins per message.
type Rule struct {
	Account       string
	Field         ConditionField
	Operator      ConditionOperator
	Value         string
	CaseSensitive bool
	Action        ActionType
	Destination   string
}

func (r *Rule) String() string {
	dest := r.Destination
	if dest == "" {
		dest = "-"
	}
	return fmt.Sprintf("%s %s %q -> %s %q", r.Field, r.Operator, r.Value, r.Action, dest)
}
