// SPDX-License-Identifier: GPL-3.0-or-later
package rules

import (
	"testing"

	"github.com/mailsweep/mailsweep/domain"
	"github.com/mailsweep/mailsweep/log"

	"github.com/stretchr/testify/assert"
)

func init() {
	log.InitLogging("error")
}

func rule(field domain.ConditionField, op domain.ConditionOperator, value string, caseSensitive bool) *domain.Rule {
	return &domain.Rule{
		Account:       "acct",
		Field:         field,
		Operator:      op,
		Value:         value,
		CaseSensitive: caseSensitive,
		Action:        domain.ActionDelete,
	}
}

func TestOperators(t *testing.T) {
	msg := &domain.MailMessage{Subject: "Your Invoice #42"}
	e := NewEngine()

	tests := []struct {
		name  string
		op    domain.ConditionOperator
		value string
		cs    bool
		want  bool
	}{
		{"equals", domain.OpEquals, "your invoice #42", false, true},
		{"equals case sensitive", domain.OpEquals, "your invoice #42", true, false},
		{"equals trims", domain.OpEquals, "  Your Invoice #42  ", true, true},
		{"not equals", domain.OpNotEquals, "something else", false, true},
		{"contains", domain.OpContains, "invoice", false, true},
		{"contains case sensitive", domain.OpContains, "invoice", true, false},
		{"not contains", domain.OpNotContains, "receipt", false, true},
		{"starts with", domain.OpStartsWith, "your", false, true},
		{"ends with", domain.OpEndsWith, "#42", false, true},
		{"regex find", domain.OpRegex, `invoice #\d+`, false, true},
		{"regex case sensitive", domain.OpRegex, `INVOICE`, true, false},
		{"regex invalid", domain.OpRegex, `([`, false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := rule(domain.FieldSubject, tc.op, tc.value, tc.cs)
			assert.Equal(t, tc.want, e.Evaluate(r, msg))
		})
	}
}

func TestAddressFields(t *testing.T) {
	msg := &domain.MailMessage{
		From: []string{"Alice <alice@example.com>"},
		To:   []string{"bob@example.com", "carol@example.com"},
		Cc:   []string{"dave@example.com"},
	}
	e := NewEngine()

	assert.True(t, e.Evaluate(rule(domain.FieldFrom, domain.OpContains, "alice@", false), msg))
	assert.True(t, e.Evaluate(rule(domain.FieldTo, domain.OpContains, "carol", false), msg))
	assert.True(t, e.Evaluate(rule(domain.FieldCc, domain.OpEquals, "dave@example.com", false), msg))
	// absent bcc is empty and still comparable
	assert.True(t, e.Evaluate(rule(domain.FieldBcc, domain.OpNotContains, "anyone", false), msg))
	assert.False(t, e.Evaluate(rule(domain.FieldBcc, domain.OpContains, "anyone", false), msg))
}

func TestBodyField(t *testing.T) {
	msg := &domain.MailMessage{
		Raw: []byte("From: a@example.com\r\nContent-Type: text/plain\r\n\r\nplease find the invoice attached\r\n"),
	}
	e := NewEngine()

	assert.True(t, e.Evaluate(rule(domain.FieldBody, domain.OpContains, "invoice", false), msg))
	assert.False(t, e.Evaluate(rule(domain.FieldBody, domain.OpContains, "receipt", false), msg))
}

func TestUnreadableBodyIsEmpty(t *testing.T) {
	msg := &domain.MailMessage{Raw: nil}
	e := NewEngine()

	// empty body participates normally in comparisons
	assert.True(t, e.Evaluate(rule(domain.FieldBody, domain.OpNotContains, "x", false), msg))
	assert.True(t, e.Evaluate(rule(domain.FieldBody, domain.OpEquals, "", false), msg))
}

func TestFirstMatchWins(t *testing.T) {
	msg := &domain.MailMessage{Subject: "invoice"}
	e := NewEngine()

	r1 := rule(domain.FieldSubject, domain.OpContains, "invoice", false)
	r1.Action = domain.ActionMove
	r1.Destination = "Invoices"
	r2 := rule(domain.FieldSubject, domain.OpContains, "invoice", false)
	r2.Action = domain.ActionDelete

	matched := e.FirstMatch([]*domain.Rule{r1, r2}, "acct", msg)
	assert.Same(t, r1, matched)
}

func TestFirstMatchScopedToAccount(t *testing.T) {
	msg := &domain.MailMessage{Subject: "invoice"}
	e := NewEngine()

	other := rule(domain.FieldSubject, domain.OpContains, "invoice", false)
	other.Account = "other"
	mine := rule(domain.FieldSubject, domain.OpContains, "invoice", false)

	matched := e.FirstMatch([]*domain.Rule{other, mine}, "acct", msg)
	assert.Same(t, mine, matched)

	assert.Nil(t, e.FirstMatch([]*domain.Rule{other}, "acct", msg))
}
