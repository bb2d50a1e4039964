// SPDX-License-Identifier: GPL-3.0-or-later

// Package rules evaluates rule conditions against fetched messages.
// Evaluation is first-match-wins: the synchronizer applies the action of
// the first matching rule and stops.
package rules

import (
	"regexp"
	"strings"

	"github.com/mailsweep/mailsweep/domain"
	"github.com/mailsweep/mailsweep/log"
	"github.com/mailsweep/mailsweep/mailtext"

	"github.com/sirupsen/logrus"
)

type Engine struct {
	l *logrus.Logger
}

func NewEngine() *Engine {
	return &Engine{l: log.Logger(log.LOG_RULE)}
}

// FirstMatch returns the first rule scoped to account whose condition
// matches, or nil. Body text is extracted at most once per call.
func (e *Engine) FirstMatch(rules []*domain.Rule, account string, msg *domain.MailMessage) *domain.Rule {
	body := ""
	bodyDone := false

	for _, rule := range rules {
		if rule.Account != account {
			continue
		}

		var left string
		if rule.Field == domain.FieldBody {
			if !bodyDone {
				body = mailtext.ExtractMessage(msg.Raw)
				bodyDone = true
			}
			left = body
		} else {
			left = fieldText(rule.Field, msg)
		}

		if e.match(rule, left) {
			e.l.WithFields(logrus.Fields{"uid": msg.Uid, "rule": rule.String()}).Debug("Rule matched")
			return rule
		}
	}

	return nil
}

// Evaluate reports whether a single rule's condition matches the message.
func (e *Engine) Evaluate(rule *domain.Rule, msg *domain.MailMessage) bool {
	if rule.Field == domain.FieldBody {
		return e.match(rule, mailtext.ExtractMessage(msg.Raw))
	}
	return e.match(rule, fieldText(rule.Field, msg))
}

// fieldText extracts the comparison text for a non-body field. A field
// that cannot be extracted yields "" and participates normally in
// comparisons.
func fieldText(field domain.ConditionField, msg *domain.MailMessage) string {
	switch field {
	case domain.FieldSubject:
		return msg.Subject
	case domain.FieldFrom:
		return strings.Join(msg.From, " ")
	case domain.FieldTo:
		return strings.Join(msg.To, " ")
	case domain.FieldCc:
		return strings.Join(msg.Cc, " ")
	case domain.FieldBcc:
		return strings.Join(msg.Bcc, " ")
	}
	return ""
}

func (e *Engine) match(rule *domain.Rule, left string) bool {
	left = strings.TrimSpace(left)
	right := strings.TrimSpace(rule.Value)

	if !rule.CaseSensitive {
		left = strings.ToLower(left)
		right = strings.ToLower(right)
	}

	switch rule.Operator {
	case domain.OpEquals:
		return left == right
	case domain.OpNotEquals:
		return left != right
	case domain.OpContains:
		return strings.Contains(left, right)
	case domain.OpNotContains:
		return !strings.Contains(left, right)
	case domain.OpStartsWith:
		return strings.HasPrefix(left, right)
	case domain.OpEndsWith:
		return strings.HasSuffix(left, right)
	case domain.OpRegex:
		pattern := right
		if !rule.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			e.l.WithFields(logrus.Fields{"rule": rule.String(), "error": err}).Warn("Invalid regex in rule, treating as no match")
			return false
		}
		// find semantics, any matching substring counts
		return re.FindStringIndex(left) != nil
	}

	return false
}
