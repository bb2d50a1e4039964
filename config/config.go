// SPDX-License-Identifier: GPL-3.0-or-later
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mailsweep/mailsweep/domain"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Database string
	LockFile string

	SingleThread bool

	Spamd SpamdConfig
	Smtp  SmtpConfig

	Account []AccountConfig
	Rule    []RuleConfig

	Loglevel *string

	accounts []*domain.Account
	rules    []*domain.Rule
}

type SpamdConfig struct {
	Host                 string
	Port                 int
	User                 string
	ConnectTimeoutMillis int
	ReadTimeoutMillis    int
}

type SmtpConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type AccountConfig struct {
	Name          string
	Host          string
	Port          int
	Username      string
	Password      string
	SSL           *bool
	InboxFolder   string
	UseSpamFilter bool
	SpamAction    string
	SpamFolder    string
}

type RuleConfig struct {
	Account       string
	Field         string
	Operator      string
	Value         string
	CaseSensitive bool
	Action        string
	Destination   string
}

func ReadConfig(filename string) (*Config, error) {
	config := &Config{
		Database: "mailsweep.db",
		LockFile: "mailsweep.lock",
		Spamd: SpamdConfig{
			Host:                 "127.0.0.1",
			Port:                 783,
			ConnectTimeoutMillis: 3000,
			ReadTimeoutMillis:    5000,
		},
	}

	_, err := toml.DecodeFile(filename, config)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}

	err = config.validate()
	if err != nil {
		return nil, err
	}

	return config, nil
}

// Accounts returns the configured accounts in file order.
func (c *Config) Accounts() []*domain.Account {
	return c.accounts
}

// Rules returns the configured rules in file order.
func (c *Config) Rules() []*domain.Rule {
	return c.rules
}

func (c *Config) validate() error {
	if err := validateNonEmptyStringField(c.Database, "Database name must not be empty, set to a filename for the sqlite database"); err != nil {
		return err
	}

	if len(c.Account) == 0 {
		return errors.New("at least one [[account]] must be configured")
	}

	seen := map[string]bool{}
	for i := range c.Account {
		a := &c.Account[i]
		if err := validateNonEmptyStringField(a.Name, "account Name must not be empty, it is the key rules refer to"); err != nil {
			return err
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate account name %q", a.Name)
		}
		seen[a.Name] = true

		if err := validateNonEmptyStringField(a.Host, fmt.Sprintf("Host must not be empty for account %q", a.Name)); err != nil {
			return err
		}
		if err := validateNonEmptyStringField(a.Username, fmt.Sprintf("Username must not be empty for account %q", a.Name)); err != nil {
			return err
		}
		if err := validateNonEmptyStringField(a.Password, fmt.Sprintf("Password must not be empty for account %q", a.Name)); err != nil {
			return err
		}

		acct, err := a.toAccount()
		if err != nil {
			return err
		}

		if acct.UseSpamFilter {
			if err := validateNonEmptyStringField(c.Spamd.Host, fmt.Sprintf("[spamd] Host must be set, account %q enables spam filtering", a.Name)); err != nil {
				return err
			}
			if acct.SpamAction == domain.SpamMove && acct.SpamFolder == "" {
				return fmt.Errorf("account %q uses spam action move but has no SpamFolder", a.Name)
			}
		}

		c.accounts = append(c.accounts, acct)
	}

	for i := range c.Rule {
		rule, err := c.Rule[i].toRule(i)
		if err != nil {
			return err
		}
		if !seen[rule.Account] {
			return fmt.Errorf("rule %d refers to unknown account %q", i, rule.Account)
		}
		c.rules = append(c.rules, rule)
	}

	return nil
}

func (a *AccountConfig) toAccount() (*domain.Account, error) {
	acct := &domain.Account{
		Name:          a.Name,
		Host:          a.Host,
		Port:          a.Port,
		Username:      a.Username,
		Password:      a.Password,
		SSL:           true,
		InboxFolder:   a.InboxFolder,
		UseSpamFilter: a.UseSpamFilter,
		SpamAction:    domain.SpamMarkRead,
		SpamFolder:    a.SpamFolder,
	}
	if acct.Port == 0 {
		acct.Port = 993
	}
	if a.SSL != nil {
		acct.SSL = *a.SSL
	}
	if acct.InboxFolder == "" {
		acct.InboxFolder = "INBOX"
	}
	if strings.TrimSpace(a.SpamAction) != "" {
		action, err := domain.ParseSpamAction(a.SpamAction)
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", a.Name, err)
		}
		acct.SpamAction = action
	}
	return acct, nil
}

func (r *RuleConfig) toRule(index int) (*domain.Rule, error) {
	if err := validateNonEmptyStringField(r.Account, fmt.Sprintf("rule %d must name the Account it applies to", index)); err != nil {
		return nil, err
	}

	field, err := domain.ParseConditionField(r.Field)
	if err != nil {
		return nil, fmt.Errorf("rule %d: %w", index, err)
	}
	operator, err := domain.ParseConditionOperator(r.Operator)
	if err != nil {
		return nil, fmt.Errorf("rule %d: %w", index, err)
	}
	action, err := domain.ParseActionType(r.Action)
	if err != nil {
		return nil, fmt.Errorf("rule %d: %w", index, err)
	}

	if action.NeedsDestination() && strings.TrimSpace(r.Destination) == "" {
		return nil, fmt.Errorf("rule %d: action %s requires a Destination", index, action)
	}

	if operator == domain.OpRegex {
		pattern := r.Value
		if !r.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("rule %d: invalid regex: %w", index, err)
		}
	}

	return &domain.Rule{
		Account:       r.Account,
		Field:         field,
		Operator:      operator,
		Value:         r.Value,
		CaseSensitive: r.CaseSensitive,
		Action:        action,
		Destination:   strings.TrimSpace(r.Destination),
	}, nil
}

func validateNonEmptyStringField(field string, err string) error {
	if len(strings.TrimSpace(field)) == 0 {
		return errors.New(err)
	}

	return nil
}
