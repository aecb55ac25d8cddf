// Package classifier decides whether a message comes from a newsletter.
package classifier

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/mixelka/whittle/pkg/models"
)

// MatchAll is the name pattern that accepts any sender name, including none
const MatchAll = ".*"

// Rule is a sender rule; both patterns are searched case-insensitively
type Rule struct {
	Address string
	Name    string
}

// Classifier matches senders against subscription rules
type Classifier struct {
	compiled sync.Map // pattern -> *regexp.Regexp, nil for invalid patterns
	logger   *slog.Logger
}

// New creates a new classifier
func New(logger *slog.Logger) *Classifier {
	return &Classifier{logger: logger.With("component", "classifier")}
}

// IsNewsletter checks global rules first, then the user's own; the first match wins
func (c *Classifier) IsNewsletter(address, name string, global, user []Rule) bool {
	for _, rules := range [][]Rule{global, user} {
		for _, rule := range rules {
			if c.Matches(rule, address, name) {
				return true
			}
		}
	}
	return false
}

// Matches reports whether both the address and the name patterns match
func (c *Classifier) Matches(rule Rule, address, name string) bool {
	if address == "" && !isMatchAll(rule.Address) {
		return false
	}

	addressRe := c.compile(rule.Address)
	if addressRe == nil || !addressRe.MatchString(address) {
		return false
	}

	namePattern := rule.Name
	if namePattern == "" {
		namePattern = MatchAll
	}
	if isMatchAll(namePattern) {
		return true
	}

	nameRe := c.compile(namePattern)
	return nameRe != nil && nameRe.MatchString(name)
}

// compile returns the cached regexp for pattern; invalid patterns never match
func (c *Classifier) compile(pattern string) *regexp.Regexp {
	if v, ok := c.compiled.Load(pattern); ok {
		re, _ := v.(*regexp.Regexp)
		return re
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		c.logger.Warn("invalid subscription pattern", "pattern", pattern, "error", err)
		c.compiled.Store(pattern, (*regexp.Regexp)(nil))
		return nil
	}

	c.compiled.Store(pattern, re)
	return re
}

func isMatchAll(pattern string) bool {
	switch pattern {
	case "", ".*", "^.*$", "^.*", ".*$":
		return true
	}
	return false
}

// ExcludedBySubject filters Substack account mail that shares a publication's sender address
func ExcludedBySubject(address, subject string) bool {
	if !strings.Contains(strings.ToLower(address), "substack") {
		return false
	}

	subject = strings.ToLower(subject)
	if strings.Contains(subject, "complete your signup") {
		return true
	}

	tokens := strings.FieldsFunc(subject, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var hasNew, hasSignup bool
	for _, tok := range tokens {
		switch tok {
		case "new":
			hasNew = true
		case "signup":
			hasSignup = true
		}
	}
	return hasNew && hasSignup
}

// RulesFromSubscriptions converts stored subscriptions to rules
func RulesFromSubscriptions(subs []*models.Subscription) []Rule {
	rules := make([]Rule, 0, len(subs))
	for _, s := range subs {
		rules = append(rules, Rule{Address: s.FromAddress, Name: s.Name})
	}
	return rules
}
