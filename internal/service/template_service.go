package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/models"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/schedule"
)

// TemplateService handles template rendering and validation
type TemplateService interface {
	Render(template string, vars map[string]string) string
	Spin(text string) string
	ValidateTemplate(template string) error
	ExtractPlaceholders(template string) []string
}

type templateService struct {
	placeholderPattern *regexp.Regexp
	spinPattern        *regexp.Regexp
	rng                schedule.Rand
}

// NewTemplateService creates a new template service
func NewTemplateService(rng schedule.Rand) TemplateService {
	return &templateService{
		placeholderPattern: regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`),
		spinPattern:        regexp.MustCompile(`\{([^{}]*\|[^{}]*)\}`),
		rng:                rng,
	}
}

// RecipientVars builds the substitution map for one recipient. Keys from the
// variable bag override name and phone.
func RecipientVars(name, phone string, variables map[string]string) map[string]string {
	vars := make(map[string]string, len(variables)+2)
	vars["name"] = name
	vars["phone"] = phone
	for k, v := range variables {
		vars[k] = v
	}
	return vars
}

// Render replaces {key} placeholders with values from vars.
// Unknown placeholders are left as written.
func (s *templateService) Render(template string, vars map[string]string) string {
	return s.placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		if value, exists := vars[strings.Trim(match, "{}")]; exists {
			return value
		}
		return match
	})
}

// Spin resolves {a|b|c} groups, innermost first, picking one option each
func (s *templateService) Spin(text string) string {
	for i := 0; i < 10 && s.spinPattern.MatchString(text); i++ {
		text = s.spinPattern.ReplaceAllStringFunc(text, func(match string) string {
			options := strings.Split(match[1:len(match)-1], "|")
			return options[s.rng.Intn(len(options))]
		})
	}
	return text
}

// ValidateTemplate checks that braces are balanced
func (s *templateService) ValidateTemplate(template string) error {
	depth := 0
	for _, r := range template {
		switch r {
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return models.ErrInvalidInput("template has a closing brace without an opening one")
			}
		}
	}
	if depth != 0 {
		return models.ErrInvalidInput(fmt.Sprintf("template has %d unclosed brace(s)", depth))
	}
	return nil
}

// ExtractPlaceholders returns all placeholders found in template
func (s *templateService) ExtractPlaceholders(template string) []string {
	matches := s.placeholderPattern.FindAllStringSubmatch(template, -1)
	placeholders := make([]string, 0, len(matches))

	for _, match := range matches {
		if len(match) > 1 {
			placeholders = append(placeholders, match[1])
		}
	}

	return placeholders
}
