package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"budget-etl/internal/domain"
)

// SheetRule overrides pipeline behaviour for one sheet, matched by name
// case-insensitively.
type SheetRule struct {
	// AllowNegative overrides AllowNegativeAmounts for this sheet.
	AllowNegative *bool `yaml:"allow_negative"`
	// FiscalYear is used when the sheet has no fiscal year column.
	FiscalYear int `yaml:"fiscal_year" validate:"omitempty,min=1900,max=9999"`
}

// PipelineConfig is the recognized pipeline option set.
type PipelineConfig struct {
	ColumnSynonyms            map[string][]string  `yaml:"column_synonyms" validate:"dive,keys,canonical_field,endkeys,min=1,dive,required"`
	RejectionThreshold        float64              `yaml:"rejection_threshold" validate:"gte=0,lte=1"`
	RetryAttempts             int                  `yaml:"retry_attempts" validate:"gte=0,lte=20"`
	RetryBackoffBase          time.Duration        `yaml:"retry_backoff_base" validate:"gte=0"`
	FiscalYearFutureTolerance int                  `yaml:"fiscal_year_future_tolerance" validate:"gte=0,lte=100"`
	AllowNegativeAmounts      bool                 `yaml:"allow_negative_amounts"`
	Workers                   int                  `yaml:"workers" validate:"gte=1,lte=64"`
	StageTimeout              time.Duration        `yaml:"stage_timeout" validate:"gt=0"`
	CommitQueueSize           int                  `yaml:"commit_queue_size" validate:"gte=1"`
	SheetRules                map[string]SheetRule `yaml:"sheet_rules" validate:"dive"`
}

// DefaultColumnSynonyms is the built-in alias table. Aliases are compared
// after header normalization (lower-case, punctuation folded to spaces).
var DefaultColumnSynonyms = map[string][]string{
	domain.FieldBudgetAmount: {
		"amount", "budget amount", "budgeted amount", "budget", "cost", "expense",
		"expenses", "expenditure", "revenue", "income", "total", "value", "appropriation",
	},
	domain.FieldBudgetItem: {
		"item", "line item", "budget item", "item name", "program",
	},
	domain.FieldBudgetDescription: {
		"description", "details", "notes", "item description", "budget description",
	},
	domain.FieldBudgetCategory: {
		"category", "type", "fund", "budget category", "expense category",
	},
	domain.FieldDepartment: {
		"department", "dept", "agency", "division", "department name",
	},
	domain.FieldAccountCode: {
		"account code", "account", "code", "gl code", "account number", "acct",
	},
	domain.FieldFiscalYear: {
		"fiscal year", "fy", "year", "budget year",
	},
}

// DefaultPipelineConfig returns the pipeline options used when no file is given.
func DefaultPipelineConfig() *PipelineConfig {
	synonyms := make(map[string][]string, len(DefaultColumnSynonyms))
	for field, aliases := range DefaultColumnSynonyms {
		synonyms[field] = append([]string(nil), aliases...)
	}
	return &PipelineConfig{
		ColumnSynonyms:            synonyms,
		RejectionThreshold:        0.5,
		RetryAttempts:             3,
		RetryBackoffBase:          time.Second,
		FiscalYearFutureTolerance: 5,
		AllowNegativeAmounts:      true,
		Workers:                   4,
		StageTimeout:              10 * time.Minute,
		CommitQueueSize:           16,
		SheetRules:                map[string]SheetRule{},
	}
}

// LoadPipelineConfig reads the YAML file at path over the defaults. An empty
// path returns the defaults. Synonym entries in the file replace the default
// aliases of the fields they name; other fields keep their defaults.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cfg := DefaultPipelineConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is operator-controlled
	if err != nil {
		return nil, fmt.Errorf("read pipeline config %s: %w", path, err)
	}

	defaults := cfg.ColumnSynonyms
	cfg.ColumnSynonyms = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse pipeline config %s: %w", path, err)
	}
	for field, aliases := range defaults {
		if _, ok := cfg.ColumnSynonyms[field]; !ok {
			if cfg.ColumnSynonyms == nil {
				cfg.ColumnSynonyms = make(map[string][]string, len(defaults))
			}
			cfg.ColumnSynonyms[field] = aliases
		}
	}
	if cfg.SheetRules == nil {
		cfg.SheetRules = map[string]SheetRule{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline config %s: %w", path, err)
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("canonical_field", func(fl validator.FieldLevel) bool {
		return domain.IsCanonicalField(fl.Field().String())
	})
	return v
}

// Validate checks option ranges and that every synonym key is a canonical field.
func (p *PipelineConfig) Validate() error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return domain.ErrValidation("invalid pipeline config: %s", strings.Join(msgs, "; "))
}

// RuleFor returns the rule for sheet, matching names case-insensitively.
func (p *PipelineConfig) RuleFor(sheet string) (SheetRule, bool) {
	if r, ok := p.SheetRules[sheet]; ok {
		return r, true
	}
	for name, r := range p.SheetRules {
		if strings.EqualFold(strings.TrimSpace(name), strings.TrimSpace(sheet)) {
			return r, true
		}
	}
	return SheetRule{}, false
}

// AllowNegativeFor reports whether negative amounts are accepted on sheet.
func (p *PipelineConfig) AllowNegativeFor(sheet string) bool {
	if r, ok := p.RuleFor(sheet); ok && r.AllowNegative != nil {
		return *r.AllowNegative
	}
	return p.AllowNegativeAmounts
}
