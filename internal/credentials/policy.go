package credentials

import (
	"unicode"
	"unicode/utf8"

	"github.com/pribylovaa/clinic-auth/internal/config"
)

// Rule - правило политики паролей.
type Rule string

const (
	RuleMinLength Rule = "min_length"
	RuleMaxLength Rule = "max_length"
	RuleUpper     Rule = "uppercase"
	RuleLower     Rule = "lowercase"
	RuleDigit     Rule = "digit"
	RuleSymbol    Rule = "symbol"
	RuleRepeat    Rule = "repeat"
)

// maxBytes - предел длины входа bcrypt.
const maxBytes = 72

// PolicyViolation - пароль нарушает правило Rule. Сообщение безопасно для клиента.
type PolicyViolation struct {
	Rule Rule
}

func (e *PolicyViolation) Error() string {
	return "password policy violation: " + string(e.Rule)
}

// Is позволяет сопоставлять любую *PolicyViolation с ErrPolicyViolation.
func (e *PolicyViolation) Is(target error) bool {
	return target == ErrPolicyViolation
}

// Policy - требования к сложности пароля.
// MaxRepeat - максимальная длина серии одинаковых символов подряд (0 - без ограничения).
type Policy struct {
	MinLength     int
	MaxRepeat     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
}

// DefaultPolicy возвращает политику по умолчанию.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:     8,
		MaxRepeat:     2,
		RequireUpper:  true,
		RequireLower:  true,
		RequireDigit:  true,
		RequireSymbol: true,
	}
}

// PolicyFrom строит политику из конфигурации.
func PolicyFrom(cfg config.PasswordConfig) Policy {
	return Policy{
		MinLength:     cfg.MinLength,
		MaxRepeat:     cfg.MaxRepeat,
		RequireUpper:  cfg.RequireUpper,
		RequireLower:  cfg.RequireLower,
		RequireDigit:  cfg.RequireDigit,
		RequireSymbol: cfg.RequireSymbol,
	}
}

// Validate проверяет пароль. Правила проверяются в фиксированном порядке:
// длина, верхний регистр, нижний регистр, цифра, спецсимвол, повторы.
func (p Policy) Validate(pw string) error {
	if utf8.RuneCountInString(pw) < p.MinLength || pw == "" {
		return &PolicyViolation{Rule: RuleMinLength}
	}

	if len(pw) > maxBytes {
		return &PolicyViolation{Rule: RuleMaxLength}
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}

	switch {
	case p.RequireUpper && !hasUpper:
		return &PolicyViolation{Rule: RuleUpper}
	case p.RequireLower && !hasLower:
		return &PolicyViolation{Rule: RuleLower}
	case p.RequireDigit && !hasDigit:
		return &PolicyViolation{Rule: RuleDigit}
	case p.RequireSymbol && !hasSymbol:
		return &PolicyViolation{Rule: RuleSymbol}
	}

	if p.MaxRepeat > 0 && longestRun(pw) > p.MaxRepeat {
		return &PolicyViolation{Rule: RuleRepeat}
	}

	return nil
}

// longestRun возвращает длину самой длинной серии одинаковых рун подряд.
func longestRun(s string) int {
	var (
		longest, run int
		prev         rune = -1
	)

	for _, r := range s {
		if r == prev {
			run++
		} else {
			run = 1
			prev = r
		}

		if run > longest {
			longest = run
		}
	}

	return longest
}
