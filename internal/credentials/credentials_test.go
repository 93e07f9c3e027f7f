package credentials

import (
	"errors"
	"testing"

	"github.com/pribylovaa/clinic-auth/internal/config"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(DefaultPolicy(), bcrypt.MinCost)
	require.NoError(t, err)
	return m
}

func TestHashAndVerify(t *testing.T) {
	t.Parallel()

	m := newManager(t)

	h1, err := m.Hash("Abcdef1!")
	require.NoError(t, err)
	h2, err := m.Hash("Abcdef1!")
	require.NoError(t, err)

	// соль делает хэши одного пароля разными.
	require.NotEqual(t, h1, h2)
	require.True(t, m.Verify("Abcdef1!", h1))
	require.True(t, m.Verify("Abcdef1!", h2))
	require.False(t, m.Verify("Abcdef1?", h1))
	require.False(t, m.Verify("Abcdef1!", "not-a-bcrypt-hash"))
}

func TestHash_UsesConfiguredCost(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	h, err := m.Hash("Abcdef1!")
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(h))
	require.NoError(t, err)
	require.Equal(t, bcrypt.MinCost, cost)
}

func TestNew_InvalidCostFallsBackToDefault(t *testing.T) {
	t.Parallel()

	m, err := New(DefaultPolicy(), 1)
	require.NoError(t, err)
	require.Equal(t, bcrypt.DefaultCost, m.cost)
}

func TestVerifyDummy_AlwaysFalse(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	require.False(t, m.VerifyDummy(""))
	require.False(t, m.VerifyDummy("Abcdef1!"))

	cost, err := bcrypt.Cost(m.dummy)
	require.NoError(t, err)
	require.Equal(t, m.cost, cost, "фиктивный хэш должен иметь ту же стоимость")
}

func TestValidatePolicy_Table(t *testing.T) {
	t.Parallel()

	m := newManager(t)

	tests := []struct {
		name string
		pw   string
		want Rule
	}{
		{name: "ok", pw: "Abcdef1!"},
		{name: "ok_unicode", pw: "Пароль1!x"},
		{name: "empty", pw: "", want: RuleMinLength},
		{name: "short", pw: "Ab1!", want: RuleMinLength},
		{name: "too_long_for_bcrypt", pw: "Ab1!" + string(make([]byte, 80)), want: RuleMaxLength},
		{name: "no_upper", pw: "abcdef1!", want: RuleUpper},
		{name: "no_lower", pw: "ABCDEF1!", want: RuleLower},
		{name: "no_digit", pw: "Abcdefg!", want: RuleDigit},
		{name: "no_symbol", pw: "Abcdefg1", want: RuleSymbol},
		{name: "run_of_three", pw: "Abccc1!x", want: RuleRepeat},
		{name: "run_of_two_allowed", pw: "Abcc1!xy", want: ""},
		{name: "first_rule_reported", pw: "aaaa", want: RuleMinLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := m.ValidatePolicy(tt.pw)
			if tt.want == "" {
				require.NoError(t, err)
				return
			}

			require.ErrorIs(t, err, ErrPolicyViolation)

			var pv *PolicyViolation
			require.True(t, errors.As(err, &pv))
			require.Equal(t, tt.want, pv.Rule)
			require.Contains(t, pv.Error(), string(tt.want))
		})
	}
}

func TestPolicy_RelaxedRules(t *testing.T) {
	t.Parallel()

	p := Policy{MinLength: 4}
	require.NoError(t, p.Validate("aaaa"))

	p.MaxRepeat = 3
	require.NoError(t, p.Validate("aaab"))
	require.Error(t, p.Validate("aaaab"))
}

func TestLongestRun(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, longestRun(""))
	require.Equal(t, 1, longestRun("abc"))
	require.Equal(t, 3, longestRun("abbbc"))
	require.Equal(t, 2, longestRun("ююa"))
}

func TestPolicyFrom_Config(t *testing.T) {
	t.Parallel()

	p := PolicyFrom(config.PasswordConfig{MinLength: 12, MaxRepeat: 3, RequireDigit: true})
	require.Equal(t, Policy{MinLength: 12, MaxRepeat: 3, RequireDigit: true}, p)

	require.ErrorIs(t, p.Validate("short1"), ErrPolicyViolation)
	require.NoError(t, p.Validate("longenough12"))
}
