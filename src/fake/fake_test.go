package fake

import (
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leocalheirosdb1/sql-data-anonymizer/src/anondb"
)

var cpfPattern = regexp.MustCompile(`^\d{3}\.\d{3}\.\d{3}-\d{2}$`)

// validateCPF recomputes both mod-11 check digits from the formatted value.
func validateCPF(cpf string) bool {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, cpf)
	if len(digits) != 11 {
		return false
	}

	sum := 0
	for i := 0; i < 9; i++ {
		sum += int(digits[i]-'0') * (10 - i)
	}
	digit1 := 0
	if remainder := sum % 11; remainder >= 2 {
		digit1 = 11 - remainder
	}

	sum = digit1 * 2
	for i := 0; i < 9; i++ {
		sum += int(digits[i]-'0') * (11 - i)
	}
	digit2 := 0
	if remainder := sum % 11; remainder >= 2 {
		digit2 = 11 - remainder
	}

	return int(digits[9]-'0') == digit1 && int(digits[10]-'0') == digit2
}

func TestCPFGeneratorChecksum(t *testing.T) {
	for seed := int64(0); seed < 50; seed++ {
		g := NewCPFGenerator(seed)
		for i := 0; i < 20; i++ {
			cpf := g.Generate("123.456.789-00")
			require.Regexp(t, cpfPattern, cpf)
			assert.True(t, validateCPF(cpf), "invalid check digits in %s (seed %d)", cpf, seed)
		}
	}
}

func TestCPFGeneratorNeverRepeatedDigits(t *testing.T) {
	g := NewCPFGenerator(42)
	for i := 0; i < 500; i++ {
		cpf := g.Generate("")
		base := strings.NewReplacer(".", "", "-", "").Replace(cpf)[:9]
		assert.Greater(t, len(lo.Uniq(strings.Split(base, ""))), 1, "repeated-digit base in %s", cpf)
	}
}

func TestEmailGeneratorPreservesDomain(t *testing.T) {
	g := NewEmailGenerator(1)

	replaced := g.Generate("maria.silva@empresa.com.br")
	require.True(t, strings.HasSuffix(replaced, "@empresa.com.br"))
	local := strings.Split(replaced, "@")[0]
	assert.Len(t, local, len("maria.silva"))
	assert.NotEqual(t, "maria.silva", local)
	assert.Regexp(t, `^[a-z0-9]+$`, local)
}

func TestEmailGeneratorMinimumLocalLength(t *testing.T) {
	g := NewEmailGenerator(2)

	replaced := g.Generate("ab@example.com")
	local := strings.Split(replaced, "@")[0]
	assert.Len(t, local, 5)
}

func TestEmailGeneratorPassThrough(t *testing.T) {
	g := NewEmailGenerator(3)

	for _, value := range []string{"", "   ", "not-an-email", "a@b@c"} {
		assert.Equal(t, value, g.Generate(value))
	}
}

func TestPhoneGeneratorFormat(t *testing.T) {
	g := NewPhoneGenerator(4)
	mobilePattern := regexp.MustCompile(`^\(\d{2}\) 9\d{4}-\d{4}$`)
	landlinePattern := regexp.MustCompile(`^\(\d{2}\) [2-5]\d{3}-\d{4}$`)

	sawMobile, sawLandline := false, false
	for i := 0; i < 200; i++ {
		phone := g.Generate("(11) 98765-4321")
		switch {
		case mobilePattern.MatchString(phone):
			sawMobile = true
		case landlinePattern.MatchString(phone):
			sawLandline = true
		default:
			t.Fatalf("unexpected phone format: %s", phone)
		}

		ddd, err := strconv.Atoi(phone[1:3])
		require.NoError(t, err)
		assert.Contains(t, validDDDs, ddd, "unknown area code in %s", phone)
	}
	assert.True(t, sawMobile, "expected at least one mobile number")
	assert.True(t, sawLandline, "expected at least one landline number")
}

func TestDefaultGenerators(t *testing.T) {
	generators := DefaultGenerators()
	require.Len(t, generators, 3)
	for category, g := range generators {
		assert.Equal(t, category, g.Category())
	}
	assert.Contains(t, generators, anondb.CATEGORY_EMAIL)
	assert.Contains(t, generators, anondb.CATEGORY_CPF)
	assert.Contains(t, generators, anondb.CATEGORY_PHONE)
}
