// Package fake produces replacement values for sensitive data categories.
// Replacements are structurally valid (CPF check digits, Brazilian phone
// formats) but carry no relation to the value they replace.
package fake

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/leocalheirosdb1/sql-data-anonymizer/src/anondb"
)

// Generator replaces one category of sensitive value. Generate receives the
// original value so implementations can preserve non-sensitive structure,
// like an email's domain.
type Generator interface {
	Category() string
	Generate(original string) string
}

// lockedRand guards a shared rand.Rand; generators are called from the job
// worker and from tests concurrently.
type lockedRand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func newLockedRand(seed int64) *lockedRand {
	return &lockedRand{rnd: rand.New(rand.NewSource(seed))}
}

func (lr *lockedRand) Intn(n int) int {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.rnd.Intn(n)
}

// DefaultGenerators returns one generator per supported category, keyed by
// the category name reported by column discovery.
func DefaultGenerators() map[string]Generator {
	seed := time.Now().UnixNano()
	return map[string]Generator{
		anondb.CATEGORY_EMAIL: NewEmailGenerator(seed),
		anondb.CATEGORY_CPF:   NewCPFGenerator(seed + 1),
		anondb.CATEGORY_PHONE: NewPhoneGenerator(seed + 2),
	}
}

const emailLocalChars = "abcdefghijklmnopqrstuvwxyz0123456789"

type EmailGenerator struct {
	rnd *lockedRand
}

func NewEmailGenerator(seed int64) *EmailGenerator {
	return &EmailGenerator{rnd: newLockedRand(seed)}
}

func (g *EmailGenerator) Category() string {
	return anondb.CATEGORY_EMAIL
}

// Generate keeps the domain and replaces the local part with random
// characters, at least 5 and never shorter than the original local part.
// Values that are not recognisably an email pass through unchanged.
func (g *EmailGenerator) Generate(original string) string {
	if strings.TrimSpace(original) == "" || !strings.Contains(original, "@") {
		return original
	}
	parts := strings.Split(original, "@")
	if len(parts) != 2 {
		return original
	}

	localLength := len(parts[0])
	if localLength < 5 {
		localLength = 5
	}
	var sb strings.Builder
	sb.Grow(localLength)
	for i := 0; i < localLength; i++ {
		sb.WriteByte(emailLocalChars[g.rnd.Intn(len(emailLocalChars))])
	}
	return fmt.Sprintf("%s@%s", sb.String(), parts[1])
}

const cpfBaseLength = 9

type CPFGenerator struct {
	rnd *lockedRand
}

func NewCPFGenerator(seed int64) *CPFGenerator {
	return &CPFGenerator{rnd: newLockedRand(seed)}
}

func (g *CPFGenerator) Category() string {
	return anondb.CATEGORY_CPF
}

// Generate returns a random CPF in xxx.xxx.xxx-xx form with valid mod-11
// check digits. The original value is ignored.
func (g *CPFGenerator) Generate(_ string) string {
	numbers := g.baseNumbers()
	digit1 := cpfFirstDigit(numbers)
	digit2 := cpfSecondDigit(numbers, digit1)
	return fmt.Sprintf("%d%d%d.%d%d%d.%d%d%d-%d%d",
		numbers[0], numbers[1], numbers[2],
		numbers[3], numbers[4], numbers[5],
		numbers[6], numbers[7], numbers[8],
		digit1, digit2)
}

func (g *CPFGenerator) baseNumbers() [cpfBaseLength]int {
	var numbers [cpfBaseLength]int
	allSame := true
	for i := range numbers {
		numbers[i] = g.rnd.Intn(10)
		if numbers[i] != numbers[0] {
			allSame = false
		}
	}
	// CPFs with nine repeated digits are rejected by validators even when
	// the check digits add up.
	if allSame {
		numbers[0] = (numbers[0] + 1) % 10
	}
	return numbers
}

func cpfFirstDigit(numbers [cpfBaseLength]int) int {
	sum := 0
	for i, n := range numbers {
		sum += n * (10 - i)
	}
	remainder := sum % 11
	if remainder < 2 {
		return 0
	}
	return 11 - remainder
}

func cpfSecondDigit(numbers [cpfBaseLength]int, firstDigit int) int {
	sum := firstDigit * 2
	for i, n := range numbers {
		sum += n * (11 - i)
	}
	remainder := sum % 11
	if remainder < 2 {
		return 0
	}
	return 11 - remainder
}

// validDDDs lists every Brazilian area code in service.
var validDDDs = []int{
	11, 12, 13, 14, 15, 16, 17, 18, 19,
	21, 22, 24, 27, 28,
	31, 32, 33, 34, 35, 37, 38,
	41, 42, 43, 44, 45, 46, 47, 48, 49,
	51, 53, 54, 55,
	61, 62, 63, 64, 65, 66, 67, 68, 69,
	71, 73, 74, 75, 77, 79,
	81, 82, 83, 84, 85, 86, 87, 88, 89,
	91, 92, 93, 94, 95, 96, 97, 98, 99,
}

type PhoneGenerator struct {
	rnd *lockedRand
}

func NewPhoneGenerator(seed int64) *PhoneGenerator {
	return &PhoneGenerator{rnd: newLockedRand(seed)}
}

func (g *PhoneGenerator) Category() string {
	return anondb.CATEGORY_PHONE
}

// Generate returns a random Brazilian phone number, mobile or landline with
// equal probability. The original value is ignored.
func (g *PhoneGenerator) Generate(_ string) string {
	ddd := validDDDs[g.rnd.Intn(len(validDDDs))]
	if g.rnd.Intn(2) == 0 {
		return g.mobileNumber(ddd)
	}
	return g.landlineNumber(ddd)
}

func (g *PhoneGenerator) mobileNumber(ddd int) string {
	block1 := 1000 + g.rnd.Intn(8999)
	block2 := 1000 + g.rnd.Intn(8999)
	return fmt.Sprintf("(%02d) 9%04d-%04d", ddd, block1, block2)
}

func (g *PhoneGenerator) landlineNumber(ddd int) string {
	firstDigit := 2 + g.rnd.Intn(4)
	block1 := 100 + g.rnd.Intn(899)
	block2 := 1000 + g.rnd.Intn(8999)
	return fmt.Sprintf("(%02d) %d%03d-%04d", ddd, firstDigit, block1, block2)
}
