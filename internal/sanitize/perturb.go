package sanitize

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/brianvoe/gofakeit/v7"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// perturbGenerators add format-preserving noise. Perturbed values hide
// exact figures, not identities.
var perturbGenerators = map[Label]generator{
	LabelDate:        perturbDate,
	LabelMoneyAmount: perturbMoney,
	LabelAge:         perturbAge,
	LabelPercentage:  perturbPercentage,
}

func perturb(f *gofakeit.Faker, label Label, original string) string {
	if gen, ok := perturbGenerators[label]; ok {
		return gen(f, original)
	}
	return original
}

// Perturbation bounds.
const (
	minDateShift = 3
	maxDateShift = 7
	minAgeShift  = 2
	maxAgeShift  = 3
	minFactor    = 0.85
	maxFactor    = 1.15
)

// skipDateRes match date expressions that are vague on purpose and are left
// alone.
var skipDateRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\sand\s`),
	regexp.MustCompile(`(?i)^Q\d\s+\d{4}`),
	regexp.MustCompile(`(?i)^FY\s?\d{4}$`),
	regexp.MustCompile(`^\d{4}$`),
	regexp.MustCompile(`^[A-Z][a-z]+ \d{4}$`),
}

type dateFormat struct {
	re      *regexp.Regexp
	layouts []string // parse layouts, the first is also the output layout
}

// dateFormats are the recognised input shapes. Anything else is parsed
// leniently and written back in long form.
var dateFormats = []dateFormat{
	{regexp.MustCompile(`^[A-Z][a-z]+ \d{1,2}, \d{4}$`), []string{"January 2, 2006", "Jan 2, 2006"}},
	{regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{4}$`), []string{"1/2/2006", "2/1/2006"}},
	{regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`), []string{"2006-01-02"}},
	{regexp.MustCompile(`^\d{1,2}-\d{1,2}-\d{4}$`), []string{"2-1-2006"}},
	{regexp.MustCompile(`^[A-Z][a-z]+ \d{1,2}$`), []string{"January 2", "Jan 2"}},
}

const longDateLayout = "January 2, 2006"

func perturbDate(f *gofakeit.Faker, original string) string {
	text := strings.TrimSpace(original)
	for _, re := range skipDateRes {
		if re.MatchString(text) {
			return original
		}
	}

	parsed, layout, ok := parseDate(text)
	if !ok {
		return original
	}

	shift := f.IntRange(minDateShift, maxDateShift)
	if f.Bool() {
		shift = -shift
	}
	shifted := parsed.AddDate(0, 0, shift)
	if shifted.Year() != parsed.Year() {
		shifted = parsed.AddDate(0, 0, -shift)
	}
	return shifted.Format(layout)
}

// parseDate returns the parsed date and the layout to write it back with.
// A recognised month and day without a year is placed in the current year
// and written back without one. Any other date that comes back without a
// year is rejected.
func parseDate(text string) (time.Time, string, bool) {
	for _, df := range dateFormats {
		if !df.re.MatchString(text) {
			continue
		}
		for _, l := range df.layouts {
			if t, err := time.Parse(l, text); err == nil {
				if t.Year() == 0 {
					t = time.Date(time.Now().Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
				}
				return t, df.layouts[0], true
			}
		}
		break
	}
	t, err := dateparse.ParseAny(text)
	if err != nil || t.Year() == 0 {
		return time.Time{}, "", false
	}
	return t, longDateLayout, true
}

var (
	amountRe = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
	// scaleRe matches scale words and K suffixes; amounts with either are
	// written without thousands separators.
	scaleRe = regexp.MustCompile(`(?i)(?:trillion|billion|million|thousand|lakh|crore)|\d[Kk]\b`)

	amountPrinter = message.NewPrinter(language.English)
)

// perturbMoney scales the first number in original and leaves the currency
// symbol, scale word or suffix around it untouched.
func perturbMoney(f *gofakeit.Faker, original string) string {
	loc := amountRe.FindStringIndex(original)
	if loc == nil {
		return original
	}
	digits := strings.TrimRight(original[loc[0]:loc[1]], ",")
	end := loc[0] + len(digits)
	num, err := strconv.ParseFloat(strings.ReplaceAll(digits, ",", ""), 64)
	if err != nil {
		return original
	}
	scaled := scaleRe.MatchString(original)
	v := num * f.Float64Range(minFactor, maxFactor)
	return original[:loc[0]] + formatAmount(v, digits, scaled) + original[end:]
}

// formatAmount writes v in the style of orig: a whole number when orig has
// no decimal point, otherwise one decimal. Plain amounts get thousands
// separators.
func formatAmount(v float64, orig string, scaled bool) string {
	decimals := 0
	if strings.Contains(orig, ".") {
		decimals = 1
	}
	if scaled {
		return strconv.FormatFloat(v, 'f', decimals, 64)
	}
	return amountPrinter.Sprintf(fmt.Sprintf("%%.%df", decimals), v)
}

var (
	integerRe = regexp.MustCompile(`\d+`)
	decimalRe = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

func perturbAge(f *gofakeit.Faker, original string) string {
	loc := integerRe.FindStringIndex(original)
	if loc == nil {
		return original
	}
	age, err := strconv.Atoi(original[loc[0]:loc[1]])
	if err != nil {
		return original
	}
	shift := f.IntRange(minAgeShift, maxAgeShift)
	if f.Bool() {
		shift = -shift
	}
	return original[:loc[0]] + strconv.Itoa(max(1, age+shift)) + original[loc[1]:]
}

func perturbPercentage(f *gofakeit.Faker, original string) string {
	loc := decimalRe.FindStringIndex(original)
	if loc == nil {
		return original
	}
	digits := original[loc[0]:loc[1]]
	pct, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return original
	}
	v := pct * f.Float64Range(minFactor, maxFactor)
	var out string
	if strings.Contains(digits, ".") {
		out = strconv.FormatFloat(math.Round(v*10)/10, 'f', 1, 64)
	} else {
		out = strconv.Itoa(int(math.Round(v)))
	}
	return original[:loc[0]] + out + original[loc[1]:]
}
