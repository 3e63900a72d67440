package sanitize

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/brianvoe/gofakeit/v7"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type generator func(f *gofakeit.Faker, original string) string

// replaceGenerators dispatch REPLACE aliases by label. Labels without an
// entry get a capitalised random word.
var replaceGenerators = map[Label]generator{
	LabelPerson:       personName,
	LabelOrganization: organizationName,
	LabelLocation:     cityName,
	LabelEmail:        emailAddress,
	LabelPhone:        phoneNumber,
	LabelGovernmentID: governmentID,
	LabelCreditCard:   maskedCard,
	LabelURL:          exampleURL,
	LabelIPAddress:    ipAddress,
	LabelProjectName:  projectName,
	LabelProductName:  productName,
}

func replacement(f *gofakeit.Faker, label Label, original string) string {
	if gen, ok := replaceGenerators[label]; ok {
		return gen(f, original)
	}
	return fallbackWord(f, original)
}

type namePool struct {
	first, last []string
}

type culture string

const (
	cultureSouthAsian culture = "south_asian"
	cultureEastAsian  culture = "east_asian"
	cultureKorean     culture = "korean"
	cultureArabic     culture = "arabic"
	cultureHispanic   culture = "hispanic"
	cultureJapanese   culture = "japanese"
)

var namePools = map[culture]namePool{
	cultureSouthAsian: {
		first: []string{"Arjun", "Priya", "Vikram", "Ananya", "Rohan", "Kavitha", "Sanjay", "Deepa", "Amit", "Neha"},
		last:  []string{"Sharma", "Patel", "Kumar", "Singh", "Gupta", "Mehta", "Joshi", "Nair", "Reddy", "Iyer"},
	},
	cultureEastAsian: {
		first: []string{"Wei", "Ming", "Jing", "Hui", "Lei", "Xin", "Yan", "Fang", "Jun", "Ting"},
		last:  []string{"Chen", "Wang", "Li", "Zhang", "Liu", "Yang", "Huang", "Wu", "Lin", "Sun"},
	},
	cultureKorean: {
		first: []string{"Joon", "Soo", "Hyun", "Min", "Ji", "Yeon", "Woo", "Eun", "Dong", "Hee"},
		last:  []string{"Kim", "Park", "Lee", "Choi", "Jung", "Kang", "Yoon", "Shin", "Han", "Seo"},
	},
	cultureArabic: {
		first: []string{"Omar", "Fatima", "Ahmed", "Layla", "Tariq", "Nour", "Youssef", "Amira"},
		last:  []string{"Al-Rashid", "Hassan", "Ibrahim", "Khalil", "Mansour", "Nasser", "Saleh", "Farouk"},
	},
	cultureHispanic: {
		first: []string{"Carlos", "Maria", "Diego", "Isabella", "Alejandro", "Valentina", "Mateo", "Sofia"},
		last:  []string{"Rodriguez", "Garcia", "Martinez", "Lopez", "Hernandez", "Torres", "Ramirez", "Flores"},
	},
	cultureJapanese: {
		first: []string{"Yuki", "Haruto", "Sakura", "Ren", "Hina", "Sota", "Mei", "Takumi"},
		last:  []string{"Tanaka", "Suzuki", "Watanabe", "Sato", "Yamamoto", "Nakamura", "Kobayashi", "Kato"},
	},
}

// cultureOrder fixes the lookup order when a name token appears in several
// cultures' marker lists.
var cultureOrder = []culture{
	cultureSouthAsian, cultureEastAsian, cultureKorean, cultureArabic, cultureHispanic, cultureJapanese,
}

// cultureMarkers are name tokens that suggest a naming tradition.
var cultureMarkers = map[culture][]string{
	cultureSouthAsian: {
		"Sharma", "Patel", "Kumar", "Singh", "Gupta", "Mehta", "Joshi", "Nair",
		"Reddy", "Iyer", "Priya", "Rajesh", "Arjun", "Vikram", "Ananya",
		"Deepa", "Kavitha", "Sanjay", "Amit", "Neha", "Rohan",
		"Kapoor", "Agarwal", "Bansal", "Saxena", "Mishra", "Rao",
		"Suresh", "Sunita", "Kamala", "Mohan", "Lakshmi", "Dinesh",
		"Manish", "Pooja", "Ishita", "Karthik", "Meera", "Arun",
	},
	cultureEastAsian: {
		"Chen", "Wang", "Li", "Zhang", "Liu", "Yang", "Huang", "Wu", "Lin",
		"Sun", "Wei", "Ming", "Jing", "Hui", "Lei", "Xin", "Fang",
	},
	cultureKorean: {
		"Kim", "Park", "Lee", "Choi", "Jung", "Kang", "Yoon", "Shin",
		"Han", "Seo", "Joon", "Hyun", "Yeon", "Eun",
	},
	cultureArabic: {
		"Al-Rashid", "Hassan", "Ibrahim", "Khalil", "Mansour",
		"Omar", "Fatima", "Ahmed", "Layla", "Tariq", "Mohammed",
		"Abdullah", "Nasser", "Saleh", "Farouk",
	},
	cultureHispanic: {
		"Rodriguez", "Garcia", "Martinez", "Lopez", "Hernandez",
		"Torres", "Ramirez", "Carlos", "Diego", "Isabella", "Alejandro",
	},
	cultureJapanese: {
		"Tanaka", "Suzuki", "Watanabe", "Sato", "Yamamoto",
		"Nakamura", "Yuki", "Haruto", "Sakura",
	},
}

var honorificRe = regexp.MustCompile(`(?i)^(?:Dr\.?|Mr\.?|Mrs\.?|Ms\.?|Prof\.?|General|Colonel|Judge|VP|CEO|CFO|CTO|Adv\.?)\s+`)

// detectCulture returns the naming tradition of the first recognised token
// in name, or "" when none matches.
func detectCulture(name string) culture {
	clean := strings.TrimSpace(honorificRe.ReplaceAllString(name, ""))
	for _, part := range strings.Fields(clean) {
		part = strings.Trim(part, ",.")
		part = strings.TrimSuffix(part, "'s")
		for _, c := range cultureOrder {
			for _, m := range cultureMarkers[c] {
				if part == m {
					return c
				}
			}
		}
	}
	return ""
}

func personName(f *gofakeit.Faker, original string) string {
	if pool, ok := namePools[detectCulture(original)]; ok {
		return f.RandomString(pool.first) + " " + f.RandomString(pool.last)
	}
	return f.FirstName() + " " + f.LastName()
}

var corporateSuffixes = []string{
	"Corp", "Technologies", "Systems", "Industries",
	"Group", "Solutions", "Labs", "Dynamics",
	"Holdings", "Partners", "Ventures", "Inc",
}

// surnameBlocklist keeps offensive words out of generated company names.
var surnameBlocklist = map[string]bool{
	"gay": true, "sex": true, "rape": true, "drug": true, "crime": true, "kill": true,
	"die": true, "dead": true, "hell": true, "damn": true, "ass": true, "butt": true,
	"crap": true, "stupid": true, "idiot": true, "negro": true, "slave": true,
	"nazi": true, "porn": true, "nude": true, "anal": true,
}

// maxRedraws bounds loops that redraw a fake value until it fits.
const maxRedraws = 20

func organizationName(f *gofakeit.Faker, _ string) string {
	name := f.LastName()
	for i := 0; i < maxRedraws && surnameBlocklist[strings.ToLower(name)]; i++ {
		name = f.LastName()
	}
	return name + " " + f.RandomString(corporateSuffixes)
}

func cityName(f *gofakeit.Faker, _ string) string {
	city := f.City()
	for i := 0; i < maxRedraws && len(strings.Fields(city)) > 2; i++ {
		city = f.City()
	}
	return city
}

var emailDomains = []string{"email.com", "mail.com", "inbox.org", "proton.me"}

func emailAddress(f *gofakeit.Faker, _ string) string {
	return localPart(f.FirstName()) + "." + localPart(f.LastName()) + "@" + f.RandomString(emailDomains)
}

// localPart lowercases s and drops anything that is not a letter.
func localPart(s string) string {
	return strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII || !unicode.IsLetter(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
}

var indianPhoneRe = regexp.MustCompile(`\+91|\b91-`)

func phoneNumber(f *gofakeit.Faker, original string) string {
	if indianPhoneRe.MatchString(original) {
		return fmt.Sprintf("+91-%d-%d", f.IntRange(70000, 99999), f.IntRange(10000, 99999))
	}
	return fmt.Sprintf("+1-%d-%d-%d", f.IntRange(200, 999), f.IntRange(100, 999), f.IntRange(1000, 9999))
}

var (
	passportRe = regexp.MustCompile(`^[A-Z]\d{7,8}$`)
	aadhaarRe  = regexp.MustCompile(`^\d{4}[- ]?\d{4}[- ]?\d{4}$`)
	panRe      = regexp.MustCompile(`^[A-Z]{5}\d{4}[A-Z]$`)
)

func upperLetter(f *gofakeit.Faker) string {
	return string(rune('A' + f.IntRange(0, 25)))
}

// governmentID keeps the sub-format of the original: passport, Aadhaar, PAN,
// or an SSN-like 3-2-4 number for anything else.
func governmentID(f *gofakeit.Faker, original string) string {
	id := strings.TrimSpace(original)
	switch {
	case passportRe.MatchString(id):
		return fmt.Sprintf("%s%d", upperLetter(f), f.IntRange(1000000, 99999999))
	case aadhaarRe.MatchString(id):
		return fmt.Sprintf("%d-%d-%d", f.IntRange(1000, 9999), f.IntRange(1000, 9999), f.IntRange(1000, 9999))
	case panRe.MatchString(id):
		var b strings.Builder
		for i := 0; i < 5; i++ {
			b.WriteString(upperLetter(f))
		}
		return fmt.Sprintf("%s%d%s", b.String(), f.IntRange(1000, 9999), upperLetter(f))
	default:
		return fmt.Sprintf("%d-%d-%d", f.IntRange(100, 999), f.IntRange(10, 99), f.IntRange(1000, 9999))
	}
}

func maskedCard(f *gofakeit.Faker, _ string) string {
	return fmt.Sprintf("XXXX-XXXX-XXXX-%d", f.IntRange(1000, 9999))
}

func exampleURL(f *gofakeit.Faker, _ string) string {
	return "https://example-" + localPart(f.LastName()) + ".com/page"
}

func ipAddress(f *gofakeit.Faker, _ string) string {
	return fmt.Sprintf("%d.%d.%d.%d", f.IntRange(10, 255), f.IntRange(0, 255), f.IntRange(0, 255), f.IntRange(1, 254))
}

var codenames = []string{
	"Aurora", "Falcon", "Horizon", "Nebula", "Compass",
	"Keystone", "Onyx", "Helix", "Mantis", "Eclipse",
	"Zenith", "Valkyrie", "Orion", "Tempest", "Cascade",
}

func projectName(f *gofakeit.Faker, _ string) string {
	return "Project " + f.RandomString(codenames)
}

var productSuffixes = []string{"Pro", "Ultra", "Max", "X1", "One", "Suite"}

func productName(f *gofakeit.Faker, _ string) string {
	return f.LastName() + " " + f.RandomString(productSuffixes)
}

func fallbackWord(f *gofakeit.Faker, _ string) string {
	return cases.Title(language.English).String(f.Word())
}
