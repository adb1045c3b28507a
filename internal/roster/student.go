package roster

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// OtherCohort groups students whose class label carries no recognizable year.
const OtherCohort = "Other"

// Student is one enrollable child. Immutable once loaded.
type Student struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Class string `json:"class"`
	Year  string `json:"year"`
}

var (
	yearPattern  = regexp.MustCompile(`(?i)Year\s*(\d+)`)
	spaceRun     = regexp.MustCompile(`\s+`)
	digitPattern = regexp.MustCompile(`\d+`)
)

// NewStudent trims the raw fields and derives the cohort and the stable id.
func NewStudent(name, class string) Student {
	name = strings.TrimSpace(name)
	class = strings.TrimSpace(class)
	year := CohortOf(class)
	return Student{
		ID:    StudentID(name, class, year),
		Name:  name,
		Class: class,
		Year:  year,
	}
}

// StudentID derives the deterministic roster key from name, class and cohort.
func StudentID(name, class, year string) string {
	return spaceRun.ReplaceAllString(strings.ToLower(name), "_") + "_" + class + "_" + year
}

// CohortOf maps a class label to its cohort: the upper-cased label for
// kindergarten classes, "Year N" when a year number is present, otherwise Other.
func CohortOf(class string) string {
	class = strings.TrimSpace(class)
	if upper := strings.ToUpper(class); strings.Contains(upper, "KG") {
		return upper
	}
	if m := yearPattern.FindStringSubmatch(class); m != nil {
		return "Year " + m[1]
	}
	return OtherCohort
}

type cohortRank int

const (
	rankKindergarten cohortRank = iota
	rankYear
	rankOther
)

func rankOf(cohort string) (cohortRank, int) {
	if strings.Contains(cohort, "KG") {
		return rankKindergarten, 0
	}
	if strings.Contains(cohort, "Year") {
		if n, err := strconv.Atoi(digitPattern.FindString(cohort)); err == nil {
			return rankYear, n
		}
	}
	return rankOther, 0
}

// CohortLess orders kindergarten cohorts first (lexically), then numbered
// years ascending, then everything else.
func CohortLess(a, b string) bool {
	ra, na := rankOf(a)
	rb, nb := rankOf(b)
	if ra != rb {
		return ra < rb
	}
	switch ra {
	case rankKindergarten:
		return a < b
	case rankYear:
		return na < nb
	}
	return false
}

// SortCohorts sorts cohorts in place with CohortLess.
func SortCohorts(cohorts []string) {
	sort.SliceStable(cohorts, func(i, j int) bool { return CohortLess(cohorts[i], cohorts[j]) })
}

// Cohorts returns the distinct cohorts of students in display order.
func Cohorts(students []Student) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range students {
		if _, ok := seen[s.Year]; ok {
			continue
		}
		seen[s.Year] = struct{}{}
		out = append(out, s.Year)
	}
	SortCohorts(out)
	return out
}
