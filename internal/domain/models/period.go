package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Period is a calendar year (Month == 0) or a year-month.
type Period struct {
	Year  int
	Month int
}

var periodPattern = regexp.MustCompile(`^(\d{4})(?:\s*[.\-/]\s*(\d{1,2}))?\.?\s*\*?$`)

// YearPeriod returns the annual period for year.
func YearPeriod(year int) Period { return Period{Year: year} }

// MonthPeriod returns the monthly period for year and month (1-12).
func MonthPeriod(year, month int) Period { return Period{Year: year, Month: month} }

// ParsePeriod parses a column label such as "2020", "2020-03" or "2020.03.".
func ParsePeriod(label string) (Period, bool) {
	m := periodPattern.FindStringSubmatch(strings.TrimSpace(label))
	if m == nil {
		return Period{}, false
	}
	year, err := strconv.Atoi(m[1])
	if err != nil || year < 1800 || year > 2200 {
		return Period{}, false
	}
	if m[2] == "" {
		return YearPeriod(year), true
	}
	month, err := strconv.Atoi(m[2])
	if err != nil || month < 1 || month > 12 {
		return Period{}, false
	}
	return MonthPeriod(year, month), true
}

// Granularity reports whether p is annual or monthly.
func (p Period) Granularity() Granularity {
	if p.Month == 0 {
		return Annual
	}
	return Monthly
}

// Date returns the canonical date of the period: its first day, UTC.
func (p Period) Date() time.Time {
	month := p.Month
	if month == 0 {
		month = 1
	}
	return time.Date(p.Year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
}

func (p Period) ordinal() int {
	if p.Month == 0 {
		return p.Year
	}
	return p.Year*12 + p.Month - 1
}

// Add moves the period by n steps of its own granularity.
func (p Period) Add(n int) Period {
	if p.Month == 0 {
		return YearPeriod(p.Year + n)
	}
	o := p.ordinal() + n
	return MonthPeriod(o/12, o%12+1)
}

// Next returns the following period.
func (p Period) Next() Period { return p.Add(1) }

// Steps returns the number of steps from p to q; both must share granularity.
func (p Period) Steps(q Period) int { return q.ordinal() - p.ordinal() }

// Truncate coarsens the period to g. Annual periods are never refined.
func (p Period) Truncate(g Granularity) Period {
	if g == Annual {
		return YearPeriod(p.Year)
	}
	return p
}

// Compare returns -1, 0 or +1.
func (p Period) Compare(q Period) int {
	switch {
	case p.Year != q.Year:
		if p.Year < q.Year {
			return -1
		}
		return 1
	case p.Month < q.Month:
		return -1
	case p.Month > q.Month:
		return 1
	default:
		return 0
	}
}

func (p Period) Before(q Period) bool { return p.Compare(q) < 0 }
func (p Period) After(q Period) bool  { return p.Compare(q) > 0 }
func (p Period) IsZero() bool         { return p.Year == 0 && p.Month == 0 }

func (p Period) String() string {
	if p.Month == 0 {
		return strconv.Itoa(p.Year)
	}
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

func (p Period) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Period) UnmarshalText(b []byte) error {
	parsed, ok := ParsePeriod(string(b))
	if !ok {
		return fmt.Errorf("invalid period %q", string(b))
	}
	*p = parsed
	return nil
}
