package due

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Options relaxes the default validation.
type Options struct {
	// AllowPast accepts dates before the reference day instead of returning PastDate.
	AllowPast bool
}

var (
	isoDateRe   = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	canonicalRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})[ t](\d{1,2}:\d{2})$`)
	numericRe   = regexp.MustCompile(`^(\d{1,2})([/.])(\d{1,2})(?:[/.](\d{2}|\d{4}))?\.?$`)
	clockRe     = regexp.MustCompile(`^(\d{1,2})(?:[:.](\d{2}))?\s*([a-zäöü.]+)?$`)
	ordinalRe   = regexp.MustCompile(`^(\d{1,2})(?:st|nd|rd|th|\.)?$`)
	yearRe      = regexp.MustCompile(`^\d{4}$`)
)

// Resolve turns text into a Spec relative to ref. It is a pure function of its
// arguments. Unknown locales fall back to neutral English.
func Resolve(text string, ref time.Time, locale string) (Spec, error) {
	return ResolveWithOptions(text, ref, locale, Options{})
}

// ResolveWithOptions is Resolve with explicit options.
func ResolveWithOptions(text string, ref time.Time, locale string, opts Options) (Spec, error) {
	l, ok := LookupLocale(locale)
	if !ok {
		l = locales[""]
	}

	orig, lower := tokens(text)
	if len(orig) == 0 {
		return Spec{}, parseErr(Unrecognized, text, "empty input")
	}
	today := DateOf(ref)

	// "every monday starting 2024-01-22" pins the first occurrence.
	var start *Date
	if l.every[lower[0]] {
		if i := l.startIndex(lower); i > 0 {
			d, err := l.resolveDate(lower[i+1:], today, text)
			if err != nil {
				return Spec{}, err
			}
			start = &d
			orig, lower = orig[:i], lower[:i]
		}
	}

	if m := canonicalRe.FindStringSubmatch(strings.Join(lower, " ")); m != nil {
		d, err := ParseDate(m[1])
		if err != nil {
			return Spec{}, parseErr(Unrecognized, text, "invalid calendar date")
		}
		c, ok := l.parseClock(m[2])
		if !ok {
			return Spec{}, parseErr(Unrecognized, text, "invalid time of day")
		}
		return checkPast(Spec{Date: d, Time: &c}, today, text, opts)
	}

	dateToks, timeToks := l.splitTime(lower)
	var clock *Clock
	if timeToks != nil {
		c, ok := l.parseClock(strings.Join(timeToks, " "))
		if !ok {
			return Spec{}, parseErr(Unrecognized, text, "invalid time of day")
		}
		clock = &c
	}

	if len(dateToks) > 0 && l.every[dateToks[0]] {
		rule := strings.Join(orig[:len(dateToks)], " ")
		from, passed := today, clock != nil && clock.minutes() <= ref.Hour()*60+ref.Minute()
		if start != nil {
			from, passed = *start, false
		}
		return l.resolveRecurrence(dateToks[1:], rule, clock, from, passed, text)
	}

	d, err := l.resolveDate(dateToks, today, text)
	if err != nil {
		return Spec{}, err
	}
	return checkPast(Spec{Date: d, Time: clock, AllDay: clock == nil}, today, text, opts)
}

func tokens(text string) (orig, lower []string) {
	orig = strings.Fields(text)
	lower = make([]string, len(orig))
	for i, tok := range orig {
		lower[i] = strings.Trim(strings.ToLower(tok), ",")
	}
	return orig, lower
}

// startIndex finds the start keyword of a recurrence. It needs a rule before
// it and a date after it; -1 means there is none.
func (l *Locale) startIndex(lower []string) int {
	for i := 2; i < len(lower)-1; i++ {
		if l.starting[lower[i]] {
			return i
		}
	}
	return -1
}

// WithStart anchors a recurrence text at d, replacing any start clause it
// already carries: "every monday" becomes "every monday starting 2024-01-22".
func WithStart(text, locale string, d Date) string {
	return StripStart(text, locale) + " starting " + d.String()
}

// StripStart returns the recurrence rule of text without its start clause.
// Texts that are not recurrences come back with normalised spacing.
func StripStart(text, locale string) string {
	l, ok := LookupLocale(locale)
	if !ok {
		l = locales[""]
	}
	orig, lower := tokens(text)
	if len(lower) > 0 && l.every[lower[0]] {
		if i := l.startIndex(lower); i > 0 {
			orig = orig[:i]
		}
	}
	return strings.Join(orig, " ")
}

func checkPast(s Spec, today Date, text string, opts Options) (Spec, error) {
	s.AllDay = s.Time == nil
	if !opts.AllowPast && s.Date.Before(today) {
		return Spec{}, parseErr(PastDate, text, "resolves to "+s.Date.String())
	}
	return s, nil
}

// splitTime separates a trailing time-of-day phrase from the date phrase.
// timeToks is nil when there is no time suffix.
func (l *Locale) splitTime(toks []string) (dateToks, timeToks []string) {
	for i := len(toks) - 2; i >= 0; i-- {
		if l.at[toks[i]] {
			return toks[:i], toks[i+1:]
		}
	}
	// "tomorrow 3pm", "friday 17:30"
	last := toks[len(toks)-1]
	if strings.Contains(last, ":") || l.hasHourSuffix(last) {
		if _, ok := l.parseClock(last); ok {
			return toks[:len(toks)-1], toks[len(toks)-1:]
		}
	}
	if len(toks) >= 2 && l.hourSuffix[last] {
		if _, ok := l.parseClock(strings.Join(toks[len(toks)-2:], " ")); ok {
			return toks[:len(toks)-2], toks[len(toks)-2:]
		}
	}
	return toks, nil
}

func (l *Locale) hasHourSuffix(tok string) bool {
	for suffix := range l.hourSuffix {
		if len(tok) > len(suffix) && strings.HasSuffix(tok, suffix) {
			return true
		}
	}
	return false
}

// parseClock parses "3pm", "3:30 pm", "15:00", "15 uhr", "noon".
func (l *Locale) parseClock(s string) (Clock, bool) {
	s = strings.TrimSpace(s)
	if l.noon[s] {
		return Clock{Hour: 12}, true
	}
	if l.midnight[s] {
		return Clock{}, true
	}
	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return Clock{}, false
	}
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if minute > 59 {
		return Clock{}, false
	}

	switch suffix := m[3]; {
	case suffix == "":
	case suffix == "am" || suffix == "a.m.":
		if hour < 1 || hour > 12 {
			return Clock{}, false
		}
		if hour == 12 {
			hour = 0
		}
	case suffix == "pm" || suffix == "p.m.":
		if hour < 1 || hour > 12 {
			return Clock{}, false
		}
		if hour != 12 {
			hour += 12
		}
	case l.hourSuffix[suffix]:
	default:
		return Clock{}, false
	}
	if hour > 23 {
		return Clock{}, false
	}
	return Clock{Hour: hour, Minute: minute}, true
}

func (l *Locale) resolveDate(toks []string, today Date, text string) (Date, error) {
	if len(toks) == 0 {
		return today, nil
	}
	phrase := strings.Join(toks, " ")

	switch {
	case l.today[phrase]:
		return today, nil
	case l.tomorrow[phrase]:
		return today.AddDays(1), nil
	case l.dayAfter[phrase]:
		return today.AddDays(2), nil
	case l.yesterday[phrase]:
		return today.AddDays(-1), nil
	}

	// in N days|weeks|months|years
	if len(toks) == 3 && l.in[toks[0]] {
		n, err := strconv.Atoi(toks[1])
		u, ok := l.units[toks[2]]
		if err == nil && ok && n > 0 {
			return advance(today, u, n), nil
		}
	}

	// [next] <weekday>
	if wd, ok := l.weekday(toks[len(toks)-1]); ok && len(toks) <= 2 {
		skip := 0
		if len(toks) == 2 {
			if !l.next[toks[0]] {
				return Date{}, parseErr(Unrecognized, text, "")
			}
			skip = 7
		}
		return nextWeekday(today, wd, false).AddDays(skip), nil
	}

	if m := isoDateRe.FindStringSubmatch(phrase); m != nil {
		d, err := ParseDate(phrase)
		if err != nil {
			return Date{}, parseErr(Unrecognized, text, "invalid calendar date")
		}
		return d, nil
	}

	if m := numericRe.FindStringSubmatch(phrase); m != nil {
		return l.resolveNumeric(m, today, text)
	}

	if d, ok, err := l.resolveMonthName(toks, today, text); ok {
		return d, err
	}

	return Date{}, parseErr(Unrecognized, text, "")
}

func (l *Locale) resolveNumeric(m []string, today Date, text string) (Date, error) {
	a, _ := strconv.Atoi(m[1])
	b, _ := strconv.Atoi(m[3])

	order := l.Order
	if m[2] == "." {
		order = DayFirst
	}

	var day, month int
	switch order {
	case MonthFirst:
		month, day = a, b
	case DayFirst:
		day, month = a, b
	default:
		switch {
		case a > 12 && b <= 12:
			day, month = a, b
		case b > 12 && a <= 12:
			month, day = a, b
		case a == b:
			day, month = a, b
		default:
			return Date{}, parseErr(AmbiguousFormat, text, "day and month order is unknown for this locale")
		}
	}

	year, hasYear := 0, m[4] != ""
	if hasYear {
		year, _ = strconv.Atoi(m[4])
		if year < 100 {
			year += 2000
		}
	}
	return calendarDate(year, hasYear, time.Month(month), day, today, text)
}

func (l *Locale) resolveMonthName(toks []string, today Date, text string) (Date, bool, error) {
	if len(toks) < 2 || len(toks) > 3 {
		return Date{}, false, nil
	}

	var (
		month   time.Month
		dayTok  string
		yearTok string
	)
	if m, ok := l.month(toks[0]); ok {
		month, dayTok = m, toks[1]
	} else if m, ok := l.month(toks[1]); ok {
		month, dayTok = m, toks[0]
	} else {
		return Date{}, false, nil
	}
	if len(toks) == 3 {
		yearTok = toks[2]
		if !yearRe.MatchString(yearTok) {
			return Date{}, true, parseErr(Unrecognized, text, "invalid year")
		}
	}

	dm := ordinalRe.FindStringSubmatch(dayTok)
	if dm == nil {
		return Date{}, true, parseErr(Unrecognized, text, "invalid day of month")
	}
	day, _ := strconv.Atoi(dm[1])
	year := 0
	if yearTok != "" {
		year, _ = strconv.Atoi(yearTok)
	}
	d, err := calendarDate(year, yearTok != "", month, day, today, text)
	return d, true, err
}

// calendarDate validates y-m-d. A date without a year is the next such day on or after today.
func calendarDate(year int, hasYear bool, month time.Month, day int, today Date, text string) (Date, error) {
	if !hasYear {
		year = today.Year
	}
	if month < time.January || month > time.December || day < 1 {
		return Date{}, parseErr(Unrecognized, text, "invalid calendar date")
	}
	d := NewDate(year, month, day)
	if d.Month != month || d.Day != day {
		if hasYear || !(month == time.February && day == 29) {
			return Date{}, parseErr(Unrecognized, text, "invalid calendar date")
		}
	}
	if !hasYear {
		for d.Before(today) || d.Month != month || d.Day != day {
			year++
			d = NewDate(year, month, day)
		}
	}
	return d, nil
}

// nextWeekday returns the first wd strictly after from, or on from when inclusive.
func nextWeekday(from Date, wd time.Weekday, inclusive bool) Date {
	diff := (int(wd) - int(from.Weekday()) + 7) % 7
	if diff == 0 && !inclusive {
		diff = 7
	}
	return from.AddDays(diff)
}

func advance(d Date, u unit, n int) Date {
	switch u {
	case unitWeek:
		return d.AddDays(7 * n)
	case unitMonth:
		return d.AddDate(0, n, 0)
	case unitYear:
		return d.AddDate(n, 0, 0)
	default:
		return d.AddDays(n)
	}
}

// resolveRecurrence finds the first occurrence on or after today, or after it
// when passed says today's slot is already gone.
func (l *Locale) resolveRecurrence(toks []string, rule string, clock *Clock, today Date, passed bool, text string) (Spec, error) {
	if len(toks) == 0 {
		return Spec{}, parseErr(Unrecognized, text, "recurrence without a period")
	}

	interval := 1
	switch {
	case l.other[toks[0]]:
		interval, toks = 2, toks[1:]
	default:
		if n, err := strconv.Atoi(toks[0]); err == nil {
			if n < 1 {
				return Spec{}, parseErr(Unrecognized, text, "interval must be positive")
			}
			interval, toks = n, toks[1:]
		}
	}
	if len(toks) == 0 {
		return Spec{}, parseErr(Unrecognized, text, "recurrence without a period")
	}

	spec := Spec{Time: clock, AllDay: clock == nil, Recurrence: rule}

	if len(toks) == 1 {
		if u, ok := l.units[toks[0]]; ok {
			spec.Date = today
			if passed {
				spec.Date = advance(today, u, interval)
			}
			return spec, nil
		}
		if l.weekdayRule[toks[0]] {
			spec.Date = nextWorkday(today, !passed)
			return spec, nil
		}
	}

	days, ok := l.weekdayList(toks)
	if !ok {
		return Spec{}, parseErr(Unrecognized, text, "")
	}
	if interval != 1 && len(days) > 1 {
		return Spec{}, parseErr(Unrecognized, text, "interval with several weekdays")
	}
	var first Date
	for _, wd := range days {
		from := today
		if passed {
			from = today.AddDays(1)
		}
		d := nextWeekday(from, wd, true)
		if first.IsZero() || d.Before(first) {
			first = d
		}
	}
	spec.Date = first
	return spec, nil
}

// weekdayList parses "monday", "mon, wed and fri".
func (l *Locale) weekdayList(toks []string) ([]time.Weekday, bool) {
	var days []time.Weekday
	for _, tok := range toks {
		if l.and[tok] || tok == "" {
			continue
		}
		wd, ok := l.weekday(tok)
		if !ok {
			return nil, false
		}
		days = append(days, wd)
	}
	return days, len(days) > 0
}

func nextWorkday(from Date, inclusive bool) Date {
	d := from
	if !inclusive {
		d = d.AddDays(1)
	}
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDays(1)
	}
	return d
}

// Resolver binds a locale, a time zone and a clock so callers can resolve text
// against "now" without threading the reference instant themselves.
type Resolver struct {
	Locale   string
	Location *time.Location
	Now      func() time.Time
	Options  Options
}

// NewResolver returns a Resolver using the wall clock.
func NewResolver(locale string, loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{Locale: locale, Location: loc, Now: time.Now}
}

// Reference returns the current instant in the resolver's location.
func (r *Resolver) Reference() time.Time {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	return now().In(loc)
}

// Today returns the current calendar day in the resolver's location.
func (r *Resolver) Today() Date { return DateOf(r.Reference()) }

// ResolveText resolves text against the current instant.
func (r *Resolver) ResolveText(text string) (Spec, error) {
	return ResolveWithOptions(text, r.Reference(), r.Locale, r.Options)
}
