package due

import (
	"strings"
	"time"
)

// DateOrder tells how a locale reads numeric dates such as 03/04.
type DateOrder int

const (
	OrderUnspecified DateOrder = iota
	MonthFirst
	DayFirst
)

type unit int

const (
	unitDay unit = iota + 1
	unitWeek
	unitMonth
	unitYear
)

// Locale holds the vocabulary of one language variant.
type Locale struct {
	Tag   string
	Order DateOrder

	today, tomorrow, dayAfter, yesterday map[string]bool
	next, every, other, at, in           map[string]bool
	weekdayRule, noon, midnight, and     map[string]bool
	hourSuffix, starting                 map[string]bool

	weekdays map[string]time.Weekday
	months   map[string]time.Month
	units    map[string]unit
}

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

var englishWeekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

var englishMonths = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may": time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var englishUnits = map[string]unit{
	"day": unitDay, "days": unitDay,
	"week": unitWeek, "weeks": unitWeek,
	"month": unitMonth, "months": unitMonth,
	"year": unitYear, "years": unitYear,
}

func english(tag string, order DateOrder) *Locale {
	return &Locale{
		Tag:         tag,
		Order:       order,
		today:       set("today", "tod"),
		tomorrow:    set("tomorrow", "tom", "tmr"),
		dayAfter:    set("day after tomorrow"),
		yesterday:   set("yesterday"),
		next:        set("next"),
		every:       set("every", "each"),
		other:       set("other"),
		at:          set("at", "@"),
		in:          set("in"),
		weekdayRule: set("weekday", "workday"),
		noon:        set("noon", "midday"),
		midnight:    set("midnight"),
		and:         set("and", "&"),
		hourSuffix:  set("am", "pm", "a.m.", "p.m."),
		starting:    set("starting", "from"),
		weekdays:    englishWeekdays,
		months:      englishMonths,
		units:       englishUnits,
	}
}

func german() *Locale {
	return &Locale{
		Tag:         "de",
		Order:       DayFirst,
		today:       set("heute"),
		tomorrow:    set("morgen"),
		dayAfter:    set("übermorgen", "uebermorgen"),
		yesterday:   set("gestern"),
		next:        set("nächsten", "nächster", "nächste", "naechsten", "kommenden"),
		every:       set("jeden", "jede", "jedes", "alle"),
		other:       set("zweiten"),
		at:          set("um"),
		in:          set("in"),
		weekdayRule: set("werktag", "arbeitstag"),
		noon:        set("mittag"),
		midnight:    set("mitternacht"),
		and:         set("und", "&"),
		hourSuffix:  set("uhr", "h"),
		starting:    set("ab", "beginnend", "starting"),
		weekdays: map[string]time.Weekday{
			"sonntag": time.Sunday, "so": time.Sunday,
			"montag": time.Monday, "mo": time.Monday,
			"dienstag": time.Tuesday, "di": time.Tuesday,
			"mittwoch": time.Wednesday, "mi": time.Wednesday,
			"donnerstag": time.Thursday, "do": time.Thursday,
			"freitag": time.Friday, "fr": time.Friday,
			"samstag": time.Saturday, "sonnabend": time.Saturday, "sa": time.Saturday,
		},
		months: map[string]time.Month{
			"januar": time.January, "jan": time.January,
			"februar": time.February, "feb": time.February,
			"märz": time.March, "maerz": time.March, "mär": time.March,
			"april": time.April, "apr": time.April,
			"mai": time.May,
			"juni": time.June, "jun": time.June,
			"juli": time.July, "jul": time.July,
			"august": time.August, "aug": time.August,
			"september": time.September, "sep": time.September, "sept": time.September,
			"oktober": time.October, "okt": time.October,
			"november": time.November, "nov": time.November,
			"dezember": time.December, "dez": time.December,
		},
		units: map[string]unit{
			"tag": unitDay, "tage": unitDay, "tagen": unitDay,
			"woche": unitWeek, "wochen": unitWeek,
			"monat": unitMonth, "monate": unitMonth, "monaten": unitMonth,
			"jahr": unitYear, "jahre": unitYear, "jahren": unitYear,
		},
	}
}

var locales = map[string]*Locale{
	"":      english("", OrderUnspecified),
	"en":    english("en", MonthFirst),
	"en-us": english("en-US", MonthFirst),
	"en-gb": english("en-GB", DayFirst),
	"de":    german(),
	"de-de": german(),
}

// LookupLocale returns the locale for tag. Tags are case-insensitive and accept "_" for "-".
func LookupLocale(tag string) (*Locale, bool) {
	l, ok := locales[strings.ReplaceAll(strings.ToLower(strings.TrimSpace(tag)), "_", "-")]
	return l, ok
}

// Locales lists the supported tags.
func Locales() []string {
	return []string{"", "en", "en-US", "en-GB", "de"}
}

func (l *Locale) weekday(tok string) (time.Weekday, bool) {
	wd, ok := l.weekdays[strings.TrimSuffix(tok, ".")]
	return wd, ok
}

func (l *Locale) month(tok string) (time.Month, bool) {
	m, ok := l.months[strings.TrimSuffix(tok, ".")]
	return m, ok
}
