package preprocess

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/signalmesh/signalmesh/signal"
)

// timeNow is swapped in tests to pin relative-date resolution.
var timeNow = time.Now

var (
	emailPattern   = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern   = regexp.MustCompile(`(?:\+1[ .\-]?)?\(?\d{3}\)?[ .\-]?\d{3}[ .\-]?\d{4}\b`)
	urlPattern     = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
	mentionPattern = regexp.MustCompile(`@([a-zA-Z0-9_.\-]+)`)
	fileRefPattern = regexp.MustCompile(`(?i)\b[\w\-./\\]+\.(?:pdf|docx?|xlsx?|pptx?|csv|txt|md|png|jpe?g|gif|zip|tar|gz|json|yaml|yml|go|py|js|ts)\b`)

	// $1,234.56 / €99 / £1 000 and 1234.56 USD / 99 EUR.
	moneySymbolPattern = regexp.MustCompile(`([$€£¥₹])\s?(\d[\d,. ]*\d|\d)`)
	moneyCodePattern   = regexp.MustCompile(`\b(\d[\d,.]*\d|\d)\s?(USD|EUR|GBP|JPY|INR)\b`)

	isoDatePattern   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	slashDatePattern = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4}|\d{2})\b`)
	writtenDatePattern = regexp.MustCompile(`(?i)\b(January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sep|Sept|Oct|Nov|Dec)\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?\b`)
	relativeDatePattern = regexp.MustCompile(`(?i)\b(today|tomorrow|yesterday|next (?:week|month|monday|tuesday|wednesday|thursday|friday|saturday|sunday)|last (?:week|month|monday|tuesday|wednesday|thursday|friday|saturday|sunday))\b`)
	eodPattern          = regexp.MustCompile(`(?i)\b(EOD|COB)\b`)

	timePattern = regexp.MustCompile(`(?i)\b(\d{1,2}):(\d{2})(?::\d{2})?\s?(am|pm)?\b|\b(\d{1,2})\s?(am|pm)\b`)
)

var currencySymbols = map[string]string{
	"$": "USD", "€": "EUR", "£": "GBP", "¥": "JPY", "₹": "INR",
}

// extractData pulls all structured data out of a cleaned body. Set-valued
// fields are deduplicated in order of first appearance.
func extractData(body string) signal.ExtractedData {
	data := signal.ExtractedData{
		Emails:   dedupe(emailPattern.FindAllString(body, -1)),
		URLs:     dedupe(urlPattern.FindAllString(body, -1)),
		FileRefs: dedupe(fileRefPattern.FindAllString(body, -1)),
		Times:    extractTimes(body),
		Dates:    extractDates(body, timeNow()),
		Amounts:  extractMoney(body),
	}

	// Phones last: an email local part can contain digits that would
	// otherwise match, so drop phone candidates inside matched emails.
	phones := phonePattern.FindAllString(body, -1)
	kept := phones[:0]
	for _, ph := range phones {
		inEmail := false
		for _, em := range data.Emails {
			if strings.Contains(em, strings.TrimSpace(ph)) {
				inEmail = true
				break
			}
		}
		if !inEmail {
			kept = append(kept, strings.TrimSpace(ph))
		}
	}
	data.Phones = dedupe(kept)

	// Mentions exclude email domains: an @ directly following a word
	// character is part of an address.
	var mentions []string
	for _, loc := range mentionPattern.FindAllStringSubmatchIndex(body, -1) {
		start := loc[0]
		if start > 0 && isWordByte(body[start-1]) {
			continue
		}
		mentions = append(mentions, body[loc[2]:loc[3]])
	}
	data.Mentions = dedupe(mentions)

	return data
}

func extractMoney(body string) []signal.MoneyRef {
	var refs []signal.MoneyRef
	for _, m := range moneySymbolPattern.FindAllStringSubmatch(body, -1) {
		amount, ok := parseAmount(m[2])
		if !ok {
			continue
		}
		refs = append(refs, signal.MoneyRef{Raw: m[0], Amount: amount, Currency: currencySymbols[m[1]]})
	}
	for _, m := range moneyCodePattern.FindAllStringSubmatch(body, -1) {
		amount, ok := parseAmount(m[1])
		if !ok {
			continue
		}
		refs = append(refs, signal.MoneyRef{Raw: m[0], Amount: amount, Currency: strings.ToUpper(m[2])})
	}
	return refs
}

func parseAmount(s string) (float64, bool) {
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	amount, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return amount, true
}

func extractDates(body string, now time.Time) []signal.DateRef {
	var refs []signal.DateRef

	for _, m := range isoDatePattern.FindAllStringSubmatch(body, -1) {
		if _, err := time.Parse("2006-01-02", m[0]); err == nil {
			refs = append(refs, signal.DateRef{Raw: m[0], ISO: m[0]})
		}
	}

	for _, m := range slashDatePattern.FindAllStringSubmatch(body, -1) {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if year < 100 {
			year += 2000
		}
		if month < 1 || month > 12 || day < 1 || day > 31 {
			continue
		}
		t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, now.Location())
		refs = append(refs, signal.DateRef{Raw: m[0], ISO: t.Format("2006-01-02")})
	}

	for _, m := range writtenDatePattern.FindAllStringSubmatch(body, -1) {
		month, ok := monthByName(m[1])
		if !ok {
			continue
		}
		day, _ := strconv.Atoi(m[2])
		year := now.Year()
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
		}
		if day < 1 || day > 31 {
			continue
		}
		t := time.Date(year, month, day, 0, 0, 0, 0, now.Location())
		refs = append(refs, signal.DateRef{Raw: m[0], ISO: t.Format("2006-01-02")})
	}

	for _, m := range relativeDatePattern.FindAllString(body, -1) {
		if t, ok := resolveRelative(strings.ToLower(m), now); ok {
			refs = append(refs, signal.DateRef{Raw: m, ISO: t.Format("2006-01-02")})
		}
	}

	// EOD/COB normalize to 17:00 local of the current day.
	for _, m := range eodPattern.FindAllString(body, -1) {
		eod := time.Date(now.Year(), now.Month(), now.Day(), 17, 0, 0, 0, now.Location())
		refs = append(refs, signal.DateRef{Raw: m, ISO: eod.Format("2006-01-02T15:04")})
	}
	return refs
}

func monthByName(name string) (time.Month, bool) {
	switch strings.ToLower(name[:3]) {
	case "jan":
		return time.January, true
	case "feb":
		return time.February, true
	case "mar":
		return time.March, true
	case "apr":
		return time.April, true
	case "may":
		return time.May, true
	case "jun":
		return time.June, true
	case "jul":
		return time.July, true
	case "aug":
		return time.August, true
	case "sep":
		return time.September, true
	case "oct":
		return time.October, true
	case "nov":
		return time.November, true
	case "dec":
		return time.December, true
	}
	return 0, false
}

func resolveRelative(phrase string, now time.Time) (time.Time, bool) {
	switch phrase {
	case "today":
		return now, true
	case "tomorrow":
		return now.AddDate(0, 0, 1), true
	case "yesterday":
		return now.AddDate(0, 0, -1), true
	case "next week":
		return now.AddDate(0, 0, 7), true
	case "last week":
		return now.AddDate(0, 0, -7), true
	case "next month":
		return now.AddDate(0, 1, 0), true
	case "last month":
		return now.AddDate(0, -1, 0), true
	}

	dir := 0
	var rest string
	if after, ok := strings.CutPrefix(phrase, "next "); ok {
		dir, rest = 1, after
	} else if after, ok := strings.CutPrefix(phrase, "last "); ok {
		dir, rest = -1, after
	} else {
		return time.Time{}, false
	}

	target, ok := weekdayByName(rest)
	if !ok {
		return time.Time{}, false
	}
	delta := int(target) - int(now.Weekday())
	if dir > 0 {
		if delta <= 0 {
			delta += 7
		}
	} else {
		if delta >= 0 {
			delta -= 7
		}
	}
	return now.AddDate(0, 0, delta), true
}

func weekdayByName(name string) (time.Weekday, bool) {
	switch name {
	case "sunday":
		return time.Sunday, true
	case "monday":
		return time.Monday, true
	case "tuesday":
		return time.Tuesday, true
	case "wednesday":
		return time.Wednesday, true
	case "thursday":
		return time.Thursday, true
	case "friday":
		return time.Friday, true
	case "saturday":
		return time.Saturday, true
	}
	return 0, false
}

func extractTimes(body string) []string {
	var times []string
	for _, m := range timePattern.FindAllString(body, -1) {
		times = append(times, strings.TrimSpace(m))
	}
	return dedupe(times)
}

func dedupe(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
