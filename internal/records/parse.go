package records

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	isoDateRe      = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	japaneseDateRe = regexp.MustCompile(`(\d{4})年(\d{1,2})月(\d{1,2})日`)
	slashDateRe    = regexp.MustCompile(`(\d{4})/(\d{1,2})/(\d{1,2})`)
	numberRe       = regexp.MustCompile(`\d+`)

	minutesRe  = regexp.MustCompile(`(\d+)分`)
	hoursRe    = regexp.MustCompile(`([\d.]+)時間`)
	bareDigits = regexp.MustCompile(`^\d+$`)

	nonDigitRe = regexp.MustCompile(`[^\d]`)
)

// ParseDate normalizes a date written in any of the formats seen on the
// platform to YYYY-MM-DD. Accepted inputs are an already normalized ISO
// date, 2025年10月15日, 2025/10/15, and as a last resort any string
// containing at least three runs of digits taken as year, month and day.
func ParseDate(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", fmt.Errorf("empty date")
	}
	if isoDateRe.MatchString(text) {
		return text, nil
	}
	for _, re := range []*regexp.Regexp{japaneseDateRe, slashDateRe} {
		if m := re.FindStringSubmatch(text); m != nil {
			return formatDate(m[1], m[2], m[3])
		}
	}
	if nums := numberRe.FindAllString(text, 3); len(nums) == 3 {
		return formatDate(nums[0], nums[1], nums[2])
	}
	return "", fmt.Errorf("unrecognized date format: %q", raw)
}

func formatDate(y, m, d string) (string, error) {
	year, _ := strconv.Atoi(y)
	month, _ := strconv.Atoi(m)
	day, _ := strconv.Atoi(d)
	if year < 1000 || year > 9999 {
		return "", fmt.Errorf("implausible year %d", year)
	}
	if month < 1 || month > 12 {
		return "", fmt.Errorf("implausible month %d", month)
	}
	if day < 1 || day > 31 {
		return "", fmt.Errorf("implausible day %d", day)
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day), nil
}

// ParseDuration extracts a lesson length in minutes from text such as
// 60分, 1.5時間, 1時間30分 or a bare number. Hour and minute parts
// combine; counts beyond a day are rejected.
func ParseDuration(raw string) (int, error) {
	text := strings.TrimSpace(raw)
	hm := hoursRe.FindStringSubmatch(text)
	mm := minutesRe.FindStringSubmatch(text)

	var minutes int
	if mm != nil {
		v, err := strconv.Atoi(mm[1])
		if err != nil {
			return 0, fmt.Errorf("parse minutes %q: %w", mm[1], err)
		}
		if v > 24*60 {
			return 0, fmt.Errorf("implausible duration: %q", raw)
		}
		minutes = v
	}
	if hm != nil {
		hours, err := strconv.ParseFloat(hm[1], 64)
		if err != nil {
			return 0, fmt.Errorf("parse hours %q: %w", hm[1], err)
		}
		if hours > 24 {
			return 0, fmt.Errorf("implausible duration: %q", raw)
		}
		minutes += int(hours * 60)
	}
	if hm != nil || mm != nil {
		return minutes, nil
	}
	if bareDigits.MatchString(text) {
		return strconv.Atoi(text)
	}
	return 0, fmt.Errorf("unrecognized duration: %q", raw)
}

// ParseUnitPrice extracts a yen amount from text such as ¥2,300 by
// stripping every non-digit rune. Empty or digit-free input yields the
// platform default rather than an error: a missing price cell on an
// existing invoice row is routine, not exceptional.
func ParseUnitPrice(raw string) int {
	digits := nonDigitRe.ReplaceAllString(raw, "")
	if digits == "" {
		return DefaultUnitPrice
	}
	price, err := strconv.Atoi(digits)
	if err != nil {
		return DefaultUnitPrice
	}
	return price
}
