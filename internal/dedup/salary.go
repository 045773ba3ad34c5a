package dedup

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	salaryRange  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([kK])?\s*(?:-|–|\bto\b)\s*(\d+(?:\.\d+)?)\s*([kK])?`)
	salarySingle = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([kK])?`)
)

// ParseSalary extracts a (min, max) pair from free text such as
// "$80,000 - $120,000", "$100K-$150K" or "90k to 110k". A lone value yields
// (v, v). Text without digits, like "Competitive", yields (nil, nil).
//
// A K suffix multiplies by 1000. When only the upper bound carries it
// ("100-150K") the lower bound is read in the same unit.
func ParseSalary(text string) (min, max *int) {
	cleaned := strings.NewReplacer(",", "", "$", "").Replace(strings.TrimSpace(text))
	if cleaned == "" {
		return nil, nil
	}

	if m := salaryRange.FindStringSubmatch(cleaned); m != nil {
		lowK, highK := m[2] != "", m[4] != ""
		if highK && !lowK {
			lowK = true
		}
		low, okLow := salaryValue(m[1], lowK)
		high, okHigh := salaryValue(m[3], highK)
		if okLow && okHigh {
			return &low, &high
		}
	}

	if m := salarySingle.FindStringSubmatch(cleaned); m != nil {
		v, ok := salaryValue(m[1], m[2] != "")
		if ok {
			v2 := v
			return &v, &v2
		}
	}
	return nil, nil
}

func salaryValue(num string, thousands bool) (int, bool) {
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	if thousands {
		f *= 1000
	}
	return int(f), true
}
