package mirror

import "sort"

// CountryCount is the number of mirrors hosted in one country.
type CountryCount struct {
	Country string
	Code    string
	Count   int
}

// CountCountries groups mirrors by country. Mirrors without a country code
// are left out of the grouping. The result is sorted by country code.
func CountCountries(mirrors []Mirror) []CountryCount {
	type key struct{ country, code string }
	counts := make(map[key]int)
	for _, m := range mirrors {
		if m.CountryCode == "" {
			continue
		}
		counts[key{m.Country, m.CountryCode}]++
	}

	result := make([]CountryCount, 0, len(counts))
	for k, n := range counts {
		result = append(result, CountryCount{Country: k.country, Code: k.code, Count: n})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Code != result[j].Code {
			return result[i].Code < result[j].Code
		}
		return result[i].Country < result[j].Country
	})
	return result
}
