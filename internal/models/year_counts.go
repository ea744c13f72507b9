package models

import (
	"sort"
)

// YearQuestionMap maps an exam year ("2019") to the number of questions asked from a chapter that year
type YearQuestionMap map[string]int

// Total returns the number of questions across all years
func (m YearQuestionMap) Total() int {
	total := 0
	for _, n := range m {
		total += n
	}
	return total
}

// Years returns the years present, oldest first
func (m YearQuestionMap) Years() []string {
	years := make([]string, 0, len(m))
	for y := range m {
		years = append(years, y)
	}
	sort.Strings(years)
	return years
}
