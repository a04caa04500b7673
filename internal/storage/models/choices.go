package models

type choice struct {
	Code  string
	Label string
}

var budgetChoices = []choice{
	{"under_1k", "Under €1,000"},
	{"1k_5k", "€1,000 - €5,000"},
	{"5k_10k", "€5,000 - €10,000"},
	{"10k_plus", "€10,000+"},
	{"not_sure", "Not sure yet"},
}

var timelineChoices = []choice{
	{"asap", "As soon as possible"},
	{"1_month", "Within 1 month"},
	{"2_3_months", "2-3 months"},
	{"flexible", "Flexible"},
}

func lookup(choices []choice, code string) (string, bool) {
	for _, c := range choices {
		if c.Code == code {
			return c.Label, true
		}
	}
	return "", false
}

// BudgetLabel returns the display label for a budget code, or the code itself.
func BudgetLabel(code string) string {
	if label, ok := lookup(budgetChoices, code); ok {
		return label
	}
	return code
}

func TimelineLabel(code string) string {
	if label, ok := lookup(timelineChoices, code); ok {
		return label
	}
	return code
}

func ValidBudget(code string) bool {
	_, ok := lookup(budgetChoices, code)
	return ok
}

func ValidTimeline(code string) bool {
	_, ok := lookup(timelineChoices, code)
	return ok
}

// BudgetCodes lists the accepted budget codes in display order.
func BudgetCodes() []string {
	return codes(budgetChoices)
}

func TimelineCodes() []string {
	return codes(timelineChoices)
}

func codes(choices []choice) []string {
	out := make([]string, len(choices))
	for i, c := range choices {
		out[i] = c.Code
	}
	return out
}
