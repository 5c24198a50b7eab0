package agent

import "regexp"

var (
	expensePattern      = regexp.MustCompile(`EXP-\d{4}-\d{6}`)
	confirmationPattern = regexp.MustCompile(`(?i)confirmation\s*(?:id|number|#)[:\s]+([A-Za-z0-9][A-Za-z0-9-]*)`)
)

// ExtractConfirmationID finds a confirmation id in page text. It returns ""
// when none is present.
func ExtractConfirmationID(text string) string {
	if id := expensePattern.FindString(text); id != "" {
		return id
	}
	if m := confirmationPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}
