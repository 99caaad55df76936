package vision

import "strings"

var (
	rejectKeywords = []string{"invoice", "receipt", "bill", "certificate"}
	acceptKeywords = []string{"passport", "license", "id", "national"}
)

// FallbackVerdict classifies by filename keywords alone. It is deterministic
// and fail-closed: a filename with no recognized keyword is rejected rather
// than waved through.
func FallbackVerdict(fileName string) Verdict {
	name := strings.ToLower(fileName)
	for _, kw := range rejectKeywords {
		if strings.Contains(name, kw) {
			return Verdict{
				DocTypeGuess: Reject,
				Notes:        "filename suggests a non-identity document (" + kw + ")",
				Method:       MethodFallback,
			}
		}
	}
	for _, kw := range acceptKeywords {
		if strings.Contains(name, kw) {
			return Verdict{
				DocTypeGuess: "government_id",
				Notes:        "filename keyword match (" + kw + ")",
				Method:       MethodFallback,
			}
		}
	}
	return Verdict{
		DocTypeGuess: Reject,
		Notes:        "document type could not be determined from filename",
		Method:       MethodFallback,
	}
}
