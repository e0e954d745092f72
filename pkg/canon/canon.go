// Package canon canonicalizes free-form text into the case numbers
// ZipCase keys everything on: YYAA######-CCC (two-digit year, two
// letter case class, six digit sequence, three digit county code).
// It has no third-party dependencies — canonicalization is pure text
// transformation over a couple of fixed regular expressions, and no
// library in the corpus specializes in this kind of normalization.
package canon

import (
	"regexp"
	"strings"
)

// canonicalPattern matches an already-canonical case number anywhere
// in text, case-insensitively.
var canonicalPattern = regexp.MustCompile(`\d{2}[A-Za-z]{2}\d{6}-\d{3}`)

// lexisNexisPattern matches the "Lexis-Nexis" layout:
// <county:3><century:2><year:2><caseType:2>?<separator>?<caseNo:6>
var lexisNexisPattern = regexp.MustCompile(`(\d{3})(\d{2})(\d{2})([A-Za-z]{2})?\s?S?(\d{6})`)

const defaultCaseType = "CR"

// Canonicalize extracts every case number referenced in text, in
// order of appearance, rewritten to the canonical YYAA######-CCC form
// and uppercased. Duplicates are preserved — the coordinator is
// responsible for deduplication. Canonicalize is idempotent:
// Canonicalize(Canonicalize(x)) always equals Canonicalize(x).
func Canonicalize(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}

	normalized := normalizeLexisNexis(input)

	matches := canonicalPattern.FindAllString(normalized, -1)
	results := make([]string, len(matches))
	for i, m := range matches {
		results[i] = strings.ToUpper(m)
	}
	return results
}

// normalizeLexisNexis rewrites any Lexis-Nexis-layout substrings into
// the canonical form so the subsequent extraction pass can find them.
// Text outside of matches (including already-canonical numbers) is
// left untouched.
func normalizeLexisNexis(input string) string {
	return lexisNexisPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := lexisNexisPattern.FindStringSubmatch(match)
		if groups == nil {
			return match
		}
		county := groups[1]
		year := groups[3]
		caseType := strings.ToUpper(groups[4])
		caseNo := groups[5]

		if caseType == "" {
			caseType = defaultCaseType
		}

		return year + caseType + caseNo + "-" + county
	})
}
