// Package matching implements the 3-way matching engine (C4, spec §4.4):
// candidate selection, weighted composite scoring, three-way classification,
// the decision policy, and the hash-chained audit trail.
package matching

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// normalizeReference folds case, strips every non-alphanumeric character,
// and trims the leading zeros of each digit run so that superficially different reference strings
// ("PO-00042", "po 42", "PO#0042") compare as near-identical, per spec
// §4.4.3's reference-normalization rule.
func normalizeReference(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	runes := []rune(b.String())
	// Trimming leading zeros goes beyond the literal normalization rule
	// (strip non-alphanumerics, uppercase) — "PO-0042" and "PO-42" would
	// otherwise compare as different strings despite naming the same PO.
	// Harmless since it's applied identically on both sides of every
	// comparison, but worth knowing if a reference format is ever found
	// where leading zeros are meaningful.
	var out strings.Builder
	runStart := true // no non-zero digit seen yet in the current digit run
	for i, r := range runes {
		if !unicode.IsDigit(r) {
			runStart = true
		} else if r == '0' && runStart && i+1 < len(runes) && unicode.IsDigit(runes[i+1]) {
			continue
		} else {
			runStart = false
		}
		out.WriteRune(r)
	}
	return out.String()
}

// ocrSubstitutions are the visually-confusable character pairs named for
// the bounded OCR-error-tolerant reference match (0/O, 1/I/l, 5/S, 6/G,
// 8/B, 2/Z).
var ocrSubstitutions = map[rune][]rune{
	'0': {'O'}, 'O': {'0'},
	'1': {'I', 'L'}, 'I': {'1', 'L'}, 'L': {'1', 'I'},
	'5': {'S'}, 'S': {'5'},
	'6': {'G'}, 'G': {'6'},
	'8': {'B'}, 'B': {'8'},
	'2': {'Z'}, 'Z': {'2'},
}

// ocrMatchCache memoizes the bounded OCR-substitution search keyed on
// (candidate string, remaining substitution budget) so a batch match run
// scoring many candidates against the same invoice reference does not
// repeat identical subtrees of the search.
type ocrMatchCache struct {
	memo map[string]float64
}

func newOCRMatchCache() *ocrMatchCache {
	return &ocrMatchCache{memo: make(map[string]float64)}
}

// referenceSimilarity returns the best achievable Levenshtein ratio between
// a and target, searching up to maxSubs single-character OCR-confusable
// substitutions of a (§4.4.3/§4.4.4: {0↔O, 1↔I↔l, 5↔S, 6↔G, 8↔B, 2↔Z}, k=3).
// It is the caller's responsibility to have already checked for an exact
// normalized match (score 1.0) before calling this.
func (c *ocrMatchCache) referenceSimilarity(a, target string, maxSubs int) float64 {
	return c.search(a, target, maxSubs)
}

func (c *ocrMatchCache) search(a, target string, budget int) float64 {
	key := a + "|" + target + "|" + strconv.Itoa(budget)
	if v, ok := c.memo[key]; ok {
		return v
	}

	best := levenshteinRatio(a, target)
	if budget > 0 {
		ra := []rune(a)
		for i, r := range ra {
			subs, ok := ocrSubstitutions[r]
			if !ok {
				continue
			}
			for _, s := range subs {
				variant := make([]rune, len(ra))
				copy(variant, ra)
				variant[i] = s
				if r := c.search(string(variant), target, budget-1); r > best {
					best = r
				}
			}
		}
	}

	c.memo[key] = best
	return best
}

// levenshteinRatio returns a [0,1] similarity score: 1 - edit_distance/max_len.
func levenshteinRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

// jaroWinkler computes the Jaro-Winkler similarity of two strings, used for
// vendor-name comparison where transpositions (common in OCR'd vendor
// names) should be penalized less harshly than in edit-distance metrics.
func jaroWinkler(a, b string) float64 {
	jaro := jaroSimilarity(a, b)
	if jaro == 0 {
		return 0
	}
	prefix := 0
	maxPrefix := 4
	for i := 0; i < len(a) && i < len(b) && i < maxPrefix; i++ {
		if a[i] != b[i] {
			break
		}
		prefix++
	}
	const scalingFactor = 0.1
	return jaro + float64(prefix)*scalingFactor*(1-jaro)
}

func jaroSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0
	}

	matchDistance := la/2 - 1
	if lb/2-1 > matchDistance {
		matchDistance = lb / 2 - 1
	}
	if matchDistance < 0 {
		matchDistance = 0
	}

	aMatches := make([]bool, la)
	bMatches := make([]bool, lb)

	matches := 0
	for i := 0; i < la; i++ {
		start := i - matchDistance
		if start < 0 {
			start = 0
		}
		end := i + matchDistance + 1
		if end > lb {
			end = lb
		}
		for j := start; j < end; j++ {
			if bMatches[j] || a[i] != b[j] {
				continue
			}
			aMatches[i] = true
			bMatches[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0
	}

	transpositions := 0
	k := 0
	for i := 0; i < la; i++ {
		if !aMatches[i] {
			continue
		}
		for !bMatches[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}
	transpositions /= 2

	m := float64(matches)
	return (m/float64(la) + m/float64(lb) + (m-float64(transpositions))/m) / 3
}

// corporateSuffixes is the fixed list of trailing entity-type words dropped
// during vendor-name normalization.
var corporateSuffixes = map[string]bool{
	"inc": true, "llc": true, "corp": true, "ltd": true,
	"co": true, "company": true, "corporation": true,
}

// normalizeVendorForMatching is the matching-time comparative transform
// named in pkg/models/vendor.go's doc comment: it is distinct from the
// persisted Vendor.NormalizedName field and exists purely to improve
// fuzzy-comparison quality. It lowercases, strips punctuation (keeping
// apostrophes), collapses whitespace, and drops a trailing corporate
// suffix word.
func normalizeVendorForMatching(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '\'':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	fields := strings.Fields(b.String())
	if n := len(fields); n > 1 && corporateSuffixes[fields[n-1]] {
		fields = fields[:n-1]
	}
	return strings.Join(fields, " ")
}
