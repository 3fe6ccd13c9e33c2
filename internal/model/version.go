package model

// ClosestVersion picks the candidate version closest to want: the nearest
// registered version at or above want and the nearest at or below are compared
// by longest common prefix with want, ties broken by the distance of the first
// differing character. Candidates are compared as plain strings. Returns false
// when candidates is empty.
func ClosestVersion(want string, candidates []string) (string, bool) {
	var lower, upper string
	var hasLower, hasUpper bool
	for _, c := range candidates {
		if c >= want && (!hasUpper || c < upper) {
			upper, hasUpper = c, true
		}
		if c <= want && (!hasLower || c > lower) {
			lower, hasLower = c, true
		}
	}
	switch {
	case !hasLower && !hasUpper:
		return "", false
	case !hasLower:
		return upper, true
	case !hasUpper:
		return lower, true
	}
	if firstCloser(want, lower, upper) {
		return lower, true
	}
	return upper, true
}

func firstCloser(want, first, second string) bool {
	l1 := commonPrefixLen(want, first)
	l2 := commonPrefixLen(want, second)
	if l1 != l2 {
		return l1 > l2
	}
	if l1 == 0 {
		return false
	}
	return absDiff(charAt(want, l1), charAt(first, l1)) < absDiff(charAt(want, l2), charAt(second, l2))
}

func commonPrefixLen(a, b string) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

func charAt(s string, i int) int {
	if i < len(s) {
		return int(s[i])
	}
	return 0
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
