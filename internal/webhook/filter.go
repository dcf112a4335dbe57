package webhook

import "regexp"

// BranchFilter decides which pushed branches are deployed.
// A nil pattern allows every branch.
type BranchFilter struct {
	pattern *regexp.Regexp
}

func NewBranchFilter(pattern *regexp.Regexp) *BranchFilter {
	return &BranchFilter{pattern: pattern}
}

func (f *BranchFilter) Allowed(branch string) bool {
	if f == nil || f.pattern == nil {
		return true
	}
	return f.pattern.MatchString(branch)
}

func (f *BranchFilter) String() string {
	if f == nil || f.pattern == nil {
		return ".*"
	}
	return f.pattern.String()
}
