package rules

import (
	"fmt"
	"regexp"

	"github.com/brackish/memoflow/service/db"
)

// Pattern matches memos on their structured memo fields. Each field is an
// optional regular expression; a nil field matches anything, while a non-nil
// field requires the memo to carry that field and match it.
type Pattern struct {
	MemoType   *regexp.Regexp
	MemoFormat *regexp.Regexp
	MemoData   *regexp.Regexp
}

// CompilePattern compiles the given expressions into a Pattern. Empty strings
// are treated as absent fields.
func CompilePattern(memoType, memoFormat, memoData string) (Pattern, error) {
	var p Pattern
	var err error

	if memoType != "" {
		if p.MemoType, err = regexp.Compile(memoType); err != nil {
			return Pattern{}, fmt.Errorf("invalid memo_type pattern %q: %w", memoType, err)
		}
	}
	if memoFormat != "" {
		if p.MemoFormat, err = regexp.Compile(memoFormat); err != nil {
			return Pattern{}, fmt.Errorf("invalid memo_format pattern %q: %w", memoFormat, err)
		}
	}
	if memoData != "" {
		if p.MemoData, err = regexp.Compile(memoData); err != nil {
			return Pattern{}, fmt.Errorf("invalid memo_data pattern %q: %w", memoData, err)
		}
	}
	return p, nil
}

// Matches reports whether the memo's fields satisfy the pattern.
func (p Pattern) Matches(memo *db.Memo) bool {
	if !fieldMatches(p.MemoType, memo.MemoType) {
		return false
	}
	if !fieldMatches(p.MemoFormat, memo.MemoFormat) {
		return false
	}
	return fieldMatches(p.MemoData, memo.MemoData)
}

func fieldMatches(re *regexp.Regexp, value *string) bool {
	if re == nil {
		return true
	}
	if value == nil {
		return false
	}
	return re.MatchString(*value)
}
