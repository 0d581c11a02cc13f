package validator

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

func Required(field, value string) Rule {
	return Rule{
		Check: func() bool { return strings.TrimSpace(value) != "" },
		Error: ValidationError{Field: field, Message: "is required"},
	}
}

func MaxLen(field, value string, max int) Rule {
	return Rule{
		Check: func() bool { return utf8.RuneCountInString(value) <= max },
		Error: ValidationError{Field: field, Message: fmt.Sprintf("must be at most %d characters", max)},
	}
}

func MatchesRegex(field, value string, re *regexp.Regexp, description string) Rule {
	return Rule{
		Check: func() bool { return value == "" || re.MatchString(value) },
		Error: ValidationError{Field: field, Message: "must be " + description},
	}
}

// Between checks min <= value <= max. NaN never passes.
func Between[T Numeric](field string, value, min, max T) Rule {
	return Rule{
		Check: func() bool {
			if math.IsNaN(float64(value)) {
				return false
			}
			return value >= min && value <= max
		},
		Error: ValidationError{Field: field, Message: fmt.Sprintf("must be between %v and %v", min, max)},
	}
}

// BetweenExclusive checks min < value < max.
func BetweenExclusive[T Numeric](field string, value, min, max T) Rule {
	return Rule{
		Check: func() bool { return value > min && value < max },
		Error: ValidationError{Field: field, Message: fmt.Sprintf("must be greater than %v and less than %v", min, max)},
	}
}

func RequiredSlice[T any](field string, value []T) Rule {
	return Rule{
		Check: func() bool { return len(value) > 0 },
		Error: ValidationError{Field: field, Message: "must not be empty"},
	}
}

// Unique checks that no two values are equal.
func Unique[T comparable](field string, values []T) Rule {
	return Rule{
		Check: func() bool {
			seen := make(map[T]struct{}, len(values))
			for _, v := range values {
				if _, ok := seen[v]; ok {
					return false
				}
				seen[v] = struct{}{}
			}
			return true
		},
		Error: ValidationError{Field: field, Message: "must be unique"},
	}
}

func InList[T comparable](field string, value T, allowed []T) Rule {
	return Rule{
		Check: func() bool {
			for _, a := range allowed {
				if value == a {
					return true
				}
			}
			return false
		},
		Error: ValidationError{Field: field, Message: fmt.Sprintf("must be one of: %v", allowed)},
	}
}

// Check wraps an already computed condition.
func Check(field string, ok bool, message string) Rule {
	return Rule{
		Check: func() bool { return ok },
		Error: ValidationError{Field: field, Message: message},
	}
}
