package validation

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// ErrCityEmpty is returned when city is empty or whitespace-only after trim.
var ErrCityEmpty = errors.New("city is required")

// ErrCityTooLong is returned when city length exceeds the maximum.
var ErrCityTooLong = errors.New("city too long")

// ErrCityInvalidChars is returned when city contains disallowed characters.
var ErrCityInvalidChars = errors.New("city contains invalid characters")

// ErrBadPagination is returned when page or limit is non-numeric or non-positive.
var ErrBadPagination = errors.New("page and limit must be positive integers")

// ValidateCity trims the input, enforces the length bound (maxLen in runes),
// and restricts to allowed characters: letters (Unicode), digits, space, comma,
// hyphen, apostrophe, period. Returns the trimmed string or an error suitable
// for 400 INVALID_CITY responses. Case is preserved; the store is
// case-sensitive on write and case-insensitive on query.
func ValidateCity(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrCityEmpty
	}
	if maxLen > 0 && len(r) > maxLen {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

// isAllowedCityRune returns true for letters (Unicode), digits, space, comma,
// hyphen, apostrophe, period.
func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '\'', '.':
		return true
	}
	return false
}

// MaxLimit caps the page size; larger requested limits are clamped, not
// rejected.
const MaxLimit = 100

// Pagination holds validated 1-based page parameters for history queries.
type Pagination struct {
	Page  int
	Limit int
}

// Offset returns the zero-based record offset for the page. Saturates at
// math.MaxInt32 so an absurd parseable page cannot overflow into a negative
// offset; such a page stays past the end of any result set.
func (p Pagination) Offset() int {
	page := int64(p.Page) - 1
	if page > math.MaxInt32 {
		page = math.MaxInt32
	}
	off := page * int64(p.Limit)
	if off > math.MaxInt32 {
		off = math.MaxInt32
	}
	return int(off)
}

// ParsePagination parses page and limit query values. Empty strings take the
// defaults (page 1, the given defaultLimit). Non-numeric or non-positive
// values return ErrBadPagination; limits above MaxLimit are clamped. A
// non-existent page is not an error here, it simply yields an empty result
// downstream.
func ParsePagination(pageStr, limitStr string, defaultLimit int) (Pagination, error) {
	p := Pagination{Page: 1, Limit: defaultLimit}

	if s := strings.TrimSpace(pageStr); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return Pagination{}, ErrBadPagination
		}
		p.Page = n
	}
	if s := strings.TrimSpace(limitStr); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return Pagination{}, ErrBadPagination
		}
		if n > MaxLimit {
			n = MaxLimit
		}
		p.Limit = n
	}
	return p, nil
}
