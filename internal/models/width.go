package models

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	DefaultWidth = 500
	MinWidth     = 100
	MaxWidth     = 1024
)

// WidthError is returned for a width outside the accepted range or not a number.
type WidthError struct {
	Min, Max int
}

func (e *WidthError) Error() string {
	return fmt.Sprintf("width should be a value between %d and %d", e.Min, e.Max)
}

// ParseWidth validates a raw width parameter against [min, max]. An empty value
// yields def.
func ParseWidth(raw string, def, min, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	w, err := strconv.Atoi(raw)
	if err != nil || w < min || w > max {
		return 0, &WidthError{Min: min, Max: max}
	}
	return w, nil
}
