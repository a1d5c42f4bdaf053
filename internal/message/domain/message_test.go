package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateBody(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"ok", "hello", nil},
		{"empty", "", ErrEmptyBody},
		{"blank", "  \n\t", ErrEmptyBody},
		{"max length", strings.Repeat("a", MaxBodyLength), nil},
		{"too long", strings.Repeat("a", MaxBodyLength+1), ErrBodyTooLong},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := ValidateBody(tc.body); !errors.Is(err, tc.want) {
				t.Errorf("ValidateBody = %v, want %v", err, tc.want)
			}
		})
	}
}
