package cache

import (
	"errors"
	"testing"
)

func TestCategoryFromLabels(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   Category
	}{
		{"personal maps to primary", []string{"INBOX", "CATEGORY_PERSONAL"}, CategoryPrimary},
		{"social", []string{"CATEGORY_SOCIAL"}, CategorySocial},
		{"promotions", []string{"UNREAD", "CATEGORY_PROMOTIONS", "INBOX"}, CategoryPromotions},
		{"updates", []string{"CATEGORY_UPDATES"}, CategoryUpdates},
		{"forums", []string{"CATEGORY_FORUMS"}, CategoryForums},
		{"no category label", []string{"INBOX", "STARRED"}, CategoryUnknown},
		{"empty labels", nil, CategoryUnknown},
		{"unrecognized category label", []string{"CATEGORY_SOMETHING_NEW"}, CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategoryFromLabels(tt.labels); got != tt.want {
				t.Errorf("CategoryFromLabels(%v) = %s, want %s", tt.labels, got, tt.want)
			}
		})
	}
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in   string
		want Category
		ok   bool
	}{
		{"promotions", CategoryPromotions, true},
		{"Promotions", CategoryPromotions, true},
		{"  SOCIAL  ", CategorySocial, true},
		{"primary", CategoryPrimary, true},
		{"unknown", CategoryUnknown, true},
		{"all", CategoryAll, true},
		{"", CategoryAll, true},
		{"spam", "", false},
		{"promo", "", false},
	}

	for _, tt := range tests {
		t.Run("input "+tt.in, func(t *testing.T) {
			got, ok := ParseCategory(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseCategory(%q) = (%s, %v), want (%s, %v)", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestRecordValidate(t *testing.T) {
	if err := (Record{ID: "abc"}).Validate(); err != nil {
		t.Errorf("valid record rejected: %v", err)
	}
	if err := (Record{}).Validate(); !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID for empty id, got %v", err)
	}
	if err := (Record{ID: "   "}).Validate(); !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID for whitespace id, got %v", err)
	}
}
