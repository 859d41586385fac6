// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package validation

import (
	"errors"
	"math"
	"strings"
	"testing"
)

type candidate struct {
	ID      string  `validate:"required"`
	Bid     float64 `validate:"gte=0,finite"`
	Quality float64 `validate:"gte=0,lte=1,finite"`
	Kind    string  `validate:"omitempty,oneof=content ad"`
	Name    string  `validate:"omitempty,max=8"`
}

func TestGetValidator_Singleton(t *testing.T) {
	v1 := GetValidator()
	v2 := GetValidator()

	if v1 != v2 {
		t.Error("GetValidator() should return the same singleton instance")
	}
	if v1 == nil {
		t.Error("GetValidator() should not return nil")
	}
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name    string
		input   candidate
		wantTag string
		wantMsg string
	}{
		{name: "valid", input: candidate{ID: "a", Bid: 1.5, Quality: 0.5}},
		{name: "missing id", input: candidate{Bid: 1}, wantTag: "required", wantMsg: "ID is required"},
		{name: "negative bid", input: candidate{ID: "a", Bid: -1}, wantTag: "gte", wantMsg: "Bid must be greater than or equal to 0"},
		{name: "quality above one", input: candidate{ID: "a", Quality: 1.2}, wantTag: "lte", wantMsg: "Quality must be less than or equal to 1"},
		{name: "nan quality", input: candidate{ID: "a", Quality: math.NaN()}, wantTag: "finite", wantMsg: "Quality must be a finite number"},
		{name: "infinite bid", input: candidate{ID: "a", Bid: math.Inf(1)}, wantTag: "finite", wantMsg: "Bid must be a finite number"},
		{name: "bad kind", input: candidate{ID: "a", Kind: "banner"}, wantTag: "oneof", wantMsg: "Kind must be one of: content ad"},
		{name: "long name", input: candidate{ID: "a", Name: "much-too-long"}, wantTag: "max", wantMsg: "Name must be at most 8 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.input)
			if tt.wantTag == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error")
			}
			errs := err.Errors()
			if len(errs) != 1 {
				t.Fatalf("expected 1 field error, got %d: %v", len(errs), err)
			}
			if errs[0].Tag() != tt.wantTag {
				t.Errorf("tag = %q, want %q", errs[0].Tag(), tt.wantTag)
			}
			if errs[0].Error() != tt.wantMsg {
				t.Errorf("message = %q, want %q", errs[0].Error(), tt.wantMsg)
			}
		})
	}
}

func TestValidateStruct_MultipleErrors(t *testing.T) {
	err := ValidateStruct(&candidate{Bid: -1, Quality: 2})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(err.Errors()) != 3 {
		t.Fatalf("expected 3 errors, got %d", len(err.Errors()))
	}
	if !strings.Contains(err.Error(), "; ") {
		t.Errorf("expected joined message, got %q", err.Error())
	}
}

func TestValidate_IsErrValidation(t *testing.T) {
	if err := Validate(&candidate{ID: "ok"}); err != nil {
		t.Fatalf("expected nil error interface, got %v", err)
	}
	err := Validate(&candidate{})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected errors.Is(err, ErrValidation), got %v", err)
	}
}

func TestValidateStruct_NonStruct(t *testing.T) {
	err := ValidateStruct("not a struct")
	if err == nil {
		t.Fatal("expected error for non-struct input")
	}
	if err.Errors()[0].Field() != "unknown" {
		t.Errorf("expected unknown field, got %q", err.Errors()[0].Field())
	}
}
