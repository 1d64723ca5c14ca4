// internal/schema/validator_test.go
package schema

import (
	"strings"
	"testing"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func TestValidateIngestRequest(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"payload only", `{"payload":"https://v.example/dl/abc"}`, false},
		{"all fields", `{"payload":"x","brand":"photoism","takenAt":"2025-08-01T12:00:00Z"}`, false},
		{"missing payload", `{"brand":"photoism"}`, true},
		{"empty payload", `{"payload":""}`, true},
		{"payload too long", `{"payload":"` + strings.Repeat("a", 5000) + `"}`, true},
		{"unknown field", `{"payload":"x","extra":1}`, true},
		{"bad takenAt", `{"payload":"x","takenAt":"yesterday"}`, true},
		{"not an object", `["payload"]`, true},
		{"broken JSON", `{"payload":`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateIngestRequest([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIngestRequest(%s) error = %v, wantErr %v", tt.body, err, tt.wantErr)
			}
		})
	}
}

func TestValidateListQuery(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"empty query", `{}`, false},
		{"limit and cursor", `{"limit":50,"cursor":"eyJ9"}`, false},
		{"limit too small", `{"limit":0}`, true},
		{"limit too large", `{"limit":101}`, true},
		{"limit not integer", `{"limit":"fifty"}`, true},
		{"oversized cursor", `{"cursor":"` + strings.Repeat("a", 600) + `"}`, true},
		{"unknown field", `{"offset":10}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateListQuery([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateListQuery(%s) error = %v, wantErr %v", tt.body, err, tt.wantErr)
			}
		})
	}
}

func TestValidationErrorIsDescriptive(t *testing.T) {
	v := newValidator(t)

	err := v.ValidateIngestRequest([]byte(`{"brand":"photoism"}`))
	if err == nil {
		t.Fatal("expected a validation error")
	}
	if !strings.Contains(err.Error(), "payload") {
		t.Errorf("error %q does not name the missing field", err.Error())
	}
}
