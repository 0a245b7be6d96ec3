package sql

import (
	"testing"
)

func TestCheckParameterForInjection(t *testing.T) {
	tests := []struct {
		name            string
		paramName       string
		value           any
		expectInjection bool
	}{
		{
			name:            "clean numeric string",
			paramName:       "customer_id",
			value:           "12345",
			expectInjection: false,
		},
		{
			name:            "clean email",
			paramName:       "email",
			value:           "user@example.com",
			expectInjection: false,
		},
		{
			name:            "clean date",
			paramName:       "start_date",
			value:           "2024-01-15",
			expectInjection: false,
		},
		{
			name:            "clean uuid",
			paramName:       "id",
			value:           "550e8400-e29b-41d4-a716-446655440000",
			expectInjection: false,
		},
		{
			name:            "integer is never scanned",
			paramName:       "limit",
			value:           100,
			expectInjection: false,
		},
		{
			name:            "bool is never scanned",
			paramName:       "active",
			value:           true,
			expectInjection: false,
		},
		{
			name:            "nil is never scanned",
			paramName:       "optional",
			value:           nil,
			expectInjection: false,
		},
		{
			name:            "classic quote injection",
			paramName:       "username",
			value:           "' OR '1'='1",
			expectInjection: true,
		},
		{
			name:            "drop table payload",
			paramName:       "search",
			value:           "'; DROP TABLE users--",
			expectInjection: true,
		},
		{
			name:            "union select payload",
			paramName:       "id",
			value:           "1 UNION SELECT * FROM passwords",
			expectInjection: true,
		},
		{
			name:            "comment termination payload",
			paramName:       "filter",
			value:           "admin'--",
			expectInjection: true,
		},
		{
			name:            "apostrophe in a name is not injection",
			paramName:       "name",
			value:           "O'Brien",
			expectInjection: false,
		},
		{
			name:            "empty string",
			paramName:       "filter",
			value:           "",
			expectInjection: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckParameterForInjection(tt.paramName, tt.value)

			if !tt.expectInjection {
				if result != nil {
					t.Errorf("expected clean value, got %+v", result)
				}
				return
			}

			if result == nil {
				t.Fatal("expected injection detection, got nil")
			}
			if !result.IsSQLi {
				t.Error("expected IsSQLi=true, got false")
			}
			if result.ParamName != tt.paramName {
				t.Errorf("ParamName = %q, want %q", result.ParamName, tt.paramName)
			}
			if result.Fingerprint == "" {
				t.Error("expected non-empty fingerprint")
			}
		})
	}
}

func TestCheckAllParameters(t *testing.T) {
	tests := []struct {
		name          string
		params        map[string]any
		expectFlagged []string
	}{
		{
			name: "all clean",
			params: map[string]any{
				"customer_id": "12345",
				"limit":       100,
				"email":       "user@example.com",
			},
			expectFlagged: nil,
		},
		{
			name: "one flagged among clean",
			params: map[string]any{
				"customer_id": "12345",
				"search":      "'; DROP TABLE users--",
				"limit":       100,
			},
			expectFlagged: []string{"search"},
		},
		{
			name: "two flagged",
			params: map[string]any{
				"username": "admin'--",
				"password": "' OR '1'='1",
				"email":    "user@example.com",
			},
			expectFlagged: []string{"username", "password"},
		},
		{
			name:          "empty map",
			params:        map[string]any{},
			expectFlagged: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := CheckAllParameters(tt.params)

			if len(results) != len(tt.expectFlagged) {
				t.Fatalf("got %d flagged parameters, want %d", len(results), len(tt.expectFlagged))
			}

			found := make(map[string]bool)
			for _, r := range results {
				found[r.ParamName] = true
			}
			for _, name := range tt.expectFlagged {
				if !found[name] {
					t.Errorf("expected parameter %q to be flagged", name)
				}
			}
		})
	}
}
