package failure

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name            string
		err             error
		wantKind        Kind
		wantCode        string
		wantRecoverable bool
	}{
		{
			name:     "row count mismatch",
			err:      Newf(Integrity, CodeRowCount, "route recorded %d staged %d", 3, 2),
			wantKind: Integrity,
			wantCode: CodeRowCount,
		},
		{
			name:            "wrapped matching failure",
			err:             fmt.Errorf("trip a: %w", New(Matching, CodeTripNotFound, sql.ErrNoRows)),
			wantKind:        Matching,
			wantCode:        CodeTripNotFound,
			wantRecoverable: true,
		},
		{
			name:            "partial persistence failure",
			err:             Newf(Persistence, CodeFixPersist, "1 of 3 fixes"),
			wantKind:        Persistence,
			wantCode:        CodeFixPersist,
			wantRecoverable: true,
		},
		{
			name:     "unclassified",
			err:      errors.New("connection reset"),
			wantKind: Infrastructure,
			wantCode: CodeStorage,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, code := Classify(tt.err)
			if kind != tt.wantKind || code != tt.wantCode {
				t.Errorf("Classify() = %s/%s, want %s/%s", kind, code, tt.wantKind, tt.wantCode)
			}
			if got := IsRecoverable(tt.err); got != tt.wantRecoverable {
				t.Errorf("IsRecoverable() = %v, want %v", got, tt.wantRecoverable)
			}
			recoverable, code := Disposition(tt.err)
			if recoverable != tt.wantRecoverable || code != tt.wantCode {
				t.Errorf("Disposition() = %v/%s, want %v/%s", recoverable, code, tt.wantRecoverable, tt.wantCode)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	err := New(Matching, CodeTripNotFound, sql.ErrNoRows)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("errors.Is(%v, sql.ErrNoRows) = false", err)
	}
	if err.Error() != "matching failure (trip_not_found): sql: no rows in result set" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !IsRecoverable(nil) {
		t.Error("IsRecoverable(nil) = false")
	}
}
