package limits

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateFrameSize(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		max     int
		wantErr error
	}{
		{"empty", 0, 10, ErrFrameEmpty},
		{"negative", -1, 10, ErrFrameEmpty},
		{"at limit", 10, 10, nil},
		{"over limit", 11, 10, ErrFrameTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFrameSize(tt.size, tt.max)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateFrameSize(%d, %d) = %v, want nil", tt.size, tt.max, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateFrameSize(%d, %d) = %v, want %v", tt.size, tt.max, err, tt.wantErr)
			}
		})
	}
}

// TestValidateFrameErrorContext verifies size details are included in the error
func TestValidateFrameErrorContext(t *testing.T) {
	err := ValidateFrame(make([]byte, MaxFrameSize+1))
	if err == nil {
		t.Fatal("expected error for oversized frame")
	}
	if !strings.Contains(err.Error(), "exceeds limit") {
		t.Errorf("error lacks size context: %v", err)
	}
}

func TestValidatePeerName(t *testing.T) {
	if err := ValidatePeerName("alice"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidatePeerName(strings.Repeat("a", MaxPeerNameLength+1)); !errors.Is(err, ErrNameTooLong) {
		t.Errorf("expected ErrNameTooLong, got %v", err)
	}
}
