package wspool

import (
	"errors"
	"fmt"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
)

func TestErrorCodeHelpers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"conn busy", oops.Code(CodeConnBusy).Errorf("x"), IsConnBusy},
		{"conn unavailable", oops.Code(CodeConnUnavailable).Errorf("x"), IsConnUnavailable},
		{"conn closed", oops.Code(CodeConnClosed).Errorf("x"), IsConnClosed},
		{"pool exhausted", oops.Code(CodePoolExhausted).Errorf("x"), IsPoolExhausted},
		{"pool unavailable", oops.Code(CodePoolUnavailable).Errorf("x"), IsPoolUnavailable},
		{"receive timeout", oops.Code(CodeReceiveTimeout).Errorf("x"), IsReceiveTimeout},
	}

	allChecks := []func(error) bool{
		IsConnBusy, IsConnUnavailable, IsConnClosed,
		IsPoolExhausted, IsPoolUnavailable, IsReceiveTimeout,
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))

			// Exactly one helper matches each coded error.
			matches := 0
			for _, check := range allChecks {
				if check(tt.err) {
					matches++
				}
			}
			assert.Equal(t, 1, matches)
		})
	}
}

func TestErrorCodeSurvivesWrapping(t *testing.T) {
	base := oops.Code(CodePoolExhausted).In("wspool").Errorf("at capacity")
	wrapped := fmt.Errorf("acquire failed: %w", base)

	assert.True(t, IsPoolExhausted(wrapped))
	assert.False(t, IsPoolUnavailable(wrapped))
}

func TestErrCodeUncodedErrors(t *testing.T) {
	assert.Equal(t, "", errCode(nil))
	assert.Equal(t, "", errCode(errors.New("plain")))
	assert.False(t, IsConnClosed(errors.New("plain")))
}
