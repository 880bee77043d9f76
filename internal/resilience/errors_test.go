package resilience

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("no such table: annotations"), false},
		{"marked", Transient("arrayexpress", errors.New("boom")), true},
		{"marked and wrapped", eris.Wrap(Transient("gwas", errors.New("boom")), "read page"), true},
		{"connection reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"postgres overloaded", errors.New("FATAL: sorry, too many clients already"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestTransient(t *testing.T) {
	assert.NoError(t, Transient("x", nil))

	inner := errors.New("locked")
	err := Transient("arrayexpress", inner)
	assert.Equal(t, "arrayexpress: locked", err.Error())
	assert.ErrorIs(t, err, inner)

	assert.Equal(t, "locked", (&TransientError{Err: inner}).Error())
}
