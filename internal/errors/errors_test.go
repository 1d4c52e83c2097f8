package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"usage", Usagef("missing pattern"), ExitUsage},
		{"ssh", fmt.Errorf("lookup: %w", ErrSSHNotFound), ExitSSHNotFound},
		{"multiple", ErrMultipleHosts, ExitMultipleHosts},
		{"partial", fmt.Errorf("2/5 hosts failed: %w", ErrPartialFailure), ExitPartialFailure},
		{"interrupt", fmt.Errorf("%w: %w", ErrInterrupted, context.Canceled), ExitInterrupted},
		{"failure", ErrFailure, ExitFailure},
		{"other", New("boom"), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestClassifyError(t *testing.T) {
	assert.Nil(t, ClassifyError(nil))
	assert.Equal(t, AuthenticationErrorType, ClassifyError(New("ssh: unable to authenticate, attempted methods [none publickey]")).Type)
	assert.Equal(t, TimeoutErrorType, ClassifyError(New("dial tcp 10.0.0.1:22: i/o timeout")).Type)
	assert.Equal(t, ConnectionErrorType, ClassifyError(New("dial tcp: connection refused")).Type)
	assert.Equal(t, ExecutionErrorType, ClassifyError(New("Process exited with status 3")).Type)
	assert.Equal(t, UnknownErrorType, ClassifyError(New("weird")).Type)
}

func TestErrorCollector(t *testing.T) {
	ec := NewErrorCollector()
	assert.Equal(t, "no errors", ec.Summary())

	ec.Add(nil)
	ec.Add(New("connection refused"))
	ec.Add(New("i/o timeout"))
	ec.Add(&ClassifiedError{Type: ExecutionErrorType, Original: New("x")})

	assert.Equal(t, 3, ec.Count())
	assert.Equal(t, 1, ec.CountByType(ExecutionErrorType))
	assert.Equal(t, "total: 3 errors (1 connection, 1 timeout, 1 execution)", ec.Summary())
}
