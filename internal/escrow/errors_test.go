package escrow

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/exchange"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/host"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{errNotManager, KindAccessDenied},
		{errNotActive, KindInvalidState},
		{errStillActive, KindTimingViolation},
		{errClosed, KindAlreadyFinalized},
		{fail(ErrNotFound, "agreement 7"), KindNotFound},
		{fail(ErrInvalidArgument, "bad"), KindInvalidArgument},
		{fmt.Errorf("wrapped: %w", fail(ErrInsufficientResource, "short")), KindInsufficientResource},
		{host.ErrReentrantCall, KindInvalidState},
		{classifySwap(exchange.ErrExpired), KindTimingViolation},
		{classifySwap(exchange.ErrNoPair), KindInvalidArgument},
		{errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), "%v", tt.err)
	}
}

func TestNotFoundIsInvalidArgument(t *testing.T) {
	assert.ErrorIs(t, fail(ErrNotFound, "mandate 3"), ErrInvalidArgument)
}
