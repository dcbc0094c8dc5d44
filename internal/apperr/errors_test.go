package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validation("content required"), 400},
		{"authorization", Forbidden("not a participant"), 403},
		{"not found", NotFound("conversation not found"), 404},
		{"conflict", Conflict("already a member"), 409},
		{"internal", Internal("insert message", errors.New("socket closed")), 500},
		{"plain error", errors.New("boom"), 500},
		{"wrapped", fmt.Errorf("send: %w", Forbidden("no")), 403},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, HTTPStatus(tc.err))
		})
	}
}

func TestKindOfSeesThroughWrapping(t *testing.T) {
	req := require.New(t)
	cause := errors.New("socket closed")
	err := fmt.Errorf("edit: %w", Internal("insert message", cause))

	req.Equal(KindInternal, KindOf(err))
	req.ErrorIs(err, cause)
	req.Equal(KindConflict, KindOf(fmt.Errorf("edit: %w", Conflict("message already seen"))))
}

func TestMessageHidesInternalCause(t *testing.T) {
	req := require.New(t)

	req.Equal("internal error", Message(Internal("find", errors.New("mongo: connection refused"))))
	req.Equal("content required", Message(Validation("content required")))
	req.Nil(Internal("noop", nil))
}
