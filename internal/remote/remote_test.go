package remote_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"go.mergers.dev/mergers/internal/remote"
)

func TestErrors_Error(t *testing.T) {
	tests := []struct {
		name string
		give error
		want string
	}{
		{"Unauthorized", &remote.Unauthorized{}, "remote: unauthorized"},
		{"UnauthorizedWithMessage", &remote.Unauthorized{Message: "bad token"}, "remote: unauthorized: bad token"},
		{"NotFound", &remote.NotFound{Resource: "pr/42"}, "remote: not found: pr/42"},
		{"RateLimited", &remote.RateLimited{RetryAfterSeconds: 30}, "remote: rate limited, retry after 30s"},
		{"RequestFailed", &remote.RequestFailed{Status: 500, Message: "boom"}, "remote: request failed (status 500): boom"},
		{"NoMergeCommit", &remote.NoMergeCommit{PRID: 7}, "remote: pr 7 has no merge commit"},
		{
			"PaginationLimitExceeded",
			&remote.PaginationLimitExceeded{Max: 100, Retrieved: 9876},
			"remote: pagination limit of 100 requests exceeded (retrieved 9876)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.EqualError(t, tt.give, tt.want)
		})
	}
}

func TestParseError_Unwrap(t *testing.T) {
	inner := assert.AnError
	err := &remote.ParseError{Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "remote: parse error: "+inner.Error(), err.Error())
}
