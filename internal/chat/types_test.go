package chat

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripPlaceholders(t *testing.T) {
	ts := Transcript{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: PlaceholderContent},
		{Role: RoleAssistant, Content: ""},
		{Role: "", Content: "orphan"},
		{Role: RoleAssistant, Content: "hello"},
	}

	got := ts.StripPlaceholders()
	assert.Equal(t, Transcript{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	}, got)

	// Original transcript is untouched.
	assert.Len(t, ts, 5)
}

func TestValidateRejectsUnknownRole(t *testing.T) {
	assert.NoError(t, Transcript{{Role: RoleUser, Content: "hi"}}.Validate())
	assert.Error(t, Transcript{{Role: "narrator", Content: "hi"}}.Validate())
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(NewError(ErrorInvalidInput, "bad", nil)))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(NewError(ErrorUpstreamAuth, "denied", nil)))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(NewError(ErrorUpstream, "down", nil)))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("plain")))
}

func TestReason(t *testing.T) {
	assert.Equal(t, "bad", Reason(NewError(ErrorInvalidInput, "bad", nil)))
	assert.Equal(t, "An unexpected server error occurred.", Reason(errors.New("x")))
}
