package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBadRequest(t *testing.T) {
	err := NewBadRequest("invalid format %q", "avi")

	assert.True(t, Is(err, ErrBadRequest))
	assert.Contains(t, err.Error(), `invalid format "avi"`)
	assert.True(t, IsAdmissionError(err))
}

func TestIsAdmissionError(t *testing.T) {
	assert.True(t, IsAdmissionError(Wrap(ErrRateLimited, "client 1.2.3.4")))
	assert.True(t, IsAdmissionError(Wrapf(ErrConflict, "token %s", "t")))
	assert.False(t, IsAdmissionError(ErrForbidden))
	assert.False(t, IsAdmissionError(ErrNotFound))
	assert.False(t, IsAdmissionError(nil))
}

func TestWrappedSentinelsStayDistinct(t *testing.T) {
	err := Wrap(ErrGone, "token expired during wait")

	assert.True(t, Is(err, ErrGone))
	assert.False(t, Is(err, ErrNotFound))
}
