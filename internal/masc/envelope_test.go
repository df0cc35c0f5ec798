package masc

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFailEnvelopeCarriesTaxonomyFields(t *testing.T) {
	now := time.Now()
	env := Fail(NotFound("task", "t1"), now)
	assert.False(t, env.Success)
	assert.Equal(t, CodeNotFound, env.Code)
	assert.NotEmpty(t, env.RecoveryHints)
}

func TestFailEnvelopeFallsBackForPlainErrors(t *testing.T) {
	env := Fail(errors.New("boom"), time.Now())
	assert.Equal(t, CodeIoError, env.Code)
	assert.Equal(t, "boom", env.Message)
}

func TestOkEnvelopeIsSuccess(t *testing.T) {
	env := Ok(time.Now())
	assert.True(t, env.Success)
}
