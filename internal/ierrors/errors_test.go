package ierrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	err := New(ErrCodeCorruptIndex, "index header truncated", nil)
	assert.Equal(t, CategoryPersistent, err.Category)
	assert.Equal(t, SeverityFatal, err.Severity)
	assert.True(t, IsFatal(err))
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(ErrCodeSegmentWrite, cause)
	require.NotNil(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause, err.Unwrap())
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestError_IsMatchesByCode(t *testing.T) {
	a := New(ErrCodeImageNotFound, "no such image", nil)
	b := New(ErrCodeImageNotFound, "different message", nil)
	c := New(ErrCodeDuplicateHash, "dup", nil)
	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestWithDetail_Chains(t *testing.T) {
	err := New(ErrCodeBadRequest, "bad nprobe", nil).
		WithDetail("field", "nprobe").
		WithDetail("value", "-1")
	assert.Equal(t, "nprobe", err.Details["field"])
	assert.Equal(t, "-1", err.Details["value"])
}

func TestGetCode_NonAmanError(t *testing.T) {
	assert.Equal(t, "", GetCode(errors.New("plain")))
	assert.Equal(t, Category(""), GetCategory(errors.New("plain")))
}
