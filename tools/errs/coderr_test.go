package errs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesOnCodeAcrossWrapping(t *testing.T) {
	err := ErrNotFound.WrapMsg("user", "id", "u1")
	assert.True(t, ErrNotFound.Is(err))
	assert.False(t, ErrForbidden.Is(err))

	// survives another layer of wrapping
	wrapped := WrapMsg(err, "while handling auth")
	assert.True(t, ErrNotFound.Is(wrapped))
}

func TestWrapMsgKeepsSentinelUntouched(t *testing.T) {
	_ = ErrValidation.WrapMsg("first", "k", "v")
	_ = ErrValidation.WrapMsg("second")
	assert.Empty(t, ErrValidation.Detail, "sentinels must not accumulate detail")
}

func TestCodeOf(t *testing.T) {
	ce := CodeOf(ErrStoreUnavailable.WrapMsg("append"))
	assert.NotNil(t, ce)
	assert.Equal(t, ErrStoreUnavailable.Code, ce.Code)

	assert.Nil(t, CodeOf(fmt.Errorf("plain")))
	assert.Nil(t, CodeOf(nil))
}

func TestErrorStringCarriesDetail(t *testing.T) {
	err := ErrForbidden.WrapMsg("not a participant", "conv", "c1")
	assert.Contains(t, err.Error(), "forbidden")
	assert.Contains(t, err.Error(), "conv=c1")
}
