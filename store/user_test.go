package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexmarket/realtime/tools/errs"
)

func TestBuildUserUpdateWhitelist(t *testing.T) {
	set, inc, err := buildUserUpdate(map[string]any{
		"nickname": "bob",
		"verified": true,
	})
	require.NoError(t, err)
	assert.Equal(t, "bob", set["nickname"])
	assert.Equal(t, true, set["verified"])
	assert.Contains(t, set, "update_time")
	assert.Empty(t, inc)
}

func TestBuildUserUpdateBalanceDelta(t *testing.T) {
	set, inc, err := buildUserUpdate(map[string]any{"balance_delta": int64(250)})
	require.NoError(t, err)
	assert.Equal(t, int64(250), inc["balance"])
	assert.NotContains(t, set, "balance")
}

func TestBuildUserUpdateRejectsUnknownAndSecretFields(t *testing.T) {
	for _, field := range []string{"password_hash", "refresh_token", "user_id", "bogus"} {
		_, _, err := buildUserUpdate(map[string]any{field: "x"})
		assert.True(t, errs.ErrValidation.Is(err), "field %q must be rejected", field)
	}

	_, _, err := buildUserUpdate(nil)
	assert.True(t, errs.ErrValidation.Is(err))
}

func TestValidContentType(t *testing.T) {
	for _, ct := range []string{TypeText, TypeImage, TypeVideo, TypeAudio, TypeFile} {
		assert.True(t, ValidContentType(ct))
	}
	assert.False(t, ValidContentType(""))
	assert.False(t, ValidContentType("sticker"))
}
