package iap

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/openiap/openiap/bridge"
)

func TestError_Format(t *testing.T) {
	require.Equal(t, "payment declined", NewError("payment declined").Error())
	require.Equal(t, "payment declined (code 2)", NewErrorWithCode("payment declined", 2).Error())
}

func TestTranslateErr(t *testing.T) {
	require.Nil(t, translateErr(nil))

	t.Run("passes through business errors", func(t *testing.T) {
		require.Equal(t, ErrNotInitialized, translateErr(ErrNotInitialized))
	})

	t.Run("cancellation becomes a catchable error", func(t *testing.T) {
		translated := translateErr(context.Canceled)
		require.Contains(t, translated.Message, "canceled")
		require.Nil(t, translated.Code)

		translated = translateErr(errors.Wrap(context.DeadlineExceeded, "querying products"))
		require.Contains(t, translated.Message, "canceled")
	})

	t.Run("bridge errors keep their native code", func(t *testing.T) {
		translated := translateErr(bridge.NewErrorWithCode("item already owned", 7))
		require.Equal(t, "item already owned", translated.Message)
		require.NotNil(t, translated.Code)
		require.Equal(t, int32(7), *translated.Code)

		// Wrapped causes are still recognized.
		translated = translateErr(errors.Wrap(bridge.NewError("store unavailable"), "launching purchase"))
		require.Equal(t, "store unavailable", translated.Message)
		require.Nil(t, translated.Code)
	})

	t.Run("unknown errors keep their message", func(t *testing.T) {
		translated := translateErr(errors.New("socket closed"))
		require.Equal(t, "socket closed", translated.Message)
		require.Nil(t, translated.Code)
	})
}
