package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := E(KindTimeout, "ytdlp.FetchInfo", context.DeadlineExceeded)

	assert.Equal(t, KindTimeout, KindOf(base))
	assert.Equal(t, KindTimeout, KindOf(fmt.Errorf("wrapped: %w", base)))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.True(t, Is(base, KindTimeout))
	assert.False(t, Is(nil, KindTimeout))
}

func TestFallback(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindBackendUnavailable, true},
		{KindExtractionFailed, true},
		{KindTimeout, true},
		{KindInvalidInput, false},
		{KindUnsupportedPlatform, false},
		{KindPersistFailed, false},
		{KindAllBackendsFailed, false},
		{KindCanceled, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.Fallback())
		})
	}
}

func TestCausesAreReachable(t *testing.T) {
	first := &Error{Kind: KindBackendUnavailable, Platform: "youtube", Adapter: "ytdlp", Err: errors.New("not installed")}
	last := &Error{Kind: KindTimeout, Platform: "youtube", Adapter: "youtube-dl", Err: context.DeadlineExceeded}
	all := &Error{
		Kind:     KindAllBackendsFailed,
		Op:       "resolveInfo",
		Platform: "youtube",
		Err:      last,
		Causes:   []error{first, last},
	}

	assert.True(t, errors.Is(all, context.DeadlineExceeded))
	assert.Equal(t, KindAllBackendsFailed, KindOf(all))
	assert.Contains(t, all.Error(), "resolveInfo: AllBackendsFailed [youtube]")
	assert.Equal(t, "BackendUnavailable [youtube/ytdlp]: not installed", first.Error())

	var be *Error
	assert.True(t, errors.As(all.Causes[0], &be))
	assert.Equal(t, "ytdlp", be.Adapter)
}
