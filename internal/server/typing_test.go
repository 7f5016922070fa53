package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_typingSet(t *testing.T) {
	ts := newTypingSet()

	assert.True(t, ts.start(1, "alice"), "expected first start to be a transition")
	assert.True(t, ts.typing(1), "expected user to be typing")
	assert.False(t, ts.start(1, "alice"), "expected repeated start to be suppressed")

	assert.True(t, ts.stop(1), "expected stop to be a transition")
	assert.False(t, ts.typing(1), "expected user to no longer be typing")
	assert.False(t, ts.stop(1), "expected repeated stop to be suppressed")
}

func Test_typingSet_clear(t *testing.T) {
	ts := newTypingSet()

	assert.False(t, ts.clear(1), "expected clearing an idle user to be a no-op")

	ts.start(1, "alice")
	assert.True(t, ts.clear(1), "expected clear to report the transition")
	assert.False(t, ts.typing(1), "expected user to no longer be typing")
}
