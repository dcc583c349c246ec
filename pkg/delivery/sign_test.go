package delivery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignKnownAnswer(t *testing.T) {
	t.Parallel()

	body := []byte(`{"type":"data_update","sequence":2,"data_key":"coding_standards"}`)
	got := Sign("s", body)
	assert.Equal(t, "sha256=da86ff982906f79478aa0544ed43899fdfb77a6f06b17e7d0004a3b770dc76cd", got)
}

func TestVerify(t *testing.T) {
	t.Parallel()

	body := []byte(`{"type":"data_update","sequence":7}`)
	header := Sign("shared-secret", body)

	require.True(t, Verify("shared-secret", body, header))

	assert.False(t, Verify("shared-secret", []byte(`{"type":"data_update","sequence":8}`), header), "tampered body")
	assert.False(t, Verify("other-secret", body, header), "wrong secret")
	assert.False(t, Verify("shared-secret", body, ""), "empty header")
	assert.False(t, Verify("shared-secret", body, "md5=abcdef"), "wrong scheme")
}
