package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo_Defaults(t *testing.T) {
	v, c, d := Info()
	assert.NotEmpty(t, v)
	assert.NotEmpty(t, c)
	assert.NotEmpty(t, d)
	assert.Equal(t, v, Version())
}

func TestString_ContainsAllParts(t *testing.T) {
	s := String()
	assert.Contains(t, s, "version="+version)
	assert.Contains(t, s, "commit="+commit)
	assert.Contains(t, s, "date="+date)
}

func TestFields_OverriddenByLdflags(t *testing.T) {
	prevVersion, prevCommit := version, commit
	t.Cleanup(func() { version, commit = prevVersion, prevCommit })

	version, commit = "v1.2.0", "abc123"
	fields := Fields()
	assert.Equal(t, "v1.2.0", fields["version"])
	assert.Equal(t, "abc123", fields["commit"])
	assert.Equal(t, "v1.2.0", Version())
}
