package eid

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDtn(t *testing.T) {
	tests := []struct {
		uri   string
		valid bool
	}{
		{"dtn:none", true},
		{"dtn://foo/bar", true},
		{"dtn://foo/", true},
		{"dtn://foo", true},
		{"dtn:", false},
		{"dtn", false},
		{"uff:uff", false},
		{"", false},
	}

	for _, test := range tests {
		_, err := Parse(test.uri)
		if test.valid {
			assert.NoError(t, err, test.uri)
		} else {
			assert.Error(t, err, test.uri)
		}
	}
}

func TestEndpointIDCanonicalString(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"dtn://foo/", "dtn://foo"},
		{"dtn://foo", "dtn://foo"},
		{"dtn://foo/bar", "dtn://foo/bar"},
		{"dtn://foo/bar/", "dtn://foo/bar/"},
	}

	for _, test := range tests {
		eid := MustParse(test.uri)
		assert.Equal(t, test.want, eid.String())
	}
}

func TestEndpointIDCbor(t *testing.T) {
	eid := MustParse("dtn://foo/bar")

	var buf bytes.Buffer
	require.NoError(t, eid.MarshalCbor(&buf))

	var out EndpointID
	require.NoError(t, out.UnmarshalCbor(&buf))

	assert.Equal(t, eid.String(), out.String())
}

func TestIpnEndpoint(t *testing.T) {
	eid, err := Parse("ipn:23.42")
	require.NoError(t, err)
	assert.Equal(t, "23", eid.Authority())
	assert.Equal(t, "42", eid.Path())
	assert.True(t, eid.IsSingleton())

	_, err = Parse("ipn:0.1")
	assert.Error(t, err, "node number must be >= 1")
}

func TestMatchesPrefix(t *testing.T) {
	dst := MustParse("dtn://foo/bar")

	assert.True(t, dst.Matches("dtn://foo/*"))
	assert.False(t, dst.Matches("dtn://baz/*"))
	assert.True(t, dst.Matches("dtn://foo/bar"))
	assert.False(t, DtnNone().Matches("dtn://foo/*"))
}

func TestMatchesGroup(t *testing.T) {
	member := MustParse("dtn://foo/~news/sports")

	assert.True(t, member.Matches("dtn://foo/~news"))
	assert.False(t, member.Matches("dtn://foo/~weather"))
}
