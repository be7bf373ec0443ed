package wfp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyLayoutMatch(t *testing.T) {
	l := Layout{
		Name: "header",
		Size: 136,
		Fields: []FieldOffset{
			{"appId", 64},
			{"userId", 80},
		},
	}
	assert.NoError(t, VerifyLayout(l, l))
}

func TestVerifyLayoutSizeMismatch(t *testing.T) {
	got := Layout{Name: "header", Size: 128}
	want := Layout{Name: "header", Size: 136}
	err := VerifyLayout(got, want)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "size")
}

func TestVerifyLayoutOffsetMismatch(t *testing.T) {
	got := Layout{
		Name:   "header",
		Size:   136,
		Fields: []FieldOffset{{"appId", 60}},
	}
	want := Layout{
		Name:   "header",
		Size:   136,
		Fields: []FieldOffset{{"appId", 64}},
	}
	err := VerifyLayout(got, want)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "appId")
}

func TestVerifyLayoutMissingCanary(t *testing.T) {
	got := Layout{Name: "header", Size: 136}
	want := Layout{
		Name:   "header",
		Size:   136,
		Fields: []FieldOffset{{"userId", 80}},
	}
	err := VerifyLayout(got, want)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "userId")
}
