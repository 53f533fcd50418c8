package runtimeconfig

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceExportReturnsVersionedSnapshot(t *testing.T) {
	opts, err := Load("")
	require.NoError(t, err)

	svc := NewService(*opts, SourceDefaults, "")
	snap, err := svc.Export(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, snap.Version)
	assert.Equal(t, SourceDefaults, snap.Source)
}

func TestServiceVersionChangesWhenOptionsChange(t *testing.T) {
	a, err := Load("")
	require.NoError(t, err)
	svc := NewService(*a, SourceDefaults, "")
	before := svc.Current().Version

	b := *a
	b.CheckIntervalFrames = 120
	svc.set(b, SourceFile, "")

	assert.NotEqual(t, before, svc.Current().Version)
}
