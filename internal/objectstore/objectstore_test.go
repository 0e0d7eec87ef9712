package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_RequiresAddress(t *testing.T) {
	_, err := New(Credentials{AccessKey: "a", SecretKey: "b"})
	require.Error(t, err)
}

func TestNew_SucceedsWithAddress(t *testing.T) {
	s, err := New(Credentials{Address: "localhost:9000", AccessKey: "a", SecretKey: "b"})
	require.NoError(t, err)
	require.NotNil(t, s)
}

func TestClearPrefix_RefusesEmptyPrefix(t *testing.T) {
	s := &Store{}
	err := s.ClearPrefix(context.Background(), "bucket", "")
	require.Error(t, err)
}
