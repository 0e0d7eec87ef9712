package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSave_NoOpWhenMongoURIEmpty(t *testing.T) {
	err := Save(context.Background(), "", "db", &Record{TaskID: "t1"})
	require.NoError(t, err)
}

func TestLoad_NilWhenMongoURIEmpty(t *testing.T) {
	rec, err := Load(context.Background(), "", "db", "t1")
	require.NoError(t, err)
	require.Nil(t, rec)
}
