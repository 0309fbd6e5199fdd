package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	parsed, err := goUUID.Parse(id1)
	require.NoError(t, err)
	require.Equal(t, goUUID.Version(7), parsed.Version())
}

func TestParse(t *testing.T) {
	t.Parallel()

	id, err := Parse("0190A5A4-2B3C-7D4E-8F00-112233445566")
	require.NoError(t, err)
	require.Equal(t, "0190a5a4-2b3c-7d4e-8f00-112233445566", id)

	_, err = Parse("not-a-uuid")
	require.Error(t, err)
}
