package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestGeneratorNewID ensures generated IDs are unique and valid UUIDs.
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

func TestGeneratorNewSessionRoundTrip(t *testing.T) {
	t.Parallel()

	session, err := New().NewSession()
	require.NoError(t, err)
	require.NotEqual(t, [16]byte{}, session)

	parsed, err := goUUID.Parse(FormatSession(session))
	require.NoError(t, err)
	require.Equal(t, session, [16]byte(parsed))
}
