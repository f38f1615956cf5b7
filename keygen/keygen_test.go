package keygen

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/wireadmit/wireguard-provisioning-backend/interfaces"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNativeGenerate(t *testing.T) {
	g := NewNative(testLogger())

	kp, err := g.Generate(context.Background())
	require.NoError(t, err)

	assert.Len(t, kp.PrivateKey, interfaces.KeyLength)
	assert.Len(t, kp.PublicKey, interfaces.KeyLength)

	// The public key must be the curve25519 derivation of the private key.
	priv, err := wgtypes.ParseKey(kp.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, priv.PublicKey().String(), kp.PublicKey)
}

func TestNativeGenerateDistinct(t *testing.T) {
	g := NewNative(testLogger())

	first, err := g.Generate(context.Background())
	require.NoError(t, err)
	second, err := g.Generate(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.PrivateKey, second.PrivateKey)
}

func TestNativeGenerateCancelled(t *testing.T) {
	g := NewNative(testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Generate(ctx)
	assert.ErrorIs(t, err, interfaces.ErrToolInvocation)
}

// writeFakeWG installs a shell script that emulates wg genkey/pubkey with
// fixed 44-character outputs.
func writeFakeWG(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wg")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

const fakeWGScript = `#!/bin/sh
case "$1" in
genkey) echo "cHJpdmF0ZS1rZXktZml4dHVyZS1mb3ItdGVzdHMtQUE=" ;;
pubkey) read key; echo "cHVibGljLWtleS1maXh0dXJlLWZvci10ZXN0c3h4QkI=" ;;
*) echo "unknown subcommand" >&2; exit 1 ;;
esac
`

func TestWGToolGenerate(t *testing.T) {
	bin := writeFakeWG(t, fakeWGScript)
	g := NewWGTool(bin, 2, time.Second, testLogger())

	kp, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Len(t, kp.PrivateKey, interfaces.KeyLength)
	assert.Len(t, kp.PublicKey, interfaces.KeyLength)
}

func TestWGToolMissingBinary(t *testing.T) {
	g := NewWGTool(filepath.Join(t.TempDir(), "absent"), 1, time.Second, testLogger())

	_, err := g.Generate(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrToolInvocation)
}

func TestWGToolFailureStatus(t *testing.T) {
	bin := writeFakeWG(t, "#!/bin/sh\necho \"boom\" >&2\nexit 3\n")
	g := NewWGTool(bin, 1, time.Second, testLogger())

	_, err := g.Generate(context.Background())
	require.ErrorIs(t, err, interfaces.ErrToolInvocation)
	assert.Contains(t, err.Error(), "boom")
}

func TestWGToolTimeout(t *testing.T) {
	bin := writeFakeWG(t, "#!/bin/sh\nsleep 30\n")
	g := NewWGTool(bin, 1, 50*time.Millisecond, testLogger())

	_, err := g.Generate(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrToolInvocation)
}

func TestWGToolPoolBlocksWhenFull(t *testing.T) {
	bin := writeFakeWG(t, fakeWGScript)
	g := NewWGTool(bin, 1, time.Second, testLogger())

	// Occupy the only slot so the next call has to wait; an already
	// cancelled context must surface a tool-invocation failure instead of
	// spawning another process.
	g.slots <- struct{}{}
	defer func() { <-g.slots }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Generate(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, interfaces.ErrToolInvocation))
}
