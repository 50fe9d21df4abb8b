// service_test.go -- connection state machine over a pipe
package daemon

import (
	"bufio"
	"encoding/binary"
	"io"
	"io/fs"
	"net"
	"os"
	"strings"
	"testing"

	"github.com/oferchen/oc-rsync-sub000/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFileMode(path, content string, mode uint32) error {
	return os.WriteFile(path, []byte(content), fs.FileMode(mode))
}

// testClient drives the pre-frame line protocol from the client end.
type testClient struct {
	c  net.Conn
	rd *bufio.Reader
}

func newTestClient(c net.Conn) *testClient {
	return &testClient{c: c, rd: bufio.NewReader(c)}
}

func (tc *testClient) handshake(t *testing.T) {
	t.Helper()
	var ver [4]byte
	binary.BigEndian.PutUint32(ver[:], protocol.LatestProtocol)
	_, err := tc.c.Write(ver[:])
	require.NoError(t, err)
	_, err = io.ReadFull(tc.rd, ver[:])
	require.NoError(t, err)
}

func (tc *testClient) send(t *testing.T, line string) {
	t.Helper()
	_, err := tc.c.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func (tc *testClient) recv(t *testing.T) string {
	t.Helper()
	s, err := tc.rd.ReadString('\n')
	if err != nil && s == "" {
		return ""
	}
	return strings.TrimRight(s, "\n")
}

func testConfig(t *testing.T, extra string) *Config {
	t.Helper()
	cfg, err := ParseConfig(`
use chroot = no

[data]
path = ` + t.TempDir() + `
` + extra)
	require.NoError(t, err)
	return cfg
}

func runSession(t *testing.T, cfg *Config, drive func(tc *testClient)) error {
	t.Helper()
	server, client := net.Pipe()

	done := make(chan error, 1)
	go func() {
		done <- HandleConnection(server, cfg, func(tr protocol.Transport, opts []string) error {
			return nil
		}, nil)
	}()

	tc := newTestClient(client)
	drive(tc)
	io.Copy(io.Discard, tc.rd)
	client.Close()
	return <-done
}

func TestSessionPlain(t *testing.T) {
	cfg := testConfig(t, "")

	err := runSession(t, cfg, func(tc *testClient) {
		tc.handshake(t)
		tc.send(t, "") // no token
		assert.Equal(t, "@RSYNCD: OK", tc.recv(t))
		tc.send(t, "data")
		assert.Equal(t, "@RSYNCD: OK", tc.recv(t))
		tc.send(t, "--server")
		tc.send(t, "")
		assert.Equal(t, "@RSYNCD: EXIT", tc.recv(t))
	})
	assert.NoError(t, err)
}

func TestSessionModuleList(t *testing.T) {
	cfg := testConfig(t, "comment = stuff\n")

	err := runSession(t, cfg, func(tc *testClient) {
		tc.handshake(t)
		tc.send(t, "")
		assert.Equal(t, "@RSYNCD: OK", tc.recv(t))
		tc.send(t, "#list")
		line := tc.recv(t)
		assert.Contains(t, line, "data")
		assert.Equal(t, "", tc.recv(t))
	})
	assert.NoError(t, err)
}

func TestSessionUnknownModule(t *testing.T) {
	cfg := testConfig(t, "")

	err := runSession(t, cfg, func(tc *testClient) {
		tc.handshake(t)
		tc.send(t, "")
		assert.Equal(t, "@RSYNCD: OK", tc.recv(t))
		tc.send(t, "nope")
		assert.Contains(t, tc.recv(t), "@ERROR: unknown module")
	})
	assert.Error(t, err)
}

func TestSessionAuth(t *testing.T) {
	secrets := writeSecrets(t, "alice password data\n")
	cfg := testConfig(t, "auth users = alice\nsecrets file = "+secrets+"\n")

	// alice gets in
	err := runSession(t, cfg, func(tc *testClient) {
		tc.handshake(t)
		tc.send(t, "alice password")
		assert.Equal(t, "@RSYNCD: OK", tc.recv(t))
		tc.send(t, "data")
		assert.Equal(t, "@RSYNCD: OK", tc.recv(t))
		tc.send(t, "")
		assert.Equal(t, "@RSYNCD: EXIT", tc.recv(t))
	})
	assert.NoError(t, err)

	// bob is refused
	err = runSession(t, cfg, func(tc *testClient) {
		tc.handshake(t)
		tc.send(t, "bob password")
		assert.Equal(t, "@RSYNCD: OK", tc.recv(t))
		tc.send(t, "data")
		assert.Contains(t, tc.recv(t), "@ERROR")
	})
	require.Error(t, err)
	var ae *AccessError
	assert.ErrorAs(t, err, &ae)
}

func TestSessionRefusedOption(t *testing.T) {
	cfg := testConfig(t, "refuse options = delete\n")

	err := runSession(t, cfg, func(tc *testClient) {
		tc.handshake(t)
		tc.send(t, "")
		assert.Equal(t, "@RSYNCD: OK", tc.recv(t))
		tc.send(t, "data")
		assert.Equal(t, "@RSYNCD: OK", tc.recv(t))
		tc.send(t, "--server")
		tc.send(t, "--delete-after")
		assert.Contains(t, tc.recv(t), "@ERROR: option refused")
	})
	assert.Error(t, err)
}

func TestSessionReadOnlyModule(t *testing.T) {
	cfg := testConfig(t, "read only = yes\n")

	err := runSession(t, cfg, func(tc *testClient) {
		tc.handshake(t)
		tc.send(t, "")
		assert.Equal(t, "@RSYNCD: OK", tc.recv(t))
		tc.send(t, "data")
		assert.Equal(t, "@RSYNCD: OK", tc.recv(t))
		// --server without --sender means the client pushes
		tc.send(t, "--server")
		tc.send(t, "")
		assert.Contains(t, tc.recv(t), "@ERROR: read only")
	})
	assert.Error(t, err)
}

func TestSecretsFilePermissions(t *testing.T) {
	loose := writeSecretsMode(t, "alice password\n", 0o644)
	_, err := authenticateToken("alice", loose)
	require.Error(t, err)

	tight := writeSecretsMode(t, "alice password\n", 0o600)
	mods, err := authenticateToken("alice", tight)
	require.NoError(t, err)
	assert.Empty(t, mods)
}

func TestAuthTokenPasswordMismatch(t *testing.T) {
	path := writeSecrets(t, "alice rightpw\n")
	_, err := authenticateToken("alice wrongpw", path)
	require.Error(t, err)

	mods, err := authenticateToken("alice rightpw", path)
	require.NoError(t, err)
	assert.Empty(t, mods)
}

func TestAuthGlobalModuleList(t *testing.T) {
	path := writeSecrets(t, "carol pw data,scratch\n")
	mods, err := authenticateToken("carol pw", path)
	require.NoError(t, err)
	assert.Equal(t, []string{"data", "scratch"}, mods)
}

func writeSecrets(t *testing.T, content string) string {
	return writeSecretsMode(t, content, 0o600)
}

func writeSecretsMode(t *testing.T, content string, mode uint32) string {
	t.Helper()
	path := t.TempDir() + "/secrets"
	require.NoError(t, writeFileMode(path, content, mode))
	return path
}
