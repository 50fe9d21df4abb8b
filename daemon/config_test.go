// config_test.go -- configuration parsing
package daemon

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigBasics(t *testing.T) {
	cfg, err := ParseConfig(`
# global settings
port = 10873
motd file = /etc/motd   # trailing comment
hosts allow = 10.0.0.0/8, 192.168.1.1
use chroot = no
timeout = 60

[data]
path = /srv/data
comment = "the ; main # share"
auth users = alice, bob
read only = yes
max connections = 4

[scratch]
path = /srv/scratch
list = no
`)
	require.NoError(t, err)

	assert.Equal(t, 10873, cfg.Port)
	assert.Equal(t, "/etc/motd", cfg.MOTDFile)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1"}, cfg.HostsAllow)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	require.Len(t, cfg.Modules, 2)

	data := cfg.Modules["data"]
	require.NotNil(t, data)
	assert.Equal(t, "/srv/data", data.Path)
	assert.Equal(t, "the ; main # share", data.Comment)
	assert.Equal(t, []string{"alice", "bob"}, data.AuthUsers)
	assert.True(t, data.ReadOnly)
	assert.EqualValues(t, 4, data.MaxConnections)
	// globals inherit into modules
	assert.False(t, data.UseChroot)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1"}, data.HostsAllow)

	scratch := cfg.Modules["scratch"]
	require.NotNil(t, scratch)
	assert.False(t, scratch.List)
}

func TestParseConfigErrors(t *testing.T) {
	_, err := ParseConfig("[m]\npath = /x\nbogus key = 1\n")
	require.Error(t, err)

	_, err = ParseConfig("[m]\ncomment = no path here\n")
	require.Error(t, err)

	_, err = ParseConfig("use chroot = maybe\n")
	require.Error(t, err)

	_, err = ParseConfig("just a line\n")
	require.Error(t, err)
}

func TestStripComment(t *testing.T) {
	tests := []struct{ in, want string }{
		{"key = val # comment", "key = val "},
		{"key = val; no-comment", "key = val; no-comment"},
		{"key = 'a # b' # real", "key = 'a # b' "},
		{"# whole line", ""},
		{"; whole line", ""},
	}
	for _, tx := range tests {
		assert.Equal(t, tx.want, stripComment(tx.in), "input %q", tx.in)
	}
}

func TestHostAllowed(t *testing.T) {
	ip := netip.MustParseAddr("192.168.1.5")

	assert.True(t, HostAllowed(ip, nil, nil))
	assert.True(t, HostAllowed(ip, []string{"192.168.1.0/24"}, nil))
	assert.True(t, HostAllowed(ip, []string{"192.168.1.5"}, nil))
	assert.True(t, HostAllowed(ip, []string{"*"}, nil))
	assert.False(t, HostAllowed(ip, []string{"10.0.0.0/8"}, nil))
	assert.False(t, HostAllowed(ip, nil, []string{"192.168.1.0/24"}))
	assert.False(t, HostAllowed(ip, []string{"*"}, []string{"192.168.1.5"}))
}
