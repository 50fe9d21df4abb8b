// service.go - connection state machine and accept loop
//
// (c) 2024- Sudhi Herle <sudhi@herle.net>
//
// Licensing Terms: GPLv2
//
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package daemon

import (
	"bufio"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/oferchen/oc-rsync-sub000/protocol"
	logger "github.com/opencoff/go-logger"
)

// Handler runs the negotiated session over the live transport with
// the options the client sent.
type Handler func(t protocol.Transport, opts []string) error

// conn wraps the accepted socket with the buffered reader used for
// the line oriented pre-frame exchange.
type conn struct {
	nc net.Conn
	rd *bufio.Reader
}

func (c *conn) Read(p []byte) (int, error)  { return c.rd.Read(p) }
func (c *conn) Write(p []byte) (int, error) { return c.nc.Write(p) }
func (c *conn) Close() error                { return c.nc.Close() }

var _ protocol.Transport = &conn{}

const timeoutReason = "timeout waiting for daemon connection"

// finishSession ends the session cleanly whatever came before.
func finishSession(c *conn) {
	c.Write([]byte(protocol.GreetingExit))
	c.Write(nil)
	c.Close()
}

// HandleConnection walks one client through
// GREET -> AUTH -> MODULE_SELECT -> OPTIONS -> SERVE -> EXIT.
func HandleConnection(nc net.Conn, cfg *Config, handler Handler, log logger.Logger) error {
	c := &conn{nc: nc, rd: bufio.NewReader(nc)}

	var deadline time.Time
	if cfg.Timeout > 0 {
		deadline = time.Now().Add(cfg.Timeout)
		nc.SetDeadline(deadline)
	}

	peer := peerAddr(nc)

	fail := func(reason string, err error) error {
		c.Write([]byte(protocol.ErrorLine(reason)))
		finishSession(c)
		if log != nil {
			log.Warn("%s: %s", peer, err)
		}
		return err
	}

	// GREET
	peerVer, err := protocol.ReadVersion(c)
	if err != nil {
		c.Close()
		return err
	}
	if err := protocol.WriteVersion(c, protocol.LatestProtocol); err != nil {
		c.Close()
		return err
	}
	if _, err := protocol.Negotiate(protocol.LatestProtocol, peerVer); err != nil {
		return fail("protocol version mismatch", err)
	}

	// AUTH: an optional "--no-motd" line, then the token line
	// (empty when the client has nothing to present)
	noMOTD := false
	token, err := readLineChecked(c, deadline)
	if err != nil {
		return fail(timeoutReason, err)
	}
	if token == "--no-motd" {
		noMOTD = true
		if token, err = readLineChecked(c, deadline); err != nil {
			return fail(timeoutReason, err)
		}
	}

	var globalAllowed []string
	if cfg.SecretsFile != "" && token != "" {
		allowed, err := authenticateToken(token, cfg.SecretsFile)
		if err != nil {
			return fail("access denied", err)
		}
		globalAllowed = allowed
	}

	// MOTD
	if !noMOTD && cfg.MOTDFile != "" {
		if content, err := os.ReadFile(cfg.MOTDFile); err == nil {
			for _, line := range strings.Split(strings.TrimRight(string(content), "\n"), "\n") {
				c.Write([]byte(protocol.MOTDLine(line)))
			}
		}
	}
	if _, err := c.Write([]byte(protocol.GreetingOK)); err != nil {
		c.Close()
		return err
	}

	// MODULE_SELECT
	name, err := readLineChecked(c, deadline)
	if err != nil {
		return fail(timeoutReason, err)
	}
	if name == "" || name == "#list" {
		listModules(c, cfg)
		finishSession(c)
		return nil
	}

	module, ok := cfg.Modules[name]
	if !ok {
		return fail("unknown module", fmt.Errorf("daemon: unknown module %q", name))
	}

	// ACCESS CHECK
	if ip, ok := peerIP(nc); ok {
		if !HostAllowed(ip, module.HostsAllow, module.HostsDeny) {
			return fail("host denied", &AccessError{Reason: "host denied"})
		}
	}

	allowed := globalAllowed
	if module.SecretsFile != "" {
		if token == "" {
			return fail("access denied", &AccessError{Reason: "missing token"})
		}
		if allowed, err = authenticateToken(token, module.SecretsFile); err != nil {
			return fail("access denied", err)
		}
	}
	if len(allowed) > 0 && !contains(allowed, name) {
		return fail("access denied", &AccessError{Reason: "unauthorized module"})
	}
	if len(module.AuthUsers) > 0 {
		userName, _, _ := strings.Cut(token, " ")
		if userName == "" || !contains(module.AuthUsers, userName) {
			return fail("access denied", &AccessError{Reason: "unauthorized user"})
		}
	}

	if module.MaxConnections > 0 {
		if module.connections.Load() >= int64(module.MaxConnections) {
			return fail("max connections reached",
				&AccessError{Reason: "max connections reached"})
		}
		module.connections.Add(1)
		defer module.connections.Add(-1)
	}

	if _, err := c.Write([]byte(protocol.GreetingOK)); err != nil {
		c.Close()
		return err
	}

	// OPTIONS
	var opts []string
	var logFile, logFormat string
	isSender, sawServer := false, false
	for {
		opt, err := readLineChecked(c, deadline)
		if err != nil {
			return fail(timeoutReason, err)
		}
		if opt == "" {
			break
		}

		switch {
		case opt == "--sender":
			isSender = true
		case opt == "--server":
			sawServer = true
		}

		if v, ok := strings.CutPrefix(opt, "--log-file="); ok {
			logFile = v
			continue
		}
		if v, ok := strings.CutPrefix(opt, "--log-file-format="); ok {
			logFormat = v
			continue
		}

		if refused(opt, module, cfg) {
			return fail("option refused",
				&AccessError{Reason: fmt.Sprintf("option refused: %s", opt)})
		}
		opts = append(opts, opt)
	}

	if module.ReadOnly && sawServer && !isSender {
		return fail("read only", &AccessError{Reason: "module is read only"})
	}
	if module.WriteOnly && sawServer && isSender {
		return fail("write only", &AccessError{Reason: "module is write only"})
	}

	if module.Timeout > 0 {
		nc.SetDeadline(time.Now().Add(module.Timeout))
	}

	// SERVE under the module's ids, restoring on every exit path
	uid, gid := sessionIDs(module, cfg)
	sessionLog(logFile, logFormat, peer, module.Name)

	ctx, err := ChrootAndDropPrivileges(module.Path, uid, gid, module.UseChroot)
	if err != nil {
		return fail("daemon configuration error", err)
	}
	defer ctx.Restore()

	herr := handler(c, opts)

	// EXIT
	finishSession(c)
	if log != nil {
		if herr != nil {
			log.Warn("%s: module %s: session error: %s", peer, module.Name, herr)
		} else {
			log.Info("%s: module %s: session complete", peer, module.Name)
		}
	}
	return herr
}

// refused matches a client option against the refuse lists by
// substring, plus the numeric-ids pinning rules.
func refused(opt string, m *Module, cfg *Config) bool {
	if opt == "--numeric-ids" && !m.NumericIDs {
		return true
	}
	if opt == "--no-numeric-ids" && m.NumericIDs {
		return true
	}
	for _, r := range cfg.RefuseOptions {
		if r != "" && strings.Contains(opt, r) {
			return true
		}
	}
	for _, r := range m.RefuseOptions {
		if r != "" && strings.Contains(opt, r) {
			return true
		}
	}
	return false
}

func listModules(c *conn, cfg *Config) {
	names := make([]string, 0, len(cfg.Modules))
	for name, m := range cfg.Modules {
		if m.List {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		m := cfg.Modules[name]
		if m.Comment != "" {
			fmt.Fprintf(c, "%s\t%s\n", name, m.Comment)
		} else {
			fmt.Fprintf(c, "%s\n", name)
		}
	}
	c.Write([]byte("\n"))
}

func sessionIDs(m *Module, cfg *Config) (uint32, uint32) {
	uid := uint32(os.Geteuid())
	gid := uint32(os.Getegid())
	if cfg.Uid != nil {
		uid = *cfg.Uid
	}
	if cfg.Gid != nil {
		gid = *cfg.Gid
	}
	if m.Uid != nil {
		uid = *m.Uid
	}
	if m.Gid != nil {
		gid = *m.Gid
	}
	return uid, gid
}

// sessionLog appends the per-session line to the intercepted
// --log-file, expanding %h (host) and %m (module).
func sessionLog(logFile, format, peer, module string) {
	if logFile == "" {
		return
	}
	if format == "" {
		format = "%h %m"
	}
	line := strings.ReplaceAll(format, "%h", peer)
	line = strings.ReplaceAll(line, "%m", module)
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	fmt.Fprintln(f, line)
	f.Close()
}

func readLineChecked(c *conn, deadline time.Time) (string, error) {
	if !deadline.IsZero() && !time.Now().Before(deadline) {
		return "", fmt.Errorf("daemon: %s", timeoutReason)
	}
	return protocol.ReadLine(c.rd)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func peerAddr(nc net.Conn) string {
	if addr := nc.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}

func peerIP(nc net.Conn) (netip.Addr, bool) {
	addr := nc.RemoteAddr()
	if addr == nil {
		return netip.Addr{}, false
	}
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return netip.Addr{}, false
	}
	return ap.Addr(), true
}

// RunDaemon binds the listen address and serves connections until
// the listener closes; each connection runs in its own goroutine.
func RunDaemon(cfg *Config, handler Handler, log logger.Logger) error {
	port := cfg.Port
	if port == 0 {
		port = 873
	}
	addr := net.JoinHostPort(cfg.Address, strconv.Itoa(port))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("daemon: listen %s: %w", addr, err)
	}
	defer ln.Close()

	if cfg.PidFile != "" {
		pid := strconv.Itoa(os.Getpid()) + "\n"
		if err := os.WriteFile(cfg.PidFile, []byte(pid), 0o644); err != nil {
			return fmt.Errorf("daemon: pid file: %w", err)
		}
		defer os.Remove(cfg.PidFile)
	}

	if log != nil {
		log.Info("listening on %s (%d modules)", addr, len(cfg.Modules))
	}

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}
		go HandleConnection(nc, cfg, handler, log)
	}
}
