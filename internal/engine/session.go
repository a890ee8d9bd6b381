package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// Config holds the knobs cmd/ftpd wires up from flags before starting a
// Session. There is no notion of a virtual root: the process's current
// directory at Serve time is the session's only directory tree, exactly as
// in the original daemon's optional chdir-before-chroot startup step.
type Config struct {
	WriteEnabled bool
	LocalIP      net.IP
	Logger       *slog.Logger
}

// Session holds everything that exists for exactly one client's lifetime:
// the command/reply framing, the data-channel arrangement, and the small
// amount of state a handful of commands leave behind for the next one.
type Session struct {
	cmd   *CommandReader
	reply *Responder
	data  DataEndpoint
	xfer  TransferEngine
	cfg   Config
	log   *slog.Logger

	rnfrPath string
}

// NewSession wires a control channel (r and w, typically the process's stdin
// and stdout under an inetd-style superserver) into a ready-to-serve
// Session.
func NewSession(r io.Reader, w io.Writer, cfg Config) *Session {
	s := &Session{
		cmd:   NewCommandReader(r),
		reply: NewResponder(w),
		cfg:   cfg,
		log:   cfg.Logger,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.xfer = TransferEngine{Data: &s.data, Reply: s.reply}
	return s
}

// Serve reads and dispatches commands until the client disconnects or sends
// QUIT. It returns nil on a clean end of session.
func (s *Session) Serve() error {
	if err := s.reply.Reply(220, "Welcome"); err != nil {
		return err
	}

	for {
		cmd, err := s.cmd.ReadCommand()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		s.log.Debug("command", "verb", cmd.Verb, "arg", cmd.Arg)

		quit, err := s.dispatch(cmd)
		if err != nil {
			return err
		}
		if quit {
			return nil
		}

		// RNFR survives exactly one following command: RNTO consumes it,
		// anything else (including another RNFR) clears or replaces it.
		if cmd.Verb != "RNFR" {
			s.rnfrPath = ""
		}
	}
}

// dispatch runs one command to completion. The bool return reports whether
// the session should end (QUIT).
func (s *Session) dispatch(cmd Command) (bool, error) {
	switch cmd.Verb {
	case "USER":
		return false, s.reply.Ok(331)
	case "PASS":
		return false, s.reply.Ok(230)
	case "QUIT":
		return true, s.reply.Reply(221, "Goodbye")
	case "SYST":
		return false, s.reply.Reply(215, "UNIX Type: L8")
	case "NOOP":
		return false, s.reply.Ok(200)
	case "TYPE", "STRU", "MODE":
		return false, s.reply.Ok(200)
	case "ALLO":
		return false, s.reply.Ok(202)
	case "PWD", "XPWD":
		return false, s.handlePWD()
	case "CWD", "XCWD":
		return false, s.handleCWD(cmd.Arg)
	case "CDUP", "XCUP":
		return false, s.handleCWD("..")
	case "PASV":
		return false, s.handlePASV()
	case "PORT":
		return false, s.handlePORT(cmd.Arg)
	case "REST":
		return false, s.handleREST(cmd.Arg)
	case "RETR":
		return false, s.handleRETR(cmd.Arg)
	case "STOR":
		return false, s.handleStore(cmd.Arg, UploadStor)
	case "APPE":
		return false, s.handleStore(cmd.Arg, UploadAppe)
	case "STOU":
		return false, s.handleStore(cmd.Arg, UploadStou)
	case "LIST":
		return false, s.handleLIST(cmd.Arg)
	case "NLST":
		return false, s.handleNLST(cmd.Arg)
	case "MKD", "XMKD":
		return false, s.handleMKD(cmd.Arg)
	case "RMD", "XRMD":
		return false, s.handleRMD(cmd.Arg)
	case "DELE":
		return false, s.handleDELE(cmd.Arg)
	case "RNFR":
		return false, s.handleRNFR(cmd.Arg)
	case "RNTO":
		return false, s.handleRNTO(cmd.Arg)
	case "STAT":
		return false, s.handleSTAT(cmd.Arg)
	case "HELP":
		return false, s.handleHELP()
	default:
		return false, s.reply.Reply(500, fmt.Sprintf("%q not understood", cmd.Verb))
	}
}

func (s *Session) resolve(arg string) string {
	if arg == "" {
		arg = "."
	}
	return filepath.Clean(arg)
}

func (s *Session) handlePWD() error {
	dir, err := os.Getwd()
	if err != nil {
		return s.reply.Reply(550, "Can't get current directory")
	}
	// An embedded quote is doubled, per RFC 959's PWD reply format.
	quoted := strings.ReplaceAll(dir, `"`, `""`)
	return s.reply.Reply(257, fmt.Sprintf(`"%s"`, quoted))
}

func (s *Session) handleCWD(arg string) error {
	path := s.resolve(arg)
	if err := os.Chdir(path); err != nil {
		return s.reply.Error(550)
	}
	return s.reply.Ok(250)
}

func (s *Session) handlePASV() error {
	ip := s.cfg.LocalIP
	if ip == nil {
		ip = net.IPv4zero
	}
	port, err := s.data.EnterPassive(ip)
	if err != nil {
		return s.reply.Reply(425, "Can't open passive connection")
	}
	v4 := ip.To4()
	if v4 == nil {
		v4 = net.IPv4zero.To4()
	}
	return s.reply.Reply(227, fmt.Sprintf("Entering Passive Mode (%d,%d,%d,%d,%d,%d)",
		v4[0], v4[1], v4[2], v4[3], port>>8, port&0xff))
}

func (s *Session) handlePORT(arg string) error {
	if err := s.data.SetActive(arg); err != nil {
		return s.reply.Error(500)
	}
	return s.reply.Ok(200)
}

func (s *Session) handleREST(arg string) error {
	var off int64
	if _, err := fmt.Sscanf(arg, "%d", &off); err != nil || off < 0 {
		off = 0
	}
	s.xfer.RestartAt = off
	return s.reply.Ok(350)
}

func (s *Session) handleRETR(arg string) error {
	if !s.data.Armed() {
		s.xfer.RestartAt = 0
		return s.reply.Reply(425, "Use PORT or PASV first")
	}
	path := s.resolve(arg)
	return s.xfer.Retr(path, arg)
}

func (s *Session) handleStore(arg string, kind uploadKind) error {
	if !s.cfg.WriteEnabled {
		return s.reply.Reply(550, "Write access denied")
	}
	if !s.data.Armed() {
		s.xfer.RestartAt = 0
		return s.reply.Reply(425, "Use PORT or PASV first")
	}
	path := s.resolve(arg)
	switch kind {
	case UploadStor:
		return s.xfer.Stor(path, arg)
	case UploadAppe:
		return s.xfer.Appe(path, arg)
	default:
		return s.xfer.Stou(path, arg)
	}
}

func (s *Session) handleLIST(arg string) error {
	if !s.data.Armed() {
		return s.reply.Reply(425, "Use PORT or PASV first")
	}
	return s.xfer.List(s.resolve(arg))
}

func (s *Session) handleNLST(arg string) error {
	if !s.data.Armed() {
		return s.reply.Reply(425, "Use PORT or PASV first")
	}
	return s.xfer.Nlst(s.resolve(arg))
}

func (s *Session) handleMKD(arg string) error {
	if !s.cfg.WriteEnabled {
		return s.reply.Reply(550, "Write access denied")
	}
	path := s.resolve(arg)
	if err := os.Mkdir(path, 0777); err != nil {
		return s.reply.Error(550)
	}
	return s.reply.Ok(257)
}

func (s *Session) handleRMD(arg string) error {
	if !s.cfg.WriteEnabled {
		return s.reply.Reply(550, "Write access denied")
	}
	path := s.resolve(arg)
	if err := os.Remove(path); err != nil {
		return s.reply.Error(550)
	}
	return s.reply.Ok(250)
}

func (s *Session) handleDELE(arg string) error {
	if !s.cfg.WriteEnabled {
		return s.reply.Reply(550, "Write access denied")
	}
	path := s.resolve(arg)
	if err := os.Remove(path); err != nil {
		return s.reply.Error(550)
	}
	return s.reply.Ok(250)
}

func (s *Session) handleRNFR(arg string) error {
	if !s.cfg.WriteEnabled {
		return s.reply.Reply(550, "Write access denied")
	}
	path := s.resolve(arg)
	if _, err := os.Lstat(path); err != nil {
		return s.reply.Error(550)
	}
	s.rnfrPath = path
	return s.reply.Ok(350)
}

func (s *Session) handleRNTO(arg string) error {
	if s.rnfrPath == "" {
		return s.reply.Reply(503, "RNFR required first")
	}
	dst := s.resolve(arg)
	src := s.rnfrPath
	s.rnfrPath = ""
	if err := os.Rename(src, dst); err != nil {
		return s.reply.Error(550)
	}
	return s.reply.Ok(250)
}

// handleSTAT implements both forms the dispatch table lists under STAT: a
// bare canned status with no argument, and a control-channel-framed listing
// of a path when one is given. Neither form touches the data channel.
func (s *Session) handleSTAT(arg string) error {
	if arg == "" {
		return s.reply.Raw("211-Status:\r\n Connected, idle\r\n211 Operation successful\r\n")
	}
	path := s.resolve(arg)
	text, err := s.xfer.StatListing(path)
	if err != nil {
		return s.reply.Error(550)
	}
	return s.reply.Raw(text)
}

func (s *Session) handleHELP() error {
	var b strings.Builder
	b.WriteString("214-The following commands are recognized\r\n")
	b.WriteString(" USER PASS SYST NOOP TYPE STRU MODE ALLO PWD CWD CDUP\r\n")
	b.WriteString(" PASV PORT REST LIST NLST RETR STAT HELP QUIT\r\n")
	if s.cfg.WriteEnabled {
		b.WriteString(" MKD RMD DELE RNFR RNTO STOR APPE STOU\r\n")
	}
	b.WriteString("214 Operation successful\r\n")
	return s.reply.Raw(b.String())
}
