// Command ftpd is a single-session FTP server meant to be launched once per
// connection by a superserver such as inetd, with the control channel
// already attached to stdin and stdout.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/gonzalop/ftpd/internal/engine"
)

func main() {
	verbose := flag.Bool("v", false, "log each command to stderr")
	writable := flag.Bool("w", false, "allow STOR, APPE, STOU, DELE, RNFR/RNTO, MKD, RMD")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-v] [-w] [directory]\n", os.Args[0])
	}
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if dir := flag.Arg(0); dir != "" {
		if err := os.Chdir(dir); err != nil {
			logger.Error("chdir", "dir", dir, "err", err)
			os.Exit(1)
		}
	}

	localIP, ok := localAddrIP(os.Stdin)
	if !ok {
		flag.Usage()
		os.Exit(1)
	}

	cfg := engine.Config{
		WriteEnabled: *writable,
		LocalIP:      localIP,
		Logger:       logger,
	}

	sess := engine.NewSession(os.Stdin, os.Stdout, cfg)
	if err := sess.Serve(); err != nil {
		logger.Error("session ended", "err", err)
		os.Exit(1)
	}
}

// localAddrIP recovers the local address of the control connection so PASV
// replies advertise an address the client can actually reach. Per the
// original daemon's startup check, stdin must be a connected stream socket;
// the bool return is false when it isn't, which main treats as a usage
// error.
func localAddrIP(f *os.File) (net.IP, bool) {
	conn, err := net.FileConn(f)
	if err != nil {
		return nil, false
	}
	defer conn.Close()

	tc, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return nil, false
	}
	return tc.IP, true
}
