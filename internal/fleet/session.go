package fleet

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/Nordstrom/pssh/internal/model"
)

// bannerReadTimeout bounds how long the transport will wait for the
// server's initial SSH version banner before giving up, independent of
// the caller's connect timeout.
const bannerReadTimeout = 300 * time.Second

// dialHost opens a TCP connection and completes the SSH handshake
// against h, authenticating with h's private key first and falling back
// to password auth, the same ordering the rest of the corpus uses.
func dialHost(h model.Host, hostKeyCallback ssh.HostKeyCallback) (*ssh.Client, error) {
	auths, err := authMethods(h)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            effectiveUsername(h),
		Auth:            auths,
		HostKeyCallback: hostKeyCallback,
		Timeout:         time.Duration(h.EffectiveConnectTimeout() * float64(time.Second)),
		BannerCallback: func(message string) error {
			return nil
		},
	}

	addr := net.JoinHostPort(h.Address, fmt.Sprintf("%d", h.EffectivePort()))
	conn, err := net.DialTimeout("tcp", addr, config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(bannerReadTimeout)); err != nil {
		conn.Close()
		return nil, err
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	conn.SetReadDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}

func effectiveUsername(h model.Host) string {
	if h.Username != "" {
		return h.Username
	}
	return "root"
}

func authMethods(h model.Host) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if len(h.PrivateKey) > 0 || h.PrivateKeyPath != "" {
		signer, err := loadSigner(h)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if h.Password != "" {
		methods = append(methods, ssh.Password(h.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no auth method configured for %s", h.DisplayName())
	}
	return methods, nil
}

func loadSigner(h model.Host) (ssh.Signer, error) {
	keyBytes := h.PrivateKey
	if len(keyBytes) == 0 {
		data, err := os.ReadFile(h.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		keyBytes = data
	}
	if h.PrivateKeyPhrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(h.PrivateKeyPhrase))
	}
	return ssh.ParsePrivateKey(keyBytes)
}

// commandOutcome is the exit of a completed (not timed out, not
// cancelled) remote command.
type commandOutcome struct {
	stdout, stderr string
	exitCode       int
	err            error
}

// commandExec starts command on h over a freshly dialed SSH session,
// streaming output line-by-line to logger and exporting h.Env ahead of
// it. When sudoPassword is non-empty, a stdin pipe is opened and the
// password is written the first time a streamed line contains
// "[sudo]"; command itself is expected to already carry the "sudo "
// prefix the caller wants watched for a prompt (see sudoPrefix in
// execute.go) — if the remote side never emits the prompt, this simply
// times out rather than failing fast. If ctx is cancelled or timeout
// elapses before the remote command exits, it drives the
// SIGTERM/grace/SIGKILL/grace cancellation sequence against the
// session, closes it, and reports the corresponding status.
func commandExec(ctx context.Context, client *ssh.Client, h model.Host, command string, usePTY bool, timeout time.Duration, logger HostLogger, sudoPassword string) (stdout, stderr string, exitCode int, status model.Status, err error) {
	session, err := client.NewSession()
	if err != nil {
		return "", "", -1, model.StatusError, fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	if usePTY {
		modes := ssh.TerminalModes{
			ssh.ECHO:          0,
			ssh.TTY_OP_ISPEED: 14400,
			ssh.TTY_OP_OSPEED: 14400,
		}
		if err := session.RequestPty("xterm-256color", 80, 200, modes); err != nil {
			return "", "", -1, model.StatusError, fmt.Errorf("request pty: %w", err)
		}
	}

	stdoutPipe, err := session.StdoutPipe()
	if err != nil {
		return "", "", -1, model.StatusError, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := session.StderrPipe()
	if err != nil {
		return "", "", -1, model.StatusError, fmt.Errorf("stderr pipe: %w", err)
	}

	var stdinPipe io.WriteCloser
	if sudoPassword != "" {
		stdinPipe, err = session.StdinPipe()
		if err != nil {
			return "", "", -1, model.StatusError, fmt.Errorf("stdin pipe: %w", err)
		}
	}

	fullCommand := exportPrefix(h.Env) + command

	var outBuf, errBuf strings.Builder
	streamDone := make(chan struct{}, 2)

	var sudoOnce sync.Once
	onSudoPrompt := func(line string) {
		if stdinPipe != nil && strings.Contains(line, "[sudo]") {
			sudoOnce.Do(func() { fmt.Fprintf(stdinPipe, "%s\n", sudoPassword) })
		}
	}
	go streamLines(stdoutPipe, &outBuf, func(line string) {
		if logger != nil {
			logger.Line(h.DisplayName(), "stdout", line)
		}
		onSudoPrompt(line)
	}, streamDone)
	go streamLines(stderrPipe, &errBuf, func(line string) {
		if logger != nil {
			logger.Line(h.DisplayName(), "stderr", line)
		}
		onSudoPrompt(line)
	}, streamDone)

	if err := session.Start(fullCommand); err != nil {
		return "", "", -1, model.StatusError, fmt.Errorf("start command: %w", err)
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- session.Wait() }()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-ctx.Done():
		signalSequence(session)
		session.Close()
		<-streamDone
		<-streamDone
		return outBuf.String(), errBuf.String(), -1, model.StatusCancelled, ctx.Err()

	case <-timeoutCh:
		signalSequence(session)
		session.Close()
		<-streamDone
		<-streamDone
		return outBuf.String(), errBuf.String(), -1, model.StatusTimeout, fmt.Errorf("command timed out after %s", timeout)

	case runErr := <-waitDone:
		<-streamDone
		<-streamDone
		if runErr != nil {
			if exitErr, ok := runErr.(*ssh.ExitError); ok {
				return outBuf.String(), errBuf.String(), exitErr.ExitStatus(), model.StatusFailedNonZeroExit, nil
			}
			return outBuf.String(), errBuf.String(), -1, model.StatusError, runErr
		}
		return outBuf.String(), errBuf.String(), 0, model.StatusSuccess, nil
	}
}

// exportPrefix renders env as a leading "export K=V; export K2=V2; "
// shell prefix, the same approach the corpus uses to avoid a second
// round trip for environment setup.
func exportPrefix(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}
	var b strings.Builder
	for k, v := range env {
		fmt.Fprintf(&b, "export %s=%s; ", k, shellQuote(v))
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func streamLines(r io.Reader, buf *strings.Builder, onLine func(string), done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if !first {
			buf.WriteByte('\n')
		}
		first = false
		buf.WriteString(line)
		onLine(line)
	}
}

// signalSequence sends SIGTERM, waits grace, then SIGKILL, waits a
// shorter grace, matching the execute-with-cancellation sequence the
// original implementation drives off asyncio timeouts.
func signalSequence(session *ssh.Session) {
	session.Signal(ssh.SIGTERM)
	time.Sleep(5 * time.Second)
	session.Signal(ssh.SIGKILL)
	time.Sleep(2 * time.Second)
}
