package fleet

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
)

// KnownHosts implements trust-on-first-use host key verification:
// accept and record a host's key the first time it is seen, refuse the
// connection if a later handshake presents a different key for the
// same host. The on-disk format is one line per host, "host key-type
// base64-key", matching the manual known_hosts conventions used
// elsewhere in the corpus rather than the OpenSSH hashed-hostname
// format.
type KnownHosts struct {
	path string
	mu   sync.Mutex
	keys map[string]ssh.PublicKey
}

// NewKnownHosts returns a store backed by path. An empty path disables
// persistence: keys are still tracked in-memory for the process
// lifetime, trusting new hosts but still refusing key changes within a
// single run.
func NewKnownHosts(path string) *KnownHosts {
	kh := &KnownHosts{path: path, keys: make(map[string]ssh.PublicKey)}
	if path != "" {
		kh.load()
	}
	return kh
}

// Callback returns an ssh.HostKeyCallback implementing the TOFU policy.
func (kh *KnownHosts) Callback() ssh.HostKeyCallback {
	return kh.verify
}

func (kh *KnownHosts) verify(hostname string, remote net.Addr, key ssh.PublicKey) error {
	host, _, err := net.SplitHostPort(hostname)
	if err != nil {
		host = hostname
	}

	kh.mu.Lock()
	defer kh.mu.Unlock()

	existing, known := kh.keys[host]
	if !known {
		kh.keys[host] = key
		if kh.path != "" {
			kh.save()
		}
		return nil
	}

	if string(existing.Marshal()) == string(key.Marshal()) {
		return nil
	}

	return fmt.Errorf("host key mismatch for %s: expected %s, got %s",
		host, ssh.FingerprintSHA256(existing), ssh.FingerprintSHA256(key))
}

func (kh *KnownHosts) load() {
	f, err := os.Open(kh.path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, " ", 3)
		if len(parts) != 3 {
			continue
		}
		keyBytes, err := base64.StdEncoding.DecodeString(parts[2])
		if err != nil {
			continue
		}
		pubKey, err := ssh.ParsePublicKey(keyBytes)
		if err != nil {
			continue
		}
		kh.keys[parts[0]] = pubKey
	}
}

// save persists the full known-hosts table. Caller must hold kh.mu.
func (kh *KnownHosts) save() {
	dir := filepath.Dir(kh.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return
		}
	}

	var b strings.Builder
	b.WriteString("# managed by pssh trust-on-first-use\n")
	for host, key := range kh.keys {
		fmt.Fprintf(&b, "%s %s %s\n", host, key.Type(), base64.StdEncoding.EncodeToString(key.Marshal()))
	}
	os.WriteFile(kh.path, []byte(b.String()), 0o600)
}
