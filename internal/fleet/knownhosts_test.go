package fleet

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"
)

func genHostKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("new public key: %v", err)
	}
	return sshPub
}

func TestKnownHostsTrustsOnFirstUse(t *testing.T) {
	kh := NewKnownHosts("")
	key := genHostKey(t)

	if err := kh.verify("host-a:22", &net.TCPAddr{}, key); err != nil {
		t.Fatalf("expected first contact to be trusted, got %v", err)
	}
	if err := kh.verify("host-a:22", &net.TCPAddr{}, key); err != nil {
		t.Fatalf("expected repeated contact with the same key to succeed, got %v", err)
	}
}

func TestKnownHostsRejectsChangedKey(t *testing.T) {
	kh := NewKnownHosts("")
	key1 := genHostKey(t)
	key2 := genHostKey(t)

	if err := kh.verify("host-b:22", &net.TCPAddr{}, key1); err != nil {
		t.Fatalf("expected first contact to be trusted, got %v", err)
	}
	if err := kh.verify("host-b:22", &net.TCPAddr{}, key2); err == nil {
		t.Fatal("expected changed host key to be rejected")
	}
}

func TestKnownHostsPersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	key := genHostKey(t)

	first := NewKnownHosts(path)
	if err := first.verify("host-c:22", &net.TCPAddr{}, key); err != nil {
		t.Fatalf("trust: %v", err)
	}

	second := NewKnownHosts(path)
	if err := second.verify("host-c:22", &net.TCPAddr{}, key); err != nil {
		t.Fatalf("expected persisted key to be trusted across instances, got %v", err)
	}
}
