package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleInventory = `
version: v1
servers:
  web-01:
    host: 10.0.0.1
    user: deploy
    keyfile: /home/deploy/.ssh/id_rsa
    labels:
      env: prod
      role: web
  web-02:
    host: 10.0.0.2
    port: 2222
    user: deploy
    labels:
      env: staging
      role: web
groups:
  webtier:
    ip_expression: "10.0.0.0/24"
    label_expression: "role=web"
    default_user: fallback
    default_sudo: true
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "inventory.yml")
	if err := os.WriteFile(path, []byte(sampleInventory), 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	return path
}

func TestLoadAppliesPortDefault(t *testing.T) {
	inv, err := Load(writeSample(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if inv.Servers["web-01"].Port != 22 {
		t.Errorf("expected default port 22, got %d", inv.Servers["web-01"].Port)
	}
	if inv.Servers["web-02"].Port != 2222 {
		t.Errorf("expected explicit port 2222 preserved, got %d", inv.Servers["web-02"].Port)
	}
}

func TestHostsFlattensServers(t *testing.T) {
	inv, err := Load(writeSample(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	hosts := inv.Hosts()
	if len(hosts) != 2 {
		t.Fatalf("expected 2 hosts, got %d", len(hosts))
	}
}

func TestResolveGroupAppliesDefaultsWithoutOverwriting(t *testing.T) {
	inv, err := Load(writeSample(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	matched, err := inv.ResolveGroup("webtier")
	if err != nil {
		t.Fatalf("resolve group: %v", err)
	}
	if len(matched) != 2 {
		t.Fatalf("expected 2 hosts in webtier, got %d", len(matched))
	}
	for _, h := range matched {
		if h.Username != "deploy" {
			t.Errorf("expected explicit user preserved, got %q", h.Username)
		}
		if !h.Sudo {
			t.Errorf("expected default_sudo applied to %s", h.Name)
		}
	}
}

func TestResolveUnknownGroupErrors(t *testing.T) {
	inv, err := Load(writeSample(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := inv.ResolveGroup("does-not-exist"); err == nil {
		t.Fatal("expected error for unknown group")
	}
}
