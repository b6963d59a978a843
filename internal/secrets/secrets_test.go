package secrets

import (
	"path/filepath"
	"testing"
)

func TestGatewayKeyRoundTrip(t *testing.T) {
	root := t.TempDir()
	store := NewStore(filepath.Join(root, "secrets.enc"), filepath.Join(root, "master.key"))
	if err := store.SetGatewayKey("gw-test"); err != nil {
		t.Fatalf("set key: %v", err)
	}
	key, err := store.GetGatewayKey()
	if err != nil {
		t.Fatalf("get key: %v", err)
	}
	if key != "gw-test" {
		t.Fatalf("expected key roundtrip, got %q", key)
	}
}

func TestClearGatewayKey(t *testing.T) {
	root := t.TempDir()
	store := NewStore(filepath.Join(root, "secrets.enc"), filepath.Join(root, "master.key"))
	if err := store.SetGatewayKey("gw-test"); err != nil {
		t.Fatalf("set key: %v", err)
	}
	if err := store.ClearGatewayKey(); err != nil {
		t.Fatalf("clear key: %v", err)
	}
	key, err := store.GetGatewayKey()
	if err != nil {
		t.Fatalf("get key: %v", err)
	}
	if key != "" {
		t.Fatalf("expected cleared key, got %q", key)
	}
}

func TestMissingSecretsFileIsEmpty(t *testing.T) {
	root := t.TempDir()
	store := NewStore(filepath.Join(root, "secrets.enc"), filepath.Join(root, "master.key"))
	key, err := store.GetGatewayKey()
	if err != nil {
		t.Fatalf("get key: %v", err)
	}
	if key != "" {
		t.Fatalf("expected empty key, got %q", key)
	}
}
