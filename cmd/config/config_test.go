package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"

	"icn-node/internal/testutil"
)

func TestLoadConfigDefault(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("")
	if AppConfig.Mesh.MdnsServiceTag != "icn-mesh-mainnet" {
		t.Fatalf("unexpected mdns service tag: %s", AppConfig.Mesh.MdnsServiceTag)
	}
	if AppConfig.Mana.Capacity != 1000 {
		t.Fatalf("unexpected mana capacity: %d", AppConfig.Mana.Capacity)
	}
}

func TestLoadConfigOverride(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("bootstrap")
	if AppConfig.Mesh.MaxPeers != 128 {
		t.Fatalf("expected MaxPeers 128, got %d", AppConfig.Mesh.MaxPeers)
	}
	if AppConfig.Mesh.MdnsServiceTag != "icn-mesh-bootstrap" {
		t.Fatalf("expected mdns service tag override")
	}
}

func TestLoadConfigSandbox(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	if err := os.Mkdir(sb.Path("config"), 0700); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	data := []byte("mesh:\n  mdns_service_tag: sandbox\n  max_peers: 42\n")
	if err := sb.WriteFile("config/default.yaml", data, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("")

	if AppConfig.Mesh.MdnsServiceTag != "sandbox" {
		t.Fatalf("expected mdns service tag sandbox, got %s", AppConfig.Mesh.MdnsServiceTag)
	}
	if AppConfig.Mesh.MaxPeers != 42 {
		t.Fatalf("expected MaxPeers 42, got %d", AppConfig.Mesh.MaxPeers)
	}
}
