package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"inventorycore/internal/infra/blob"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.SQLitePath != "inventorycore.db" {
		t.Fatalf("unexpected storage defaults %+v", cfg.Storage)
	}
	if cfg.Locks.TTL != 15*time.Minute || cfg.Locks.Backend != "memory" {
		t.Fatalf("unexpected lock defaults %+v", cfg.Locks)
	}
	if cfg.Bulk.MaxBatchSize != 100 || cfg.Permissions.Mode != "owner" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Blob.Driver != blob.DriverFilesystem || cfg.Log.Level != "info" {
		t.Fatalf("unexpected nested defaults %+v %+v", cfg.Blob, cfg.Log)
	}
}

func TestLoadFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.yaml")
	body := strings.Join([]string{
		"storage:",
		"  driver: memory",
		"locks:",
		"  ttl: 5m",
		"permissions:",
		"  admins: [root, lab-manager]",
		"blob:",
		"  driver: s3",
		"  s3:",
		"    bucket: archives",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("INVENTORY_BULK_MAX_BATCH_SIZE", "25")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "memory" || cfg.Locks.TTL != 5*time.Minute {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Bulk.MaxBatchSize != 25 {
		t.Fatalf("expected env override, got %d", cfg.Bulk.MaxBatchSize)
	}
	if len(cfg.Permissions.Admins) != 2 || cfg.Blob.S3.Bucket != "archives" {
		t.Fatalf("unexpected nested values %+v %+v", cfg.Permissions, cfg.Blob)
	}
	if cfg.Storage.SQLitePath != "inventorycore.db" {
		t.Fatalf("expected untouched default to survive, got %q", cfg.Storage.SQLitePath)
	}
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	t.Setenv("INVENTORY_STORAGE_DRIVER", "etcd")
	t.Setenv("INVENTORY_LOCKS_BACKEND", "zookeeper")
	_, err := Load("")
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "etcd") || !strings.Contains(err.Error(), "zookeeper") {
		t.Fatalf("expected every problem reported, got %v", err)
	}
}

func TestValidatePostgresNeedsDSN(t *testing.T) {
	t.Setenv("INVENTORY_STORAGE_DRIVER", "postgres")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "postgres_dsn") {
		t.Fatalf("expected dsn requirement, got %v", err)
	}
}
