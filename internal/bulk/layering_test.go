package bulk

import (
	"testing"

	"inventorycore/testutil"
)

func TestNoStorageBackendImports(t *testing.T) {
	testutil.AssertNoImports(t, ".", testutil.StorageDriver, "bulk works against domain transactions only")
}
