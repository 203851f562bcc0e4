package observability

import (
	"testing"

	"inventorycore/testutil"
)

func TestExportsAreDocumented(t *testing.T) {
	testutil.AssertDocumented(t, ".")
}
