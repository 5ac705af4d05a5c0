package hlc_test

import (
	"testing"

	"lexgraph/internal/testutil"
)

func TestClockIsStandalone(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.ModuleImportForbidden, "hlc must not depend on other lexgraph packages")
}
