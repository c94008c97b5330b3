package engine

import (
	"io"
	"os"
	"testing"

	"github.com/modelpull/modelpull/internal/utils"
)

func TestMain(m *testing.M) {
	// Transfer tests exercise failure and cancel paths on purpose;
	// keep their log lines out of the test output.
	utils.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}
