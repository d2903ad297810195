package api

import (
	"os"
	"testing"

	"github.com/kyleking/askmetrics/internal/logging"
)

func TestMain(m *testing.M) {
	logging.SetupFallbackLogger()
	os.Exit(m.Run())
}
