package testlog

import (
	"testing"

	"github.com/packetforge-io/packetforge/internal/logging"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	logging.L().Info().Str("test", t.Name()).Msg("start")
}
