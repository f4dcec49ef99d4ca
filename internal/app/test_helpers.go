package app

import (
	"bytes"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/specialistvlad/lorapack/internal/config"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// SetupAppTest creates a new app instance for system testing. Operator
// identity lookups see an empty environment unless overridden by opts.
func SetupAppTest(t *testing.T, appConfig *Config, loader config.Loader, in io.Reader, opts ...Option) (*App, *SafeBuffer) {
	t.Helper()

	logBuffer := &SafeBuffer{}
	appConfig.LogLevel = "debug"
	base := []Option{WithGetenv(func(string) string { return "" })}
	testApp := NewApp(logBuffer, in, appConfig, loader, append(base, opts...)...)

	t.Cleanup(func() {
		if os.Getenv("LORAPACK_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, logBuffer
}
