package observability

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rollbar/rollbar-go"
)

// SetupRollbar configures the Rollbar SDK if the access token is present.
// It returns a boolean indicating whether Rollbar was enabled and a cleanup
// function that should be deferred to flush pending items.
func SetupRollbar(logger *slog.Logger, codeVersion string) (bool, func()) {
	token := strings.TrimSpace(os.Getenv("ROLLBAR_ACCESS_TOKEN"))
	if token == "" {
		rollbar.SetEnabled(false)
		logger.Debug("rollbar disabled", "reason", "missing access token")
		return false, func() {}
	}

	rollbar.SetEnabled(true)
	rollbar.SetToken(token)

	env := strings.TrimSpace(os.Getenv("ROLLBAR_ENVIRONMENT"))
	if env == "" {
		env = "production"
	}
	rollbar.SetEnvironment(env)

	if v := strings.TrimSpace(os.Getenv("ROLLBAR_CODE_VERSION")); v != "" {
		codeVersion = v
	}
	if codeVersion != "" {
		rollbar.SetCodeVersion(codeVersion)
	}

	if host := strings.TrimSpace(os.Getenv("ROLLBAR_SERVER_HOST")); host != "" {
		rollbar.SetServerHost(host)
	} else if hostname, err := os.Hostname(); err == nil && hostname != "" {
		rollbar.SetServerHost(hostname)
	}

	if root := strings.TrimSpace(os.Getenv("ROLLBAR_SERVER_ROOT")); root != "" {
		rollbar.SetServerRoot(root)
	} else if wd, err := os.Getwd(); err == nil {
		rollbar.SetServerRoot(filepath.Clean(wd))
	}

	rollbar.SetCaptureIp(rollbar.CaptureIpAnonymize)

	logger.Info("rollbar enabled", "environment", env)

	return true, func() {
		rollbar.Wait()
	}
}

// CapturePanic reports panics to Rollbar when enabled and re-panics.
func CapturePanic(logger *slog.Logger, enabled bool) func() {
	if !enabled {
		return func() {}
	}

	return func() {
		if rec := recover(); rec != nil {
			rollbar.Critical(panicError(rec))
			rollbar.Wait()
			logger.Error("panic captured", "panic", rec)
			panic(rec)
		}
	}
}

// CheckerPanicReporter returns a hook for recovered checker panics. The
// engine has already converted the panic into a failure, so it is reported
// as an error rather than a crash.
func CheckerPanicReporter(enabled bool) func(service, check, host, kind string, rec any) {
	if !enabled {
		return nil
	}
	return func(service, check, host, kind string, rec any) {
		rollbar.Error(panicError(rec), map[string]interface{}{
			"service": service,
			"check":   check,
			"host":    host,
			"checker": kind,
		})
	}
}

func panicError(rec any) error {
	if err, ok := rec.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", rec)
}
