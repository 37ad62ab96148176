package skywave

/*------------------------------------------------------------------
 *
 * Purpose:	Process-wide logging.
 *
 * Description:	The C original multiplexed between syslog, stderr and a
 *		bulk debug file.  Here everything funnels through one
 *		structured logger; -d adds a debug-level file tee.
 *
 *---------------------------------------------------------------*/

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

var logger = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	Prefix:          "skywave",
})

var debug_file *os.File

// log_init is called once from Main before any worker starts.
func log_init(debug_path string) {
	if debug_path == "" {
		return
	}
	var f, err = os.OpenFile(debug_path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logger.Error("cannot open debug log", "path", debug_path, "error", err)
		return
	}
	debug_file = f
	logger.SetOutput(io.MultiWriter(os.Stderr, f))
	logger.SetLevel(log.DebugLevel)
}

func log_close() {
	if debug_file != nil {
		debug_file.Close()
		debug_file = nil
	}
}

func log_debug(msg string, kv ...any) {
	logger.Debug(msg, kv...)
}

func log_info(msg string, kv ...any) {
	logger.Info(msg, kv...)
}

func log_warn(msg string, kv ...any) {
	logger.Warn(msg, kv...)
}

func log_error(msg string, kv ...any) {
	logger.Error(msg, kv...)
}

func log_fatal(msg string, kv ...any) {
	logger.Fatal(msg, kv...)
}
