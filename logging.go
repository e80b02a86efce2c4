package avail

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/kataras/golog"
)

const NEWLINE = "\n"

var Log = newLogger()

type LoaderFormatter struct{}

// The name of the formatter.
func (s *LoaderFormatter) String() string {
	return "LoaderFormatter"
}

// Set any options and return a clone,
// generic. See `Logger.SetFormat`.
func (s *LoaderFormatter) Options(_ ...interface{}) golog.Formatter {
	// no custom options currently
	return s
}

// Writes the "log" to "dest" logger.
func (s *LoaderFormatter) Format(dest io.Writer, log *golog.Log) bool {
	timestamp := time.Now().Format(time.RFC1123)
	line := fmt.Sprintf("%s %s %s: %s%s", timestamp, golog.Levels[log.Level].Text(true), getCallingFunction(), log.Message, NEWLINE)
	if _, err := dest.Write([]byte(line)); err != nil {
		fmt.Printf("[FATAL] error in logger: %+v\n", err)
		return false
	}
	return true
}

// configure logging here
func newLogger() *golog.Logger {
	logger := golog.New()
	logger.RegisterFormatter(&LoaderFormatter{})
	logger.SetLevel("info")
	logger.SetFormat("LoaderFormatter")
	return logger
}

// warnContext logs a warning along with a JSON rendering of whatever data
// explains it (the offending extension, record id, etc).
func warnContext(prefix string, message string, context interface{}) {
	logMessage := message
	if len(prefix) > 0 {
		logMessage = fmt.Sprintf("%s: %s", prefix, message)
	}

	if context == nil {
		Log.Warn(logMessage)
		return
	}

	encoded, err := json.Marshal(context)
	if err != nil {
		Log.Warnf("%s %+v", logMessage, context)
		return
	}
	Log.Warnf("%s %s", logMessage, encoded)
}

func getStackFrame(skipFrames int, skipFnNames []string) runtime.Frame {
	// We need the frame at index skipFrames+2, since we never want runtime.Callers and getFrame
	targetFrameIndex := skipFrames + 2

	for foundValidFrame := false; !foundValidFrame; {
		programCounters := make([]uintptr, targetFrameIndex+2)
		n := runtime.Callers(0, programCounters)

		var frame runtime.Frame
		if n > 0 {
			frames := runtime.CallersFrames(programCounters[:n])
			for more, frameIndex := true, 0; more && frameIndex <= targetFrameIndex; frameIndex++ {
				var frameCandidate runtime.Frame
				frameCandidate, more = frames.Next()
				if frameIndex == targetFrameIndex {
					frame = frameCandidate
				}
			}
		} else {
			break
		}

		foundValidFrame = true
		for _, skipFnName := range skipFnNames {
			if strings.Contains(frame.Function, skipFnName) {
				targetFrameIndex++
				foundValidFrame = false
				break
			}
		}

		if foundValidFrame {
			return frame
		}
	}

	return runtime.Frame{Function: "unknown"}
}

// returns the name of the function that called the logger,
// skipping logging and helper frames
func getCallingFunction() string {
	skipFnNames := []string{"kataras", "avail.warnContext"}
	parts := strings.Split(getStackFrame(2, skipFnNames).Function, "/")
	return parts[len(parts)-1]
}
