package process

import (
	"os"
	"strconv"
	"strings"
)

func readFileString(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func readExitCode(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return code, true
}

func removeCaptureFiles(rec *record) {
	os.Remove(rec.stdoutFile)
	os.Remove(rec.stderrFile)
	os.Remove(rec.exitFile)
}
