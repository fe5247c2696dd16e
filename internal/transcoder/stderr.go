package transcoder

import (
	"bufio"
	"io"
	"log/slog"
	"strings"
)

// errorMarkers are lowercase substrings that mark an encoder stderr line as
// an error rather than chatter. The encoder has no machine-readable error
// channel, so this is a keyword match over its diagnostics.
var errorMarkers = []string{
	"error",
	"failed",
	"fail:",
	"invalid",
	"unable to",
	"cannot",
	"could not",
	"denied",
	"refused",
	"forbidden",
	"unauthorized",
	"not found",
	"timed out",
	"timeout",
	"no such",
	"unsupported",
	"corrupt",
	"broken pipe",
}

// isErrorLine reports whether an encoder stderr line describes a failure.
func isErrorLine(line string) bool {
	lower := strings.ToLower(line)
	for _, marker := range errorMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// isProgressLine reports whether a stderr line is a periodic progress
// update rather than a diagnostic.
func isProgressLine(line string) bool {
	return strings.Contains(line, "frame=") || strings.Contains(line, "speed=")
}

// readStderr drains encoder stderr into the retained ring and counts lines
// that look like errors. It returns when the pipe closes.
func (s *Supervisor) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	scanner.Split(scanLinesWithCR)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if isProgressLine(line) {
			continue
		}

		s.appendStderr(line)

		if isErrorLine(line) {
			s.errorCount.Add(1)
			s.logger.Debug("encoder stderr",
				slog.Int("pid", s.PID()),
				slog.String("line", line))
			if s.cfg.OnErrorLine != nil {
				s.cfg.OnErrorLine(line)
			}
		}
	}
}

func (s *Supervisor) appendStderr(line string) {
	s.stderrMu.Lock()
	defer s.stderrMu.Unlock()
	s.stderrLines = append(s.stderrLines, line)
	if limit := s.historyLimit(); len(s.stderrLines) > limit {
		s.stderrLines = s.stderrLines[len(s.stderrLines)-limit:]
	}
}

// scanLinesWithCR splits on both \r and \n, folding runs of either into one
// delimiter. The encoder rewrites progress lines with bare carriage
// returns, so plain line scanning would glue them together.
func scanLinesWithCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	for i := 0; i < len(data); i++ {
		if data[i] == '\r' || data[i] == '\n' {
			advance = i + 1
			for advance < len(data) && (data[advance] == '\r' || data[advance] == '\n') {
				advance++
			}
			return advance, data[0:i], nil
		}
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}
