package launcher

import (
	"bytes"
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var (
	plainWord = regexp.MustCompile(`^[A-Za-z0-9_./:=@%+,-]+$`)
	envName   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// shellQuote returns s unchanged when the shell would read it as one plain
// word, and single-quoted otherwise.
func shellQuote(s string) string {
	if plainWord.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func shellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = shellQuote(arg)
	}
	return strings.Join(quoted, " ")
}

// exportStatements renders env as "export K=V; " statements in key order.
// Names that are not valid shell identifiers are skipped.
func exportStatements(env map[string]string) string {
	var b strings.Builder
	for _, k := range sortedKeys(env) {
		if !envName.MatchString(k) {
			continue
		}
		b.WriteString("export ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(shellQuote(env[k]))
		b.WriteString("; ")
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// lineLogger turns task output into one log record per line.
type lineLogger struct {
	ctx    context.Context
	logger *slog.Logger
	stream string

	mu  sync.Mutex
	buf bytes.Buffer
}

func newLineLogger(ctx context.Context, logger *slog.Logger, stream string) *lineLogger {
	return &lineLogger{ctx: ctx, logger: logger, stream: stream}
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Write(p)
	for {
		line, err := l.buf.ReadString('\n')
		if err != nil {
			l.buf.WriteString(line)
			break
		}
		l.emit(strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

func (l *lineLogger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buf.Len() > 0 {
		l.emit(l.buf.String())
		l.buf.Reset()
	}
}

func (l *lineLogger) emit(line string) {
	if l.logger == nil {
		return
	}
	l.logger.InfoContext(l.ctx, "task output", "stream", l.stream, "line", line)
}
