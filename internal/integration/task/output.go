package task

import (
	"bufio"
	"io"
	"sync"
	"time"
)

// DefaultOutputCapacity is the number of lines an OutputLog keeps.
const DefaultOutputCapacity = 10000

// maxLineSize bounds a single scanned output line.
const maxLineSize = 1024 * 1024

// OutputStream identifies the source stream.
type OutputStream int

const (
	// OutputStreamStdout is standard output.
	OutputStreamStdout OutputStream = iota
	// OutputStreamStderr is standard error.
	OutputStreamStderr
)

// String returns the stream name.
func (s OutputStream) String() string {
	switch s {
	case OutputStreamStdout:
		return "stdout"
	case OutputStreamStderr:
		return "stderr"
	default:
		return "unknown"
	}
}

// OutputLine represents a single line of output.
type OutputLine struct {
	// Content is the line content without the line terminator.
	Content string

	// Stream identifies the source (stdout or stderr).
	Stream OutputStream

	// Timestamp is when the line was received.
	Timestamp time.Time

	// LineNumber is the sequential line number across both streams (1-based).
	LineNumber int
}

// OutputLog records the output lines of one execution in a bounded ring.
// When full, the oldest lines are dropped. It is safe for concurrent use.
type OutputLog struct {
	mu       sync.RWMutex
	lines    []OutputLine
	capacity int
	head     int
	count    int
	total    int
}

// NewOutputLog creates a log keeping at most capacity lines.
func NewOutputLog(capacity int) *OutputLog {
	if capacity <= 0 {
		capacity = DefaultOutputCapacity
	}
	return &OutputLog{
		lines:    make([]OutputLine, capacity),
		capacity: capacity,
	}
}

// Process reads r line by line, records each line and passes it to
// callback. It returns when r is exhausted.
func (l *OutputLog) Process(r io.Reader, stream OutputStream, callback func(OutputLine)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := l.add(scanner.Text(), stream)
		if callback != nil {
			callback(line)
		}
	}

	return scanner.Err()
}

func (l *OutputLog) add(content string, stream OutputStream) OutputLine {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total++
	line := OutputLine{
		Content:    content,
		Stream:     stream,
		Timestamp:  time.Now(),
		LineNumber: l.total,
	}

	idx := (l.head + l.count) % l.capacity
	l.lines[idx] = line
	if l.count < l.capacity {
		l.count++
	} else {
		l.head = (l.head + 1) % l.capacity
	}

	return line
}

// Tail returns the last n retained lines. A negative n returns all of them.
func (l *OutputLog) Tail(n int) []OutputLine {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n < 0 || n > l.count {
		n = l.count
	}

	result := make([]OutputLine, n)
	start := l.count - n
	for i := 0; i < n; i++ {
		result[i] = l.lines[(l.head+start+i)%l.capacity]
	}
	return result
}
