package app

import (
	"fmt"
	"io"
	"sync"

	"github.com/dshills/buildninja/internal/integration/task"
)

// Notifier prints provider notifications to a stream, usually stderr.
type Notifier struct {
	mu     sync.Mutex
	w      io.Writer
	styles styles
	count  int
}

var _ task.Notifier = (*Notifier)(nil)

// NewNotifier creates a notifier writing to w.
func NewNotifier(w io.Writer) *Notifier {
	return &Notifier{
		w:      w,
		styles: newStyles(w),
	}
}

// Notify prints n as a title line followed by an indented detail line.
func (n *Notifier) Notify(x task.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.count++
	fmt.Fprintf(n.w, "%s %s\n", n.styles.Warning.Render("!"), n.styles.Error.Render(x.Title))
	if x.Detail != "" {
		fmt.Fprintf(n.w, "  %s\n", x.Detail)
	}
}

// Count returns how many notifications were printed.
func (n *Notifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}
