// Package ui holds the presentation ports the client talks to: a Notifier for
// transient user notices and a Navigator for route changes.
package ui

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Level classifies a notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// RouteLogin is where the client sends the user after a terminal auth failure.
const RouteLogin = "/login"

// Notifier surfaces a short message to the user.
type Notifier interface {
	Notify(level Level, message string)
}

// Navigator moves the user to another route.
type Navigator interface {
	Navigate(route string)
}

// WriterNotifier prints notices as single lines, e.g. to stderr.
type WriterNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterNotifier returns a Notifier that writes to w.
func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

// Notify implements Notifier.
func (n *WriterNotifier) Notify(level Level, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintf(n.w, "[%s] %s\n", level, message)
}

// WriterNavigator records route changes as hints for a terminal user.
type WriterNavigator struct {
	w io.Writer
}

// NewWriterNavigator returns a Navigator that writes a hint to w.
func NewWriterNavigator(w io.Writer) *WriterNavigator {
	return &WriterNavigator{w: w}
}

// Navigate implements Navigator.
func (n *WriterNavigator) Navigate(route string) {
	if route == RouteLogin {
		fmt.Fprintln(n.w, "run `toptop login` to sign in again")
		return
	}
	fmt.Fprintf(n.w, "navigate: %s\n", route)
}

// LogNotifier forwards notices to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(level Level, message string) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if level == LevelError {
		logger.Warn("user notice", "level", string(level), "message", message)
		return
	}
	logger.Info("user notice", "level", string(level), "message", message)
}

// Notice is one recorded notification.
type Notice struct {
	Level   Level
	Message string
}

// Recorder captures notices and routes in memory. It implements both ports and
// is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
	routes  []string
}

// Notify implements Notifier.
func (r *Recorder) Notify(level Level, message string) {
	r.mu.Lock()
	r.notices = append(r.notices, Notice{Level: level, Message: message})
	r.mu.Unlock()
}

// Navigate implements Navigator.
func (r *Recorder) Navigate(route string) {
	r.mu.Lock()
	r.routes = append(r.routes, route)
	r.mu.Unlock()
}

// Notices returns a copy of the recorded notices.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Routes returns a copy of the recorded routes.
func (r *Recorder) Routes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.routes...)
}

// Discard drops everything.
type Discard struct{}

// Notify implements Notifier.
func (Discard) Notify(Level, string) {}

// Navigate implements Navigator.
func (Discard) Navigate(string) {}
