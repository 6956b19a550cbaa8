// Package audit appends the changes of an order update to a dated log file on the SSH host.
//
// One file per day and client: <dir>/<YYYY-MM-DD>__<slug>.txt. Each changed column is one line:
//
//	[2025-03-04 09:12:30] PC=ATELIER-2 N=1187 NOM_CLIENT=FERME DU BOIS | STATUT: 'EN STOCK' -> 'LIVREE'
//
// The file is written through SSH exec so the host only needs a POSIX shell and base64.
package audit

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gdp-tracker/gdp-backend/internal/orders"
	"github.com/gdp-tracker/gdp-backend/pkg/logx"
	"github.com/gdp-tracker/gdp-backend/pkg/sshx"
	"github.com/gdp-tracker/gdp-backend/pkg/utilx/textx"
	"github.com/pkg/errors"
)

const (
	fileDateLayout = "2006-01-02"
	lineTimeLayout = "2006-01-02 15:04:05"
	slugMaxLen     = 80

	ReasonNoChanges = "no_changes"
)

// Sessions opens a remote shell session; *sshx.RemoteExecutor implements it.
type Sessions interface {
	WithSession(ctx context.Context, fn func(sshx.Commander) error) error
}

// Entry is the audit record of one update.
type Entry struct {
	N         int64
	NomClient string
	PC        string
	Changes   []orders.Change
}

// Result reports what happened to an entry. A failed write never fails the update it records.
type Result struct {
	OK      bool   `json:"ok"`
	File    string `json:"file,omitempty"`
	Existed bool   `json:"existed"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Writer struct {
	dir      string
	sessions Sessions
	now      func() time.Time
	timeout  time.Duration
}

type Option func(*Writer)

// WithClock sets the time source of file names and line stamps.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		w.now = now
	}
}

func NewWriter(dir string, sessions Sessions, opts ...Option) *Writer {
	w := &Writer{dir: dir, sessions: sessions, now: time.Now, timeout: sshx.RunTimeout}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// FilePath is the log file of nomClient for the day of at.
func FilePath(dir string, at time.Time, nomClient string) string {
	return path.Join(dir, at.Format(fileDateLayout)+"__"+textx.Slugify(nomClient, slugMaxLen)+".txt")
}

// Format renders the lines of e stamped at, newline terminated.
func Format(e Entry, at time.Time) string {
	var b strings.Builder

	stamp := at.Format(lineTimeLayout)
	for _, c := range e.Changes {
		fmt.Fprintf(&b, "[%s] PC=%s N=%d NOM_CLIENT=%s | %s: '%s' -> '%s'\n",
			stamp, e.PC, e.N, e.NomClient, c.Column, c.Old, c.New)
	}

	return b.String()
}

// Write appends e to its log file. Nothing is written when e has no changes.
func (w *Writer) Write(ctx context.Context, e Entry) Result {
	logger := logx.GetLogger()

	if len(e.Changes) == 0 {
		logger.LogDebug(ctx, fmt.Sprintf("audit: order %d has no changes, nothing logged", e.N))
		return Result{Reason: ReasonNoChanges}
	}

	at := w.now()
	file := FilePath(w.dir, at, e.NomClient)
	payload := Format(e, at)

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	var existed bool

	err := w.sessions.WithSession(ctx, func(c sshx.Commander) error {
		var err error
		existed, err = appendRemote(ctx, c, file, payload)

		return err
	})
	if err != nil {
		logger.LogError(ctx, fmt.Sprintf("audit: append to %s failed", file), err)
		return Result{File: file, Error: err.Error()}
	}

	logger.LogInfo(ctx, fmt.Sprintf("audit: %d change(s) of order %d logged in %s", len(e.Changes), e.N, file))

	return Result{OK: true, File: file, Existed: existed}
}

// appendRemote creates the directory, checks whether file exists and appends payload base64 encoded,
// so quotes and newlines in values never reach the shell.
func appendRemote(ctx context.Context, c sshx.Commander, file, payload string) (existed bool, err error) {
	quoted := sshx.ShellQuote(file)

	if _, err = c.Run(ctx, "mkdir -p "+sshx.ShellQuote(path.Dir(file)), nil); err != nil {
		return false, errors.Wrap(err, "mkdir")
	}

	out, err := c.Run(ctx, fmt.Sprintf("if [ -f %s ]; then echo EXISTS; else echo NEW; fi", quoted), nil)
	if err != nil {
		return false, errors.Wrap(err, "check file")
	}

	existed = strings.TrimSpace(string(out)) == "EXISTS"

	encoded := base64.StdEncoding.EncodeToString([]byte(payload)) + "\n"
	if _, err = c.Run(ctx, "base64 -d >> "+quoted, []byte(encoded)); err != nil {
		return existed, errors.Wrap(err, "append")
	}

	return existed, nil
}
