package audit_test

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gdp-tracker/gdp-backend/internal/audit"
	"github.com/gdp-tracker/gdp-backend/internal/orders"
	"github.com/gdp-tracker/gdp-backend/pkg/sshx"
	"github.com/gdp-tracker/gdp-backend/test/sshserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2025, 3, 4, 9, 12, 30, 0, time.Local)

// shell fakes the few commands the writer runs against an in-memory file set.
type shell struct {
	mu       sync.Mutex
	files    map[string]string
	commands []string
	fail     string
	sessions int
}

func newShell() *shell {
	return &shell{files: map[string]string{}}
}

func (s *shell) WithSession(ctx context.Context, fn func(sshx.Commander) error) error {
	s.mu.Lock()
	s.sessions++
	s.mu.Unlock()

	return fn(s)
}

func (s *shell) Run(ctx context.Context, cmd string, stdin []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.commands = append(s.commands, cmd)

	if s.fail != "" && strings.HasPrefix(cmd, s.fail) {
		return nil, errors.New("command exited with status 1: permission denied")
	}

	switch {
	case strings.HasPrefix(cmd, "if [ -f "):
		file := unquote(strings.TrimSuffix(strings.TrimPrefix(cmd, "if [ -f "), " ]; then echo EXISTS; else echo NEW; fi"))
		if _, ok := s.files[file]; ok {
			return []byte("EXISTS\n"), nil
		}

		return []byte("NEW\n"), nil
	case strings.HasPrefix(cmd, "base64 -d >> "):
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(stdin)))
		if err != nil {
			return nil, err
		}

		file := unquote(strings.TrimPrefix(cmd, "base64 -d >> "))
		s.files[file] += string(data)
	}

	return nil, nil
}

func unquote(s string) string {
	return strings.ReplaceAll(strings.Trim(s, "'"), `'"'"'`, "'")
}

func entry() audit.Entry {
	return audit.Entry{
		N:         1187,
		NomClient: "Ferme du Bois",
		PC:        "ATELIER-2",
		Changes: []orders.Change{
			{Column: "REMARQUES", Old: "", New: "l'accès par l'arrière"},
			{Column: "STATUT", Old: "EN STOCK", New: "LIVREE"},
		},
	}
}

func TestFilePath(t *testing.T) {
	assert.Equal(t, "/volume1/logs/2025-03-04__Ferme_du_Bois.txt", audit.FilePath("/volume1/logs", at, "Ferme du Bois"))
	assert.Equal(t, "/logs/2025-03-04__INCONNU.txt", audit.FilePath("/logs/", at, "  "))
	assert.Equal(t, "/logs/2025-03-04__Societe_Generale_Lefevre.txt", audit.FilePath("/logs", at, "Société Générale / Lefèvre"))
}

func TestFormat(t *testing.T) {
	assert.Equal(t,
		"[2025-03-04 09:12:30] PC=ATELIER-2 N=1187 NOM_CLIENT=Ferme du Bois | REMARQUES: '' -> 'l'accès par l'arrière'\n"+
			"[2025-03-04 09:12:30] PC=ATELIER-2 N=1187 NOM_CLIENT=Ferme du Bois | STATUT: 'EN STOCK' -> 'LIVREE'\n",
		audit.Format(entry(), at))
}

func TestWriteAppendsThroughOneSession(t *testing.T) {
	sh := newShell()
	w := audit.NewWriter("/volume1/DO-0006 LOGS", sh, audit.WithClock(func() time.Time { return at }))

	res := w.Write(context.Background(), entry())
	require.True(t, res.OK, res.Error)
	assert.False(t, res.Existed)

	file := "/volume1/DO-0006 LOGS/2025-03-04__Ferme_du_Bois.txt"
	assert.Equal(t, file, res.File)
	assert.Equal(t, audit.Format(entry(), at), sh.files[file])
	assert.Equal(t, 1, sh.sessions)
	assert.Equal(t, "mkdir -p '/volume1/DO-0006 LOGS'", sh.commands[0])

	res = w.Write(context.Background(), entry())
	require.True(t, res.OK)
	assert.True(t, res.Existed)
	assert.Equal(t, 2*len(audit.Format(entry(), at)), len(sh.files[file]))
}

func TestWriteWithoutChangesDoesNothing(t *testing.T) {
	sh := newShell()
	e := entry()
	e.Changes = nil

	res := audit.NewWriter("/logs", sh).Write(context.Background(), e)
	assert.False(t, res.OK)
	assert.Equal(t, audit.ReasonNoChanges, res.Reason)
	assert.Zero(t, sh.sessions)
}

func TestWriteReportsFailure(t *testing.T) {
	sh := newShell()
	sh.fail = "mkdir"

	res := audit.NewWriter("/logs", sh, audit.WithClock(func() time.Time { return at })).Write(context.Background(), entry())
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "mkdir")
	assert.Contains(t, res.Error, "permission denied")
	assert.Equal(t, "/logs/2025-03-04__Ferme_du_Bois.txt", res.File)
	assert.Len(t, sh.commands, 1)
}

func TestWriteOverSSH(t *testing.T) {
	var (
		mu       sync.Mutex
		appended []byte
	)

	srv := sshserver.Start(t, sshserver.Options{
		User:     "gdp",
		Password: "secret",
		Exec: func(cmd string, stdin []byte) (string, uint32) {
			switch {
			case strings.HasPrefix(cmd, "if [ -f"):
				return "EXISTS\n", 0
			case strings.HasPrefix(cmd, "base64 -d"):
				data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(stdin)))
				if err != nil {
					return "", 1
				}

				mu.Lock()
				appended = append(appended, data...)
				mu.Unlock()
			}

			return "", 0
		},
	})

	exec := sshx.NewRemoteExecutor(sshx.TunnelConfig{
		SSH:         sshx.Endpoint{Host: srv.Host, Port: srv.Port},
		User:        "gdp",
		Password:    "secret",
		DialTimeout: 2 * time.Second,
	})

	res := audit.NewWriter("/logs", exec, audit.WithClock(func() time.Time { return at })).Write(context.Background(), entry())
	require.True(t, res.OK, res.Error)
	assert.True(t, res.Existed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, audit.Format(entry(), at), string(appended))
	assert.Equal(t, []string{
		"mkdir -p '/logs'",
		"if [ -f '/logs/2025-03-04__Ferme_du_Bois.txt' ]; then echo EXISTS; else echo NEW; fi",
		"base64 -d >> '/logs/2025-03-04__Ferme_du_Bois.txt'",
	}, srv.Commands())
}
