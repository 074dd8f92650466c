package wsstats

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/tzrikka/xdg"

	"github.com/aviatorsys/wsreactor/pkg/wsevent"
	"github.com/aviatorsys/wsreactor/pkg/wsframe"
)

const (
	DefaultConnectionsFile = "wsstats/wsechod_connections_%s.csv"
	DefaultMessagesFile    = "wsstats/wsechod_messages_%s.csv"
	DefaultClosesFile      = "wsstats/wsechod_closes_%s.csv"

	fileFlags = os.O_APPEND | os.O_CREATE | os.O_WRONLY
	filePerms = xdg.NewFilePermissions
)

var (
	muConn  sync.Mutex
	muMsg   sync.Mutex
	muClose sync.Mutex
)

// RecordConnect appends one row for a newly accepted connection.
func RecordConnect(l *slog.Logger, t time.Time, h wsevent.Handle) {
	muConn.Lock()
	defer muConn.Unlock()

	record := []string{t.Format(time.RFC3339), handleField(h)}
	if err := appendToCSVFile(DefaultConnectionsFile, t, record); err != nil {
		l.Error("wsstats: failed to record connect", slog.Any("error", err), slog.Uint64("handle", uint64(h)))
	}
}

// RecordMessage appends one row per message event delivered by the
// reactor (text, binary, ping or pong), regardless of direction.
func RecordMessage(l *slog.Logger, t time.Time, h wsevent.Handle, kind wsevent.EventKind, payloadBytes int) {
	muMsg.Lock()
	defer muMsg.Unlock()

	record := []string{t.Format(time.RFC3339), handleField(h), kind.String(), strconv.Itoa(payloadBytes)}
	if err := appendToCSVFile(DefaultMessagesFile, t, record); err != nil {
		l.Error("wsstats: failed to record message", slog.Any("error", err), slog.Uint64("handle", uint64(h)))
	}
}

// RecordClose appends one row when a connection reaches its terminal
// state, tagged with the close status that caused it.
func RecordClose(l *slog.Logger, t time.Time, h wsevent.Handle, status wsframe.StatusCode) {
	muClose.Lock()
	defer muClose.Unlock()

	record := []string{t.Format(time.RFC3339), handleField(h), strconv.Itoa(int(status))}
	if err := appendToCSVFile(DefaultClosesFile, t, record); err != nil {
		l.Error("wsstats: failed to record close", slog.Any("error", err), slog.Uint64("handle", uint64(h)))
	}
}

func handleField(h wsevent.Handle) string {
	return strconv.FormatUint(uint64(h), 10)
}

func appendToCSVFile(filename string, t time.Time, record []string) error {
	filename = fmt.Sprintf(filename, t.Format(time.DateOnly))
	if err := os.MkdirAll("wsstats", 0o750); err != nil {
		return err
	}

	f, err := os.OpenFile(filename, fileFlags, filePerms) //gosec:disable G304 // Hardcoded path.
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(record); err != nil {
		return err
	}

	w.Flush()
	return w.Error()
}
