package datalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
)

// Upload retrieves the session's log files from the device into the
// logger's directory and returns the local paths written. Both mounts are
// searched, since the device may have recorded to either; an absent mount
// is skipped. A local file with the same name is renamed out of the way
// with a "-1", "-2", ... suffix before the download replaces it.
//
// Net sessions record no device-side file, so uploading one fails.
func (s *Session) Upload(ctx context.Context) ([]string, error) {
	paths, err := s.logger.upload(ctx, []string{MountInternal, MountSD}, func(name string) bool {
		return strings.HasPrefix(name, s.Base)
	}, s.journalID)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, invalidOperation("log files not present")
	}
	return paths, nil
}

// UploadAll retrieves every log file the instrument has recorded on the
// device, across both mounts, and returns the local paths written. Files
// are matched by the instrument's log name and a short extension, so other
// content on the card is left alone.
func (l *Logger) UploadAll(ctx context.Context) ([]string, error) {
	logname := l.cfg.Instrument.LogProfile(true, true).Logname
	if logname == "" {
		return nil, invalidOperation("instrument does not support logging")
	}
	pattern, err := regexp.Compile("^" + regexp.QuoteMeta(logname) + `.*\.[a-z]{2,3}$`)
	if err != nil {
		return nil, fmt.Errorf("datalog: log name pattern: %w", err)
	}
	paths, err := l.upload(ctx, []string{MountSD, MountInternal}, pattern.MatchString, "")
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, invalidOperation("log files not present")
	}
	return paths, nil
}

// upload walks the given mounts and fetches every file the match accepts.
func (l *Logger) upload(ctx context.Context, mounts []string, match func(string) bool, sessionID string) ([]string, error) {
	var paths []string
	for _, mount := range mounts {
		entries, err := l.cfg.Device.FSList(ctx, mount)
		if err != nil {
			var merr *MountError
			if errors.As(err, &merr) && !merr.ReadOnly {
				// Nothing mounted there; not an upload failure.
				debugf("skipping mount %q: %v", mount, err)
				continue
			}
			return paths, err
		}
		for _, e := range entries {
			if !match(e.Name) {
				continue
			}
			local, n, err := l.fetch(ctx, mount, e.Name)
			if err != nil {
				return paths, err
			}
			l.journalUpload(sessionID, mount, e.Name, local, n)
			paths = append(paths, local)
		}
	}
	return paths, nil
}

// fetch downloads one device file into the logger directory, moving any
// existing local file of the same name aside first.
func (l *Logger) fetch(ctx context.Context, mount, name string) (string, int64, error) {
	local := name
	if l.cfg.Dir != "" {
		if err := l.cfg.FS.MkdirAll(l.cfg.Dir, 0o755); err != nil {
			return "", 0, fmt.Errorf("datalog: create log directory: %w", err)
		}
		local = filepath.Join(l.cfg.Dir, name)
	}
	if l.cfg.FS.Exists(local) {
		for n := 1; ; n++ {
			aside := fmt.Sprintf("%s-%d", local, n)
			if l.cfg.FS.Exists(aside) {
				continue
			}
			if err := l.cfg.FS.Rename(local, aside); err != nil {
				return "", 0, fmt.Errorf("datalog: move existing log file aside: %w", err)
			}
			break
		}
	}

	rc, err := l.cfg.Device.ReceiveFile(ctx, mount, name)
	if err != nil {
		return "", 0, err
	}
	defer rc.Close()

	f, err := l.cfg.FS.Create(local)
	if err != nil {
		return "", 0, fmt.Errorf("datalog: create log file: %w", err)
	}
	n, err := io.Copy(f, rc)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, fmt.Errorf("datalog: download log file: %w", err)
	}
	return local, n, nil
}
