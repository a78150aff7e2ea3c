package cookies

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const recordsQuery = `SELECT name, host_key, encrypted_value, value FROM cookies WHERE host_key LIKE ?`

// ReadRecords reads every cookie row whose host matches domain from the
// browser database at dbPath. The browser keeps the live file locked, so the
// database and its -wal/-journal side files are copied into a scratch
// directory first; the copy is removed on every exit path.
func ReadRecords(ctx context.Context, dbPath, domain string) ([]Record, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("stat cookie db: %w", err)
	}

	scratch, err := os.MkdirTemp("", "liverec-cookies-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			slog.Warn("failed to remove cookie scratch copy", slog.String("component", "cookies"), slog.String("dir", scratch), slog.Any("err", err))
		}
	}()

	copyPath := filepath.Join(scratch, "Cookies")
	if err := copyFile(dbPath, copyPath); err != nil {
		return nil, fmt.Errorf("copy cookie db: %w", err)
	}
	for _, suffix := range []string{"-wal", "-journal"} {
		err := copyFile(dbPath+suffix, copyPath+suffix)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("copy cookie db%s: %w", suffix, err)
		}
	}

	db, err := sql.Open("sqlite", copyPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, recordsQuery, "%"+domain+"%")
	if err != nil {
		return nil, fmt.Errorf("query cookies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var (
			rec   Record
			blob  []byte
			plain sql.NullString
		)
		if err := rows.Scan(&rec.Name, &rec.Domain, &blob, &plain); err != nil {
			return nil, fmt.Errorf("scan cookie row: %w", err)
		}
		rec.CipherBlob = append([]byte(nil), blob...)
		rec.PlaintextFallback = plain.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cookie rows: %w", err)
	}
	return out, nil
}

// copyFile streams src to dst with owner-only permissions.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
