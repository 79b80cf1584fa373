// Package filestore хранит данные арендаторов в каталогах DATA_DIR/<tenant>/.
package filestore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Spok95/streampoints/internal/models"
	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
)

const (
	ledgerFile    = "ledger.csv"
	summaryFile   = "summary.csv"
	historyFile   = "ingestions.jsonl"
	settingsFile  = "settings.json"
	encodedPrefix = "x-"
	// каталог блокировок не проходит safeName и не считается арендатором
	locksDir      = ".locks"
	lockRetry     = 20 * time.Millisecond
)

var (
	ledgerHeader  = []string{"UserID", "Date", "Points"}
	summaryHeader = []string{"UserID", "UserName", "TotalPoints", "ValidDays", "FirstDate", "LastDate"}
	safeName      = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)
)

type Store struct {
	root     string
	defaults models.Settings
	mu       sync.Mutex // дозапись истории
}

func New(root string, defaults models.Settings) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{root: root, defaults: defaults}, nil
}

// dirName: безопасные имена как есть, остальные — в hex.
func dirName(tenant string) string {
	if safeName.MatchString(tenant) && !strings.HasPrefix(tenant, encodedPrefix) {
		return tenant
	}
	return encodedPrefix + hex.EncodeToString([]byte(tenant))
}

func tenantFromDir(name string) (string, bool) {
	if !strings.HasPrefix(name, encodedPrefix) {
		return name, safeName.MatchString(name)
	}
	b, err := hex.DecodeString(strings.TrimPrefix(name, encodedPrefix))
	if err != nil {
		return "", false
	}
	return string(b), true
}

func (s *Store) path(tenant, file string) string {
	return filepath.Join(s.root, dirName(tenant), file)
}

func (s *Store) LoadLedger(ctx context.Context, tenant string) ([]models.LedgerEntry, error) {
	recs, err := readCSV(ctx, s.path(tenant, ledgerFile), ledgerHeader)
	if err != nil || recs == nil {
		return nil, err
	}
	out := make([]models.LedgerEntry, 0, len(recs))
	for i, r := range recs {
		d, err := models.ParseDate(r[1])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", ledgerFile, i+2, err)
		}
		p, err := strconv.Atoi(r[2])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", ledgerFile, i+2, err)
		}
		out = append(out, models.LedgerEntry{UserID: r[0], Date: d, Points: p})
	}
	return out, nil
}

func (s *Store) LoadSummary(ctx context.Context, tenant string) ([]models.UserPoints, error) {
	recs, err := readCSV(ctx, s.path(tenant, summaryFile), summaryHeader)
	if err != nil || recs == nil {
		return nil, err
	}
	out := make([]models.UserPoints, 0, len(recs))
	for i, r := range recs {
		u := models.UserPoints{UserID: r[0], UserName: r[1]}
		if u.TotalPoints, err = strconv.Atoi(r[2]); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", summaryFile, i+2, err)
		}
		if u.ValidDays, err = strconv.Atoi(r[3]); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", summaryFile, i+2, err)
		}
		if r[4] != "" {
			if u.FirstDate, err = models.ParseDate(r[4]); err != nil {
				return nil, fmt.Errorf("%s line %d: %w", summaryFile, i+2, err)
			}
		}
		if r[5] != "" {
			if u.LastDate, err = models.ParseDate(r[5]); err != nil {
				return nil, fmt.Errorf("%s line %d: %w", summaryFile, i+2, err)
			}
		}
		out = append(out, u)
	}
	return out, nil
}

// UpdateTenant: flock на DATA_DIR/.locks/<tenant>.lock держится от чтения
// до записи, так что ingest и serve над одним каталогом пишут по очереди.
func (s *Store) UpdateTenant(ctx context.Context, tenant string, fn models.UpdateFunc) error {
	unlock, err := s.lockTenant(ctx, tenant)
	if err != nil {
		return err
	}
	defer unlock()

	var cur models.TenantState
	cur.Ledger, cur.LedgerErr = s.LoadLedger(ctx, tenant)
	cur.Summary, cur.SummaryErr = s.LoadSummary(ctx, tenant)
	ledger, summary, err := fn(cur)
	if err != nil {
		return err
	}
	return s.writeTenant(ctx, tenant, ledger, summary)
}

// SaveTenant перезаписывает состояние без чтения.
func (s *Store) SaveTenant(ctx context.Context, tenant string, ledger []models.LedgerEntry, summary []models.UserPoints) error {
	return s.UpdateTenant(ctx, tenant, func(models.TenantState) ([]models.LedgerEntry, []models.UserPoints, error) {
		return ledger, summary, nil
	})
}

func (s *Store) lockTenant(ctx context.Context, tenant string) (func(), error) {
	dir := filepath.Join(s.root, locksDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create locks dir: %w", err)
	}
	fl := flock.New(filepath.Join(dir, dirName(tenant)+".lock"))
	ok, err := fl.TryLockContext(ctx, lockRetry)
	if err != nil {
		return nil, fmt.Errorf("lock tenant %s: %w", tenant, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock tenant %s: not acquired", tenant)
	}
	return func() { _ = fl.Unlock() }, nil
}

// writeTenant переписывает оба файла через temp+rename.
func (s *Store) writeTenant(ctx context.Context, tenant string, ledger []models.LedgerEntry, summary []models.UserPoints) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Join(s.root, dirName(tenant))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create tenant dir: %w", err)
	}

	rows := make([][]string, 0, len(ledger))
	for _, e := range ledger {
		rows = append(rows, []string{e.UserID, e.Date.Format(models.DateLayout), strconv.Itoa(e.Points)})
	}
	if err := writeCSV(filepath.Join(dir, ledgerFile), ledgerHeader, rows); err != nil {
		return err
	}

	rows = rows[:0]
	for _, u := range summary {
		rows = append(rows, []string{u.UserID, u.UserName, strconv.Itoa(u.TotalPoints),
			strconv.Itoa(u.ValidDays), dateCell(u.FirstDate), dateCell(u.LastDate)})
	}
	return writeCSV(filepath.Join(dir, summaryFile), summaryHeader, rows)
}

func dateCell(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(models.DateLayout)
}

func (s *Store) Tenants(context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if t, ok := tenantFromDir(e.Name()); ok {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out, nil
}

// SearchByName параллельно читает сводки всех арендаторов. Нечитаемые
// сводки пропускаются, чтобы один битый файл не ломал публичный поиск.
// Заглушки вместо ника ("未知用户") не ищутся.
func (s *Store) SearchByName(ctx context.Context, query string) ([]models.UserPoints, error) {
	tenants, err := s.Tenants(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))

	var (
		mu  sync.Mutex
		out []models.UserPoints
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, t := range tenants {
		g.Go(func() error {
			rows, err := s.LoadSummary(gctx, t)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				return nil
			}
			var found []models.UserPoints
			for _, u := range rows {
				if models.IsPlaceholderName(u.UserName) {
					continue
				}
				if strings.Contains(strings.ToLower(u.UserName), q) {
					u.Tenant = t
					found = append(found, u)
				}
			}
			mu.Lock()
			out = append(out, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) RecordIngestion(_ context.Context, rec models.Ingestion) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	dir := filepath.Join(s.root, dirName(rec.Tenant))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(filepath.Join(dir, historyFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ListIngestions — последние limit записей, новые первыми.
func (s *Store) ListIngestions(_ context.Context, tenant string, limit int) ([]models.Ingestion, error) {
	f, err := os.Open(s.path(tenant, historyFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var all []models.Ingestion
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec models.Ingestion
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("%s: %w", historyFile, err)
		}
		all = append(all, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	out := make([]models.Ingestion, 0, limit)
	for i := len(all) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// Settings: настройки арендатора из settings.json поверх значений по умолчанию.
func (s *Store) Settings(_ context.Context, tenant string) (models.Settings, error) {
	st := s.defaults
	b, err := os.ReadFile(s.path(tenant, settingsFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return st, nil
		}
		return st, err
	}
	if err := json.Unmarshal(b, &st); err != nil {
		return s.defaults, fmt.Errorf("%s: %w", settingsFile, err)
	}
	return st, nil
}

func (s *Store) SaveSettings(_ context.Context, tenant string, st models.Settings) error {
	if err := st.Validate(); err != nil {
		return err
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Join(s.root, dirName(tenant))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, settingsFile), func(w io.Writer) error {
		_, err := w.Write(append(b, '\n'))
		return err
	})
}

// readCSV возвращает строки без заголовка; nil, nil — файла ещё нет.
func readCSV(ctx context.Context, path string, header []string) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = len(header)
	recs, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if len(recs) == 0 {
		return [][]string{}, nil
	}
	for i, h := range header {
		if recs[0][i] != h {
			return nil, fmt.Errorf("%s: unexpected header %q", filepath.Base(path), recs[0])
		}
	}
	return recs[1:], nil
}

func writeCSV(path string, header []string, rows [][]string) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return err
		}
		if err := cw.WriteAll(rows); err != nil {
			return err
		}
		return cw.Error()
	})
}

func writeFileAtomic(path string, fill func(io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	bw := bufio.NewWriter(tmp)
	if err = fill(bw); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err = bw.Flush(); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
