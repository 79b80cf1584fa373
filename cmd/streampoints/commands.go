package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/Spok95/streampoints/internal/app"
	"github.com/Spok95/streampoints/internal/bot"
	"github.com/Spok95/streampoints/internal/config"
	"github.com/Spok95/streampoints/internal/export"
	"github.com/Spok95/streampoints/internal/jobs"
	"github.com/Spok95/streampoints/internal/models"
	"github.com/Spok95/streampoints/internal/points"
	"go.uber.org/zap"
)

var errUsage = errors.New("usage")

func run(ctx context.Context, cfg *config.Config, log *zap.Logger, cmd string, args []string) error {
	if cmd == "migrate" {
		return migrateOnly(ctx, cfg)
	}

	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close()
	svc := b.service(cfg, log)
	out := os.Stdout

	switch cmd {
	case "ingest":
		return cmdIngest(ctx, svc, out, args)
	case "summary":
		return cmdSummary(ctx, svc, out, args)
	case "list":
		return cmdList(ctx, svc, out, args)
	case "clear":
		return cmdClear(ctx, svc, out, args)
	case "lookup":
		return cmdLookup(ctx, svc, out, args)
	case "export":
		return cmdExport(ctx, svc, out, args)
	case "settings":
		return cmdSettings(ctx, b.settings, out, args)
	case "history":
		return cmdHistory(ctx, svc, out, args)
	case "serve":
		return cmdServe(ctx, cfg, b, svc, log)
	}
	return errUsage
}

func tenantFlags(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	tenant := fs.String("tenant", "", "аккаунт администратора")
	return fs, tenant
}

func parseTenant(fs *flag.FlagSet, tenant *string, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*tenant) == "" {
		return fmt.Errorf("%s: -tenant is required", fs.Name())
	}
	return nil
}

func cmdIngest(ctx context.Context, svc *points.Service, out io.Writer, args []string) error {
	fs, tenant := tenantFlags("ingest")
	if err := parseTenant(fs, tenant, args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("ingest: no files given")
	}

	var failed int
	for _, path := range fs.Args() {
		res, err := ingestFile(ctx, svc, *tenant, path)
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s: ✗ %v\n", filepath.Base(path), err)
			continue
		}
		fmt.Fprintf(out, "%s: ✓ rows=%d sessions=%d users=%d new_days=%d pruned=%d\n",
			filepath.Base(path), res.RowsRead, res.Sessions, res.Users, res.NewEntries, res.Pruned)
		for _, w := range res.Warnings {
			fmt.Fprintf(out, "  ! %s\n", w)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, fs.NArg())
	}
	return nil
}

func ingestFile(ctx context.Context, svc *points.Service, tenant, path string) (*points.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return svc.Ingest(ctx, points.Upload{Tenant: tenant, Filename: filepath.Base(path), Body: f})
}

func cmdSummary(ctx context.Context, svc *points.Service, out io.Writer, args []string) error {
	fs, tenant := tenantFlags("summary")
	asJSON := fs.Bool("json", false, "вывод в JSON")
	if err := parseTenant(fs, tenant, args); err != nil {
		return err
	}
	rows, err := svc.Summary(ctx, *tenant)
	if err != nil {
		return err
	}
	if *asJSON {
		return writeJSON(out, rows)
	}
	printUsers(out, rows)
	return nil
}

func cmdList(ctx context.Context, svc *points.Service, out io.Writer, args []string) error {
	fs, tenant := tenantFlags("list")
	var (
		f              points.Filter
		minPts, maxPts int
	)
	fs.StringVar(&f.UserID, "user-id", "", "подстрока UserID")
	fs.StringVar(&f.UserName, "name", "", "подстрока ника")
	fs.IntVar(&minPts, "min", -1, "минимум баллов")
	fs.IntVar(&maxPts, "max", -1, "максимум баллов")
	fs.StringVar(&f.SortBy, "sort", "total_points", "total_points|valid_days|user_id|user_name|last_date")
	fs.BoolVar(&f.Desc, "desc", true, "по убыванию")
	fs.IntVar(&f.Page, "page", 1, "страница")
	fs.IntVar(&f.PerPage, "per-page", 20, "строк на странице")
	if err := parseTenant(fs, tenant, args); err != nil {
		return err
	}
	if minPts >= 0 {
		f.MinPoints = &minPts
	}
	if maxPts >= 0 {
		f.MaxPoints = &maxPts
	}

	page, err := svc.List(ctx, *tenant, f)
	if err != nil {
		return err
	}
	printUsers(out, page.Items)
	fmt.Fprintf(out, "page %d/%d, %d users\n", page.Page, page.Pages, page.Total)
	return nil
}

func cmdClear(ctx context.Context, svc *points.Service, out io.Writer, args []string) error {
	fs, tenant := tenantFlags("clear")
	user := fs.String("user", "", "UserID или all")
	if err := parseTenant(fs, tenant, args); err != nil {
		return err
	}
	if *user == "" {
		return errors.New("clear: -user is required")
	}
	if err := svc.Clear(ctx, *tenant, *user); err != nil {
		return err
	}
	fmt.Fprintln(out, "cleared")
	return nil
}

func cmdLookup(ctx context.Context, svc *points.Service, out io.Writer, args []string) error {
	q := strings.TrimSpace(strings.Join(args, " "))
	if q == "" {
		return errors.New("lookup: query is required")
	}
	rows, err := svc.Lookup(ctx, q)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, bot.FormatLookup(q, rows))
	return nil
}

func cmdExport(ctx context.Context, svc *points.Service, out io.Writer, args []string) error {
	fs, tenant := tenantFlags("export")
	path := fs.String("out", "", "файл xlsx (по умолчанию — имя по арендатору и дате)")
	if err := parseTenant(fs, tenant, args); err != nil {
		return err
	}
	rows, err := svc.Summary(ctx, *tenant)
	if err != nil {
		return err
	}
	st, err := svc.Settings(ctx, *tenant)
	if err != nil {
		return err
	}
	today := svc.Today()
	if *path == "" {
		*path = export.BuildSummaryFilename(*tenant, today)
	}

	f, err := os.Create(*path)
	if err != nil {
		return err
	}
	if err := export.WriteSummary(f, rows, today, st.ValidityDays); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d users written to %s\n", len(rows), *path)
	return nil
}

func cmdSettings(ctx context.Context, store settingsStore, out io.Writer, args []string) error {
	fs, tenant := tenantFlags("settings")
	minDur := fs.Float64("min", 0, "минимальная длительность сессии, минут")
	perDay := fs.Int("per-day", 0, "баллов за день")
	validity := fs.Int("validity", 0, "срок действия баллов, дней")
	strict := fs.Bool("strict", false, "строки без даты отбрасывать, а не датировать сегодняшним днём")
	if err := parseTenant(fs, tenant, args); err != nil {
		return err
	}

	st, err := store.Settings(ctx, *tenant)
	if err != nil {
		return err
	}
	changed := false
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "min":
			st.MinDurationMinutes, changed = *minDur, true
		case "per-day":
			st.PointsPerDay, changed = *perDay, true
		case "validity":
			st.ValidityDays, changed = *validity, true
		case "strict":
			st.StrictDates, changed = *strict, true
		}
	})
	if changed {
		if err := store.SaveSettings(ctx, *tenant, st); err != nil {
			return err
		}
	}
	return writeJSON(out, st)
}

func cmdHistory(ctx context.Context, svc *points.Service, out io.Writer, args []string) error {
	fs, tenant := tenantFlags("history")
	limit := fs.Int("limit", 20, "сколько записей показать")
	if err := parseTenant(fs, tenant, args); err != nil {
		return err
	}
	items, err := svc.History(ctx, *tenant, *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tFILE\tOK\tSESSIONS\tNEW DAYS\tERROR")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%v\t%d\t%d\t%s\n", it.CreatedAt.In(svc.Location()).Format("2006-01-02 15:04"),
			it.Filename, it.Success, it.Sessions, it.NewEntries, it.Error)
	}
	return tw.Flush()
}

func cmdServe(ctx context.Context, cfg *config.Config, b *backend, svc *points.Service, log *zap.Logger) error {
	app.StartHTTP(ctx, cfg.HTTPAddr, app.Deps{
		Points:     svc,
		Health:     b.health,
		AdminToken: cfg.AdminToken,
		Log:        log,
	})
	log.Info("http server started", zap.String("addr", cfg.HTTPAddr), zap.String("storage", cfg.Storage))

	runner := jobs.New(ctx, log)
	runner.Every(cfg.PruneInterval, "prune_expired", jobs.PruneJob(svc, log))

	if cfg.BotToken != "" {
		go func() {
			if err := bot.Run(ctx, cfg.BotToken, svc, log); err != nil {
				log.Error("telegram bot stopped", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

func printUsers(out io.Writer, rows []models.UserPoints) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER ID\tNAME\tPOINTS\tDAYS\tLAST")
	for _, u := range rows {
		last := ""
		if !u.LastDate.IsZero() {
			last = u.LastDate.Format(models.DateLayout)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", u.UserID, u.UserName, u.TotalPoints, u.ValidDays, last)
	}
	_ = tw.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
