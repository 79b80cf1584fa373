package bot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Spok95/streampoints/internal/models"
	"go.uber.org/zap"
)

type fakeLooker struct {
	got   string
	users []models.UserPoints
	err   error
}

func (f *fakeLooker) Lookup(_ context.Context, q string) ([]models.UserPoints, error) {
	f.got = q
	return f.users, f.err
}

func TestHandle(t *testing.T) {
	log := zap.NewNop()
	ctx := context.Background()
	f := &fakeLooker{users: []models.UserPoints{{UserID: "7", UserName: "小七", TotalPoints: 5, ValidDays: 5}}}

	if got := Handle(ctx, f, "/start", log); got != helpText {
		t.Fatalf("start reply=%q", got)
	}
	got := Handle(ctx, f, "/points  小七 ", log)
	if f.got != "小七" || !strings.Contains(got, "5 积分") || strings.Contains(got, "找到") {
		t.Fatalf("query=%q reply=%q", f.got, got)
	}
	if got := Handle(ctx, f, "/points", log); got != helpText {
		t.Fatalf("empty /points reply=%q", got)
	}

	f.err = errors.New("db down")
	if got := Handle(ctx, f, "小七", log); !strings.Contains(got, "出错") {
		t.Fatalf("error reply=%q", got)
	}
}

func TestFormatLookup(t *testing.T) {
	if got := FormatLookup("无", nil); !strings.Contains(got, "未找到") {
		t.Fatalf("got %q", got)
	}
	var many []models.UserPoints
	for i := 0; i < 12; i++ {
		many = append(many, models.UserPoints{UserID: "1", UserName: "a"})
	}
	got := FormatLookup("a", many)
	if !strings.Contains(got, "找到 12 个") || !strings.Contains(got, "还有 2 个") {
		t.Fatalf("got %q", got)
	}
}
