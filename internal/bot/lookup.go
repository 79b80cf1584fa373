// Package bot — публичный Telegram-бот для проверки баллов по нику.
package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/Spok95/streampoints/internal/ctxutil"
	"github.com/Spok95/streampoints/internal/models"
	"github.com/Spok95/streampoints/internal/tg"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Looker — публичный поиск баллов (points.Service).
type Looker interface {
	Lookup(ctx context.Context, query string) ([]models.UserPoints, error)
}

const (
	helpText = "发送 /points 昵称 或直接发送昵称/用户ID 查询积分。"
	maxShown = 10
)

// Run слушает апдейты до отмены контекста.
func Run(ctx context.Context, token string, svc Looker, log *zap.Logger) error {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return fmt.Errorf("telegram bot: %w", err)
	}
	log.Info("telegram lookup bot started", zap.String("username", api.Self.UserName))

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)
	defer api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			if upd.Message == nil {
				continue
			}
			reply := Handle(ctxutil.WithOp(ctx, "bot_lookup"), svc, upd.Message.Text, log)
			msg := tgbotapi.NewMessage(upd.Message.Chat.ID, reply)
			if _, err := tg.Send(api, msg); err != nil {
				log.Warn("telegram send", zap.Int64("chat_id", upd.Message.Chat.ID), zap.Error(err))
			}
		}
	}
}

// Handle превращает текст сообщения в ответ.
func Handle(ctx context.Context, svc Looker, text string, log *zap.Logger) string {
	q := strings.TrimSpace(text)
	switch {
	case q == "" || q == "/start" || q == "/help":
		return helpText
	case strings.HasPrefix(q, "/points"):
		q = strings.TrimSpace(strings.TrimPrefix(q, "/points"))
		if q == "" {
			return helpText
		}
	case strings.HasPrefix(q, "/"):
		return helpText
	}

	users, err := svc.Lookup(ctx, q)
	if err != nil {
		log.Error("lookup failed", zap.String("query", q), zap.Error(err))
		return "查询出错，请稍后再试。"
	}
	return FormatLookup(q, users)
}

func FormatLookup(query string, users []models.UserPoints) string {
	if len(users) == 0 {
		return fmt.Sprintf("未找到用户名包含“%s”的积分记录。", query)
	}
	var b strings.Builder
	if len(users) > 1 {
		fmt.Fprintf(&b, "找到 %d 个匹配的用户：\n", len(users))
	}
	for i, u := range users {
		if i == maxShown {
			fmt.Fprintf(&b, "……还有 %d 个，请输入更完整的昵称。\n", len(users)-maxShown)
			break
		}
		fmt.Fprintf(&b, "%s（ID %s）：%d 积分，有效天数 %d\n", u.UserName, u.UserID, u.TotalPoints, u.ValidDays)
	}
	return strings.TrimRight(b.String(), "\n")
}
