// Package notify шлёт оповещения кладовщикам.
// Ошибка отправки не влияет на складскую операцию, она уже закоммичена.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Spok95/binledger/internal/domain/bins"
	"github.com/Spok95/binledger/internal/domain/inventory"
	"github.com/Spok95/binledger/internal/domain/materials"
)

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Nop: оповещения выключены.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }

// Telegram шлёт текст в админ-чат и дополнительным получателям, каждому один раз.
type Telegram struct {
	api   *tgbotapi.BotAPI
	chats []int64
	log   *slog.Logger
}

func NewTelegram(api *tgbotapi.BotAPI, log *slog.Logger, adminChatID int64, extra ...int64) *Telegram {
	// не шлём одному и тому же chat_id дважды
	seen := map[int64]struct{}{}
	var chats []int64
	for _, id := range append([]int64{adminChatID}, extra...) {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		chats = append(chats, id)
	}
	return &Telegram{api: api, chats: chats, log: log}
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	var firstErr error
	for _, chatID := range t.chats {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := t.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			t.log.Error("send failed", "chat_id", chatID, "err", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("telegram send to %d: %w", chatID, err)
			}
		}
	}
	return firstErr
}

func DefectText(n inventory.DefectNote) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ Брак с линии:\n— %s", materials.Key{Code: n.MaterialCode, Vendor: n.VendorCode})
	fmt.Fprintf(&b, " — %d", n.Qty)
	if n.BinCode != "" {
		fmt.Fprintf(&b, "\nячейка %s", n.BinCode)
	}
	if n.Note != "" {
		fmt.Fprintf(&b, "\n%s", n.Note)
	}
	fmt.Fprintf(&b, "\nпринял: %s", n.Actor)
	return b.String()
}

func LowStockText(m materials.Material) string {
	name := m.Name
	if name == "" {
		name = m.Key.String()
	}
	unit := m.Unit
	if unit == "" {
		unit = "шт"
	}
	if m.Available <= 0 {
		return fmt.Sprintf("⚠️ Материалы:\n— %s (%s)\nзакончились.", name, m.Key)
	}
	var threshold int64
	if m.MinThreshold != nil {
		threshold = *m.MinThreshold
	}
	return fmt.Sprintf("⚠️ Материалы:\n— %s (%s) — %d %s заканчиваются (минимум %d)…",
		name, m.Key, m.Available, unit, threshold)
}

func BinFullText(b bins.Bin) string {
	var capacity int64
	if b.Capacity != nil {
		capacity = *b.Capacity
	}
	return fmt.Sprintf("📦 Ячейка %s заполнена: %d из %d (%s)",
		b.Code, b.OccupiedQty, capacity, b.MaterialKey())
}

// Send: отправка без возврата ошибки, для вызова после коммита.
func Send(ctx context.Context, n Notifier, log *slog.Logger, text string) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, text); err != nil {
		log.Warn("notification failed", "err", err)
	}
}
