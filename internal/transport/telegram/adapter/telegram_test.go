package adapter

import (
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     string
		limit  int
		chunks int
	}{
		{"short", "hello", 10, 1},
		{"exact", strings.Repeat("a", 10), 10, 1},
		{"hard split", strings.Repeat("a", 25), 10, 3},
		{"newline split", "aaaaaa\nbbbbbb\ncccccc", 10, 3},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := splitTelegramText(tt.in, tt.limit)
			if len(got) != tt.chunks {
				t.Fatalf("chunks=%d want %d: %q", len(got), tt.chunks, got)
			}
			for _, c := range got {
				if len([]rune(c)) > tt.limit {
					t.Fatalf("chunk over limit: %q", c)
				}
			}
		})
	}
}

func TestConvertMessageCarriesReply(t *testing.T) {
	t.Parallel()
	m := &tele.Message{
		ID:      42,
		Text:    "done",
		Chat:    &tele.Chat{ID: -100, Type: tele.ChatSuperGroup},
		Sender:  &tele.User{ID: 7, Username: "ann"},
		ReplyTo: &tele.Message{ID: 41},
	}
	got := convertMessage(m)
	if got.ReplyToID != 41 || got.FromID != 7 || got.ChatID != -100 || !got.IsGroup {
		t.Fatalf("unexpected message: %+v", got)
	}
}
