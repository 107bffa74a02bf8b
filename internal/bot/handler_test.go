package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hoomaan/roster-service/internal/plugin/kv/memory"
	"github.com/hoomaan/roster-service/internal/ratelimit"
	"github.com/hoomaan/roster-service/internal/roster"
	"github.com/hoomaan/roster-service/internal/telegram"
)

const adminID = int64(1)

type sentMessage struct {
	ChatID int64
	Text   string
	Opts   *telegram.SendOptions
}

type callbackAnswer struct {
	ID        string
	Text      string
	ShowAlert bool
}

// recorder captures outbound traffic instead of calling the Bot API.
type recorder struct {
	Messages []sentMessage
	Answers  []callbackAnswer
}

func (r *recorder) SendMessage(ctx context.Context, chatID int64, text string, opts *telegram.SendOptions) error {
	r.Messages = append(r.Messages, sentMessage{ChatID: chatID, Text: text, Opts: opts})
	return nil
}

func (r *recorder) AnswerCallbackQuery(ctx context.Context, callbackQueryID, text string, showAlert bool) error {
	r.Answers = append(r.Answers, callbackAnswer{ID: callbackQueryID, Text: text, ShowAlert: showAlert})
	return nil
}

func (r *recorder) lastTo(chatID int64) string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].ChatID == chatID {
			return r.Messages[i].Text
		}
	}
	return ""
}

func newTestHandler(t *testing.T) (*Handler, *recorder, *memory.Store) {
	t.Helper()
	kv := memory.New()
	index := roster.NewIndex(kv)
	nav := roster.NewNavigator(index, 2, time.Hour)
	limiter := ratelimit.New(kv, 10*time.Second, 1000, time.Minute, []int64{adminID})
	rec := &recorder{}
	h := New(rec, kv, index, nav, limiter, []int64{adminID}, 30*time.Minute)
	h.Now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return h, rec, kv
}

func messageUpdate(from *telegram.User, text string) *telegram.Update {
	return &telegram.Update{
		Message: &telegram.Message{
			Chat: telegram.Chat{ID: from.ID},
			From: from,
			Text: text,
		},
	}
}

func callbackUpdate(from telegram.User, data string) *telegram.Update {
	return &telegram.Update{
		CallbackQuery: &telegram.CallbackQuery{
			ID:      "cb-1",
			From:    from,
			Message: &telegram.Message{Chat: telegram.Chat{ID: from.ID}},
			Data:    data,
		},
	}
}

func TestFreeTextEchoesAndTracksSender(t *testing.T) {
	ctx := context.Background()
	h, rec, _ := newTestHandler(t)
	from := &telegram.User{ID: 7, Username: "alice", FirstName: "Alice"}

	h.HandleUpdate(ctx, messageUpdate(from, "hello"))
	require.Equal(t, "Echo: hello", rec.lastTo(7))

	u, err := h.index.GetUser(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, u)
	require.Equal(t, "alice", u.Username)
}

func TestBotSendersAreNotTracked(t *testing.T) {
	ctx := context.Background()
	h, _, _ := newTestHandler(t)
	from := &telegram.User{ID: 8, IsBot: true, Username: "somebot"}

	h.HandleUpdate(ctx, messageUpdate(from, "hello"))

	u, err := h.index.GetUser(ctx, 8)
	require.NoError(t, err)
	require.Nil(t, u)
}

func TestUsersCommandRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	h, rec, _ := newTestHandler(t)

	h.HandleUpdate(ctx, messageUpdate(&telegram.User{ID: 7, FirstName: "A"}, "/users"))
	require.Equal(t, "Echo: /users", rec.lastTo(7))

	h.HandleUpdate(ctx, messageUpdate(&telegram.User{ID: adminID, FirstName: "Admin"}, "/users"))
	require.Contains(t, rec.lastTo(adminID), "Users, newest first:")
}

func TestUsersCallbackRejectsNonAdminWithAlert(t *testing.T) {
	ctx := context.Background()
	h, rec, _ := newTestHandler(t)

	h.HandleUpdate(ctx, callbackUpdate(telegram.User{ID: 7}, cbUsersNext))
	require.Empty(t, rec.Messages)
	require.Len(t, rec.Answers, 1)
	require.Equal(t, "Admins only", rec.Answers[0].Text)
	require.True(t, rec.Answers[0].ShowAlert)
}

func TestUsersPagingViaCallbacks(t *testing.T) {
	ctx := context.Background()
	h, rec, _ := newTestHandler(t)

	// Three tracked users, one admin browse at page size two.
	for _, u := range []*telegram.User{
		{ID: 10, FirstName: "Ten"},
		{ID: 11, FirstName: "Eleven"},
		{ID: 12, FirstName: "Twelve"},
	} {
		h.HandleUpdate(ctx, messageUpdate(u, "hi"))
	}

	admin := telegram.User{ID: adminID, FirstName: "Admin"}
	h.HandleUpdate(ctx, callbackUpdate(admin, cbUsersStart))
	page := rec.lastTo(adminID)
	require.Contains(t, page, "1. ")
	require.Contains(t, page, "More available…")

	h.HandleUpdate(ctx, callbackUpdate(admin, cbUsersNext))
	page = rec.lastTo(adminID)
	require.Contains(t, page, "3. ")
	require.Contains(t, page, "End of list.")

	// Advancing past the last page only answers the callback with a toast.
	before := len(rec.Messages)
	h.HandleUpdate(ctx, callbackUpdate(admin, cbUsersNext))
	require.Len(t, rec.Messages, before)
	require.Equal(t, "No further page", rec.Answers[len(rec.Answers)-1].Text)
}

func TestRateLimitedActorGetsNoResponse(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	index := roster.NewIndex(kv)
	nav := roster.NewNavigator(index, 2, time.Hour)
	limiter := ratelimit.New(kv, 10*time.Second, 1, time.Minute, nil)
	rec := &recorder{}
	h := New(rec, kv, index, nav, limiter, nil, 30*time.Minute)

	from := &telegram.User{ID: 7, FirstName: "A"}
	h.HandleUpdate(ctx, messageUpdate(from, "one"))
	require.Len(t, rec.Messages, 1)

	h.HandleUpdate(ctx, messageUpdate(from, "two"))
	require.Len(t, rec.Messages, 1)
}

func TestContactFlowNotifiesAdmin(t *testing.T) {
	ctx := context.Background()
	h, rec, _ := newTestHandler(t)
	from := &telegram.User{ID: 7, Username: "alice", FirstName: "Alice"}

	h.HandleUpdate(ctx, messageUpdate(from, labelContact))
	require.Contains(t, rec.lastTo(7), "send your message")

	h.HandleUpdate(ctx, messageUpdate(from, "please call me"))
	require.Contains(t, rec.lastTo(adminID), "please call me")
	require.Contains(t, rec.lastTo(7), "sent to the admin")

	// State consumed: the next message is a plain echo.
	h.HandleUpdate(ctx, messageUpdate(from, "anything else"))
	require.Equal(t, "Echo: anything else", rec.lastTo(7))
}

func TestOrderFlowNotifiesAdmin(t *testing.T) {
	ctx := context.Background()
	h, rec, _ := newTestHandler(t)
	from := telegram.User{ID: 7, Username: "alice", FirstName: "Alice"}

	h.HandleUpdate(ctx, callbackUpdate(from, cbOrdPrefix+"2"))
	require.Contains(t, rec.lastTo(7), "place the order")

	h.HandleUpdate(ctx, messageUpdate(&from, "Alice, 221B Baker St"))
	notice := rec.lastTo(adminID)
	require.Contains(t, notice, "New order")
	require.Contains(t, notice, "Product 2")
	require.Contains(t, notice, "221B Baker St")
	require.Contains(t, rec.lastTo(7), "order was recorded")
}

func TestContactShareStoresPhone(t *testing.T) {
	ctx := context.Background()
	h, rec, _ := newTestHandler(t)
	from := &telegram.User{ID: 7, Username: "alice", FirstName: "Alice"}

	h.HandleUpdate(ctx, &telegram.Update{
		Message: &telegram.Message{
			Chat:    telegram.Chat{ID: 7},
			From:    from,
			Contact: &telegram.Contact{PhoneNumber: "+15550001111", UserID: 7},
		},
	})

	phone, err := h.index.GetPhone(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, "+15550001111", phone)
	require.Contains(t, rec.lastTo(adminID), "+15550001111")
	require.Contains(t, rec.lastTo(7), "number was received")
}

func TestForeignContactIsNotStored(t *testing.T) {
	ctx := context.Background()
	h, _, _ := newTestHandler(t)
	from := &telegram.User{ID: 7, FirstName: "Alice"}

	// A forwarded contact belonging to someone else is ignored.
	h.HandleUpdate(ctx, &telegram.Update{
		Message: &telegram.Message{
			Chat:    telegram.Chat{ID: 7},
			From:    from,
			Contact: &telegram.Contact{PhoneNumber: "+15550009999", UserID: 999},
		},
	})

	phone, err := h.index.GetPhone(ctx, 7)
	require.NoError(t, err)
	require.Empty(t, phone)
}

func TestHelpMentionsAdminCommandsOnlyForAdmins(t *testing.T) {
	ctx := context.Background()
	h, rec, _ := newTestHandler(t)

	h.HandleUpdate(ctx, messageUpdate(&telegram.User{ID: 7, FirstName: "A"}, "/help"))
	require.NotContains(t, rec.lastTo(7), "/users")

	h.HandleUpdate(ctx, messageUpdate(&telegram.User{ID: adminID, FirstName: "Admin"}, "/help"))
	require.Contains(t, rec.lastTo(adminID), "/users")
}

func TestProductCallbackRepliesWithDetails(t *testing.T) {
	ctx := context.Background()
	h, rec, _ := newTestHandler(t)

	h.HandleUpdate(ctx, callbackUpdate(telegram.User{ID: 7}, cbProdPrefix+"3"))
	require.Contains(t, rec.lastTo(7), "Product 3")
	require.True(t, strings.Contains(rec.lastTo(7), "450,000"))
}
