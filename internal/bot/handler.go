// Package bot routes inbound webhook updates: rate limiter gate first, then
// roster tracking, canned flows, and the admin browsing commands.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/hoomaan/roster-service/internal/model"
	"github.com/hoomaan/roster-service/internal/ratelimit"
	registrykv "github.com/hoomaan/roster-service/internal/registry/kv"
	"github.com/hoomaan/roster-service/internal/roster"
	"github.com/hoomaan/roster-service/internal/security"
	"github.com/hoomaan/roster-service/internal/telegram"
)

// Sender delivers outbound messages. *telegram.Client satisfies it; tests
// substitute a recorder.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts *telegram.SendOptions) error
	AnswerCallbackQuery(ctx context.Context, callbackQueryID, text string, showAlert bool) error
}

// Handler processes one update at a time. Updates from different actors are
// handled concurrently; ordering within one actor's session is assumed from
// the transport.
type Handler struct {
	sender  Sender
	index   *roster.Index
	nav     *roster.Navigator
	limiter *ratelimit.Limiter
	states  *stateStore
	admins  map[int64]struct{}

	// Now supplies first-sight timestamps. Tests pin it.
	Now func() time.Time
}

// New creates a Handler.
func New(sender Sender, kv registrykv.Store, index *roster.Index, nav *roster.Navigator, limiter *ratelimit.Limiter, adminIDs []int64, stateTTL time.Duration) *Handler {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &Handler{
		sender:  sender,
		index:   index,
		nav:     nav,
		limiter: limiter,
		states:  &stateStore{kv: kv, ttl: stateTTL},
		admins:  admins,
		Now:     time.Now,
	}
}

func (h *Handler) isAdmin(id int64) bool {
	_, ok := h.admins[id]
	return ok
}

// HandleUpdate dispatches one webhook update. Errors are logged, never
// surfaced to the transport: every failure is local to one actor's request.
func (h *Handler) HandleUpdate(ctx context.Context, u *telegram.Update) {
	if u == nil {
		return
	}
	actorID, ok := actorOf(u)
	if !ok {
		return
	}
	if !h.limiter.Admit(ctx, actorID) {
		// Rejected silently: a blocked actor gets no outbound traffic.
		log.Debug("Update rejected by limiter", "actorId", actorID)
		return
	}

	if u.CallbackQuery != nil {
		h.handleCallback(ctx, u.CallbackQuery)
		return
	}
	h.handleMessage(ctx, u)
}

func actorOf(u *telegram.Update) (int64, bool) {
	switch {
	case u.CallbackQuery != nil:
		return u.CallbackQuery.From.ID, true
	case u.Message != nil && u.Message.From != nil:
		return u.Message.From.ID, true
	case u.EditedMessage != nil && u.EditedMessage.From != nil:
		return u.EditedMessage.From.ID, true
	}
	return 0, false
}

func (h *Handler) handleMessage(ctx context.Context, u *telegram.Update) {
	msg := u.Message
	if msg == nil {
		msg = u.EditedMessage
	}
	if msg == nil || msg.From == nil {
		return
	}
	from := msg.From
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	if !from.IsBot {
		h.trackSender(ctx, from)
	}

	if msg.Contact != nil && msg.Contact.UserID == from.ID {
		h.handleContactShare(ctx, chatID, from, msg.Contact.PhoneNumber)
		return
	}

	switch text {
	case "/start":
		h.reply(ctx, chatID, "Hi! The bot is up.", mainKeyboardOpts())
	case "/menu":
		h.reply(ctx, chatID, "Menu opened.", mainKeyboardOpts())
	case labelHome:
		h.reply(ctx, chatID, "Home page.", mainKeyboardOpts())
	case labelHelp, "/help":
		h.reply(ctx, chatID, helpText(h.isAdmin(from.ID)), mainKeyboardOpts())
	case labelProducts:
		h.reply(ctx, chatID, "Product list:", &telegram.SendOptions{ReplyMarkup: productListKeyboard})
	case labelAccount, "/whoami":
		h.reply(ctx, chatID, fmt.Sprintf("Your account:\nID: %d\nName: %s", from.ID, displayName(from)), mainKeyboardOpts())
	case labelPing, "/ping":
		h.reply(ctx, chatID, "pong", mainKeyboardOpts())
	case labelTime, "/time":
		h.reply(ctx, chatID, h.Now().UTC().Format(time.RFC3339), mainKeyboardOpts())
	case labelWhoami:
		h.reply(ctx, chatID, fmt.Sprintf("ID: %d", from.ID), mainKeyboardOpts())
	case labelContact:
		h.startContactFlow(ctx, chatID, from.ID)
	case "/users":
		h.handleUsersCommand(ctx, chatID, from.ID)
	default:
		h.handleFreeText(ctx, chatID, from, text)
	}
}

func (h *Handler) trackSender(ctx context.Context, from *telegram.User) {
	created, err := h.index.TrackUserOnce(ctx, model.User{
		ID:           from.ID,
		Username:     from.Username,
		FirstName:    from.FirstName,
		LastName:     from.LastName,
		SeenAtMillis: h.Now().UnixMilli(),
	})
	if err != nil {
		log.Error("Track user failed", "userId", from.ID, "err", err)
		return
	}
	if created {
		log.Info("New user tracked", "userId", from.ID, "username", from.Username)
	}
}

func (h *Handler) handleContactShare(ctx context.Context, chatID int64, from *telegram.User, phone string) {
	if err := h.index.SavePhone(ctx, from.ID, phone); err != nil {
		log.Error("Save phone failed", "userId", from.ID, "err", err)
		h.reply(ctx, chatID, "Could not store your number, please try again.", mainKeyboardOpts())
		return
	}
	h.notifyAdmins(ctx, fmt.Sprintf("User phone received:\nID: %d\nName: %s\n%sPhone: %s",
		from.ID, displayName(from), atLine(from.Username), phone))
	h.reply(ctx, chatID, "Your number was received.", mainKeyboardOpts())
}

func (h *Handler) startContactFlow(ctx context.Context, chatID, actorID int64) {
	if err := h.states.set(ctx, actorID, pendingState{Kind: stateKindContact}); err != nil {
		log.Error("Set contact state failed", "actorId", actorID, "err", err)
	}
	h.reply(ctx, chatID, "Please send your message for the admin.", &telegram.SendOptions{
		ReplyMarkup: telegram.ForceReply{ForceReply: true, Selective: true},
	})
}

// handleFreeText resolves non-command text against the actor's pending
// state; with no state pending it falls back to echo.
func (h *Handler) handleFreeText(ctx context.Context, chatID int64, from *telegram.User, text string) {
	st, err := h.states.get(ctx, from.ID)
	if err != nil {
		log.Warn("Pending state lookup failed", "actorId", from.ID, "err", err)
	}
	if st == nil {
		h.reply(ctx, chatID, "Echo: "+text, mainKeyboardOpts())
		return
	}
	if err := h.states.clear(ctx, from.ID); err != nil {
		log.Warn("Pending state clear failed", "actorId", from.ID, "err", err)
	}

	ticket := uuid.NewString()
	switch st.Kind {
	case stateKindContact:
		h.notifyAdmins(ctx, fmt.Sprintf("Message for admin (ticket %s):\nID: %d\n%sText:\n%s",
			ticket, from.ID, atLine(from.Username), text))
		h.reply(ctx, chatID, "Your message was sent to the admin.", mainKeyboardOpts())
	case stateKindOrder:
		p, ok := products[st.ProductID]
		desc := "product " + st.ProductID
		if ok {
			desc = fmt.Sprintf("%s (%s)", p.Title, p.Price)
		}
		h.notifyAdmins(ctx, fmt.Sprintf("New order (ticket %s):\nProduct: %s\n\nFrom:\nID: %d\n%sName: %s\n\nDetails:\n%s",
			ticket, desc, from.ID, atLine(from.Username), displayName(from), text))
		h.reply(ctx, chatID, "Your order was recorded and sent to the admin.", mainKeyboardOpts())
	default:
		h.reply(ctx, chatID, "Echo: "+text, mainKeyboardOpts())
	}
}

func (h *Handler) handleCallback(ctx context.Context, cq *telegram.CallbackQuery) {
	var chatID int64
	if cq.Message != nil {
		chatID = cq.Message.Chat.ID
	}
	data := cq.Data

	ack := func(text string) {
		if err := h.sender.AnswerCallbackQuery(ctx, cq.ID, text, false); err != nil {
			log.Warn("Answer callback failed", "err", err)
		}
	}

	switch {
	case strings.HasPrefix(data, cbProdPrefix):
		pid := strings.TrimPrefix(data, cbProdPrefix)
		h.reply(ctx, chatID, productText(pid), &telegram.SendOptions{ReplyMarkup: productKeyboard(pid)})
		ack("")
	case strings.HasPrefix(data, cbOrdPrefix):
		pid := strings.TrimPrefix(data, cbOrdPrefix)
		if err := h.states.set(ctx, cq.From.ID, pendingState{Kind: stateKindOrder, ProductID: pid}); err != nil {
			log.Error("Set order state failed", "actorId", cq.From.ID, "err", err)
		}
		h.reply(ctx, chatID, fmt.Sprintf("To place the order for %s, send your name and details in one message.\nYou can also tap %q to share your phone number.",
			productText(pid), labelSharePhone), mainKeyboardOpts())
		ack("")
	case data == cbBackHome:
		h.reply(ctx, chatID, "Back home.", mainKeyboardOpts())
		ack("")
	case data == cbUsersStart, data == cbUsersNext, data == cbUsersPrev:
		h.handleUsersCallback(ctx, chatID, cq, data)
	default:
		h.reply(ctx, chatID, "Button data: "+data, mainKeyboardOpts())
		ack("")
	}
}

func (h *Handler) handleUsersCommand(ctx context.Context, chatID, actorID int64) {
	if !h.isAdmin(actorID) {
		h.reply(ctx, chatID, "Echo: /users", mainKeyboardOpts())
		return
	}
	view, err := h.nav.Start(ctx, actorID)
	if err != nil {
		h.replyPageError(ctx, chatID, err)
		return
	}
	h.sendPage(ctx, chatID, view)
}

func (h *Handler) handleUsersCallback(ctx context.Context, chatID int64, cq *telegram.CallbackQuery, data string) {
	if !h.isAdmin(cq.From.ID) {
		if err := h.sender.AnswerCallbackQuery(ctx, cq.ID, "Admins only", true); err != nil {
			log.Warn("Answer callback failed", "err", err)
		}
		return
	}

	var view *roster.View
	var err error
	switch data {
	case cbUsersStart:
		view, err = h.nav.Start(ctx, cq.From.ID)
	case cbUsersNext:
		view, err = h.nav.Next(ctx, cq.From.ID)
	case cbUsersPrev:
		view, err = h.nav.Prev(ctx, cq.From.ID)
	}
	switch {
	case errors.Is(err, roster.ErrNoFurtherPage):
		if err := h.sender.AnswerCallbackQuery(ctx, cq.ID, "No further page", false); err != nil {
			log.Warn("Answer callback failed", "err", err)
		}
		return
	case err != nil:
		if err := h.sender.AnswerCallbackQuery(ctx, cq.ID, "", false); err != nil {
			log.Warn("Answer callback failed", "err", err)
		}
		h.replyPageError(ctx, chatID, err)
		return
	}
	if err := h.sender.AnswerCallbackQuery(ctx, cq.ID, "", false); err != nil {
		log.Warn("Answer callback failed", "err", err)
	}
	h.sendPage(ctx, chatID, view)
}

func (h *Handler) sendPage(ctx context.Context, chatID int64, view *roster.View) {
	if security.PagesServedTotal != nil {
		security.PagesServedTotal.Inc()
	}
	h.reply(ctx, chatID, renderPage(view), &telegram.SendOptions{ReplyMarkup: usersPageKeyboard})
}

func (h *Handler) replyPageError(ctx context.Context, chatID int64, err error) {
	log.Error("Roster page fetch failed", "err", err)
	h.reply(ctx, chatID, "Page unavailable right now, please try again.", mainKeyboardOpts())
}

// renderPage formats one roster page with absolute row numbers.
func renderPage(view *roster.View) string {
	if len(view.Page.Users) == 0 && view.StartOffset == 0 {
		return "No users yet."
	}
	var b strings.Builder
	b.WriteString("Users, newest first:\n")
	for i, u := range view.Page.Users {
		fmt.Fprintf(&b, "%d. %s", view.StartOffset+i+1, u.DisplayName())
		if u.Username != "" {
			fmt.Fprintf(&b, " (@%s)", u.Username)
		}
		fmt.Fprintf(&b, " — %d\n", u.ID)
	}
	if view.Page.Complete {
		b.WriteString("End of list.")
	} else {
		b.WriteString("More available…")
	}
	return b.String()
}

func (h *Handler) notifyAdmins(ctx context.Context, text string) {
	for id := range h.admins {
		if err := h.sender.SendMessage(ctx, id, text, nil); err != nil {
			log.Warn("Notify admin failed", "adminId", id, "err", err)
		}
	}
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string, opts *telegram.SendOptions) {
	if err := h.sender.SendMessage(ctx, chatID, text, opts); err != nil {
		log.Warn("Send message failed", "chatId", chatID, "err", err)
	}
}

func productText(pid string) string {
	p, ok := products[pid]
	if !ok {
		return "Unknown product"
	}
	return fmt.Sprintf("%s — price: %s", p.Title, p.Price)
}

func displayName(u *telegram.User) string {
	return strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
}

func atLine(username string) string {
	if username == "" {
		return ""
	}
	return "@" + username + "\n"
}

func helpText(admin bool) string {
	base := "Help:\n• Products — order via the buttons\n• Message admin\n• Share my phone\n• /menu to reopen the menu"
	if admin {
		base += "\n\nAdmin:\n• /users — browse the roster, newest first\n• /export/users.csv and /export/phones.csv over HTTP"
	}
	return base
}
