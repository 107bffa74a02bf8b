package bot

import "github.com/hoomaan/roster-service/internal/telegram"

// Reply keyboard labels. Button presses arrive as plain message text.
const (
	labelHome       = "Home"
	labelHelp       = "Help"
	labelProducts   = "Products"
	labelAccount    = "Account"
	labelContact    = "Message admin"
	labelPing       = "Ping"
	labelTime       = "Time"
	labelWhoami     = "Who am I"
	labelSharePhone = "Share my phone"
)

// Inline callback data values.
const (
	cbBackHome   = "back_home"
	cbProdPrefix = "prod_"
	cbOrdPrefix  = "order_"
	cbUsersStart = "users_start"
	cbUsersNext  = "users_next"
	cbUsersPrev  = "users_prev"
)

var mainKeyboard = telegram.ReplyKeyboardMarkup{
	Keyboard: [][]telegram.KeyboardButton{
		{{Text: labelHome}, {Text: labelHelp}},
		{{Text: labelProducts}, {Text: labelAccount}},
		{{Text: labelPing}, {Text: labelTime}, {Text: labelWhoami}},
		{{Text: labelContact}, {Text: labelSharePhone, RequestContact: true}},
	},
	ResizeKeyboard:        true,
	IsPersistent:          true,
	InputFieldPlaceholder: "Pick an option below…",
}

func mainKeyboardOpts() *telegram.SendOptions {
	return &telegram.SendOptions{ReplyMarkup: mainKeyboard}
}

// product is one canned catalog entry.
type product struct {
	Title string
	Price string
}

var products = map[string]product{
	"1": {Title: "Product 1", Price: "100,000"},
	"2": {Title: "Product 2", Price: "175,000"},
	"3": {Title: "Product 3", Price: "450,000"},
}

var productListKeyboard = telegram.InlineKeyboardMarkup{
	InlineKeyboard: [][]telegram.InlineKeyboardButton{
		{
			{Text: "Product 1 (100k)", CallbackData: cbProdPrefix + "1"},
			{Text: "Product 2 (175k)", CallbackData: cbProdPrefix + "2"},
		},
		{{Text: "Product 3 (450k)", CallbackData: cbProdPrefix + "3"}},
		{{Text: "Back", CallbackData: cbBackHome}},
	},
}

func productKeyboard(pid string) telegram.InlineKeyboardMarkup {
	return telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{
			{{Text: "Order this product", CallbackData: cbOrdPrefix + pid}},
			{{Text: "Back", CallbackData: cbBackHome}},
		},
	}
}

var usersPageKeyboard = telegram.InlineKeyboardMarkup{
	InlineKeyboard: [][]telegram.InlineKeyboardButton{
		{
			{Text: "⏮ Start", CallbackData: cbUsersStart},
			{Text: "◀ Prev", CallbackData: cbUsersPrev},
			{Text: "Next ▶", CallbackData: cbUsersNext},
		},
	},
}
