package wizard

// Button 是一枚内联按钮：Label 展示给用户，Action 回传给向导。
type Button struct {
	Label  string
	Action string
}

// Reply 是向导产出的一条与传输层无关的回复。
// Keyboard 为空时只发送文本。
type Reply struct {
	Text     string
	Keyboard [][]Button
}

// 向导识别的动作标识。带参数的动作用冒号分隔，如 "buy_preset:50"。
const (
	ActionMenu         = "menu"
	ActionConnect      = "connect"
	ActionDisconnect   = "disconnect"
	ActionBuy          = "buy"
	ActionSell         = "sell"
	ActionConfirm      = "confirm"
	ActionCancel       = "cancel"
	ActionHistory      = "history"
	ActionCopyMenu     = "copy"
	ActionCopySetup    = "copy_setup"
	ActionCopyActivate = "copy_activate"
	ActionCopyPause    = "copy_pause"
	ActionCopyResume   = "copy_resume"
	ActionCopyStatus   = "copy_status"

	actionBuyPresetPrefix   = "buy_preset:"
	actionLimitPresetPrefix = "limit_preset:"
	actionGasPrefix         = "gas:"
)

func text(s string) Reply {
	return Reply{Text: s}
}

func mainMenu(connected bool) Reply {
	rows := [][]Button{
		{{Label: "Buy", Action: ActionBuy}, {Label: "Sell", Action: ActionSell}},
		{{Label: "Copy Trade", Action: ActionCopyMenu}, {Label: "History", Action: ActionHistory}},
	}
	if connected {
		rows = append(rows, []Button{{Label: "Disconnect Wallet", Action: ActionDisconnect}})
	} else {
		rows = append(rows, []Button{{Label: "Connect Wallet", Action: ActionConnect}})
	}
	return Reply{Text: "What would you like to do?", Keyboard: rows}
}

func copyMenu() Reply {
	return Reply{
		Text: "Copy trading mirrors another wallet's buys under your own limits.",
		Keyboard: [][]Button{
			{{Label: "Set Up", Action: ActionCopySetup}, {Label: "Status", Action: ActionCopyStatus}},
			{{Label: "Activate", Action: ActionCopyActivate}},
			{{Label: "Pause", Action: ActionCopyPause}, {Label: "Resume", Action: ActionCopyResume}},
		},
	}
}

func confirmKeyboard() [][]Button {
	return [][]Button{{
		{Label: "Confirm", Action: ActionConfirm},
		{Label: "Cancel", Action: ActionCancel},
	}}
}

func presetKeyboard(presets []string, prefix string) [][]Button {
	row := make([]Button, 0, len(presets))
	for _, p := range presets {
		row = append(row, Button{Label: p, Action: prefix + p})
	}
	return [][]Button{row, {{Label: "Cancel", Action: ActionCancel}}}
}

func gasKeyboard() [][]Button {
	return [][]Button{
		{
			{Label: "Low (1x)", Action: actionGasPrefix + "low"},
			{Label: "Medium (2x)", Action: actionGasPrefix + "medium"},
			{Label: "High (3x)", Action: actionGasPrefix + "high"},
		},
		{{Label: "Cancel", Action: ActionCancel}},
	}
}
