package tgui

import (
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
// It applies to the full "app:action:payload" string.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats inline callback data as "app:action:payload".
// Payload is kept as-is (no escaping).
func Data(app, action, payload string) string {
	app = strings.TrimSpace(app)
	action = strings.TrimSpace(action)
	if payload == "" {
		return app + ":" + action
	}
	return app + ":" + action + ":" + payload
}

// ParseData splits callback data produced by Data back into its parts.
// Telegram clients occasionally prefix callback data with "\f"; it is stripped.
func ParseData(data string) (app, action, payload string) {
	data = strings.TrimPrefix(strings.TrimSpace(data), "\f")
	parts := strings.SplitN(data, ":", 3)
	switch len(parts) {
	case 3:
		return parts[0], parts[1], parts[2]
	case 2:
		return parts[0], parts[1], ""
	default:
		return data, "", ""
	}
}
