package i18n

// Key is a dotted path into a language bundle.
type Key string

const (
	KeyAuthLoginTitle     Key = "auth.login.title"
	KeyAuthLoginRequired  Key = "auth.login.required"
	KeyWatchConnecting    Key = "watch.connecting"
	KeyWatchConnected     Key = "watch.connected"
	KeyWatchError         Key = "watch.error"
	KeyWatchClosed        Key = "watch.closed"
	KeyWatchOnline        Key = "watch.online"
	KeyWatchNobodyOnline  Key = "watch.nobody_online"
	KeyWatchMessageLine   Key = "watch.message_line"
	KeyWatchEmptyChannel  Key = "watch.empty_channel"
	KeyWatchRefreshFailed Key = "watch.refresh_failed"
	KeyPresenceJoined     Key = "presence.joined"
	KeyPresenceLeft       Key = "presence.left"
	KeyLanguageChanged    Key = "language.changed"
	KeyLanguageName       Key = "language.name"
)

// AllKeys lists every key the binaries look up. Each bundle must define all of them.
var AllKeys = []Key{
	KeyAuthLoginTitle,
	KeyAuthLoginRequired,
	KeyWatchConnecting,
	KeyWatchConnected,
	KeyWatchError,
	KeyWatchClosed,
	KeyWatchOnline,
	KeyWatchNobodyOnline,
	KeyWatchMessageLine,
	KeyWatchEmptyChannel,
	KeyWatchRefreshFailed,
	KeyPresenceJoined,
	KeyPresenceLeft,
	KeyLanguageChanged,
	KeyLanguageName,
}
