package rdpbridge

// AudioMode selects where remote audio is played.
type AudioMode int

const (
	AudioLocal AudioMode = iota
	AudioRemote
	AudioDisabled
)

// SecurityMode selects the protocol security layer. SecurityAuto lets the
// engine negotiate and emits no flag.
type SecurityMode int

const (
	SecurityAuto SecurityMode = iota
	SecurityRDP
	SecurityTLS
	SecurityNLA
)

// Bookmark is a structured connection descriptor.
type Bookmark struct {
	Host     string
	Port     int
	Username string
	Domain   string
	Password string

	Screen      ScreenSettings
	Performance PerformanceFlags
	Advanced    AdvancedSettings
	Gateway     GatewaySettings
	Debug       DebugSettings
}

type ScreenSettings struct {
	Width  int
	Height int
	Colors int
}

type PerformanceFlags struct {
	RemoteFX bool
	GFX      bool
	// H264 is only honored when the engine supports it.
	H264 bool

	Wallpaper          bool
	FullWindowDrag     bool
	MenuAnimations     bool
	Theming            bool
	FontSmoothing      bool
	DesktopComposition bool
}

type AdvancedSettings struct {
	ConsoleMode   bool
	Security      SecurityMode
	RemoteProgram string
	WorkDir       string

	RedirectStorage    bool
	RedirectSound      AudioMode
	RedirectMicrophone bool
	RedirectClipboard  bool
}

// GatewaySettings only contribute arguments when Enabled is set.
type GatewaySettings struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Domain   string
	Password string
}

type DebugSettings struct {
	AsyncChannel bool
	AsyncUpdate  bool
	LogLevel     string
}

// DefaultBookmark returns a bookmark with the usual defaults filled in.
func DefaultBookmark(host string) *Bookmark {
	return &Bookmark{
		Host: host,
		Port: 3389,
		Screen: ScreenSettings{
			Width:  1024,
			Height: 768,
			Colors: 16,
		},
		Advanced: AdvancedSettings{
			RedirectClipboard: true,
		},
		Gateway: GatewaySettings{
			Port: 443,
		},
		Debug: DebugSettings{
			LogLevel: "INFO",
		},
	}
}
