package rdpbridge

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ProgramName is the argv[0] placeholder that leads every argument list.
const ProgramName = "rdpbridge"

const (
	ArgGDI            = "gdi"
	ArgClientHostname = "client-hostname"
	ArgHost           = "v"
	ArgPort           = "port"
	ArgUsername       = "u"
	ArgDomain         = "d"
	ArgPassword       = "p"
	ArgSize           = "size"
	ArgColorDepth     = "bpp"
	ArgAdmin          = "admin"
	ArgSecurity       = "sec"
	ArgRemoteFX       = "rfx"
	ArgGFX            = "gfx"
	ArgShell          = "shell"
	ArgShellDir       = "shell-dir"
	ArgDrive          = "drive"
	ArgClipboard      = "clipboard"
	ArgGateway        = "g"
	ArgGatewayUser    = "gu"
	ArgGatewayDomain  = "gd"
	ArgGatewayPass    = "gp"
	ArgAudioMode      = "audio-mode"
	ArgSound          = "sound"
	ArgMicrophone     = "microphone"
	ArgKeyboard       = "kbd"
	ArgCert           = "cert"
	ArgLogLevel       = "log-level"

	ToggleWallpaper          = "wallpaper"
	ToggleWindowDrag         = "window-drag"
	ToggleMenuAnimations     = "menu-anims"
	ToggleThemes             = "themes"
	ToggleFonts              = "fonts"
	ToggleDesktopComposition = "aero"
	ToggleAsyncChannels      = "async-channels"
	ToggleAsyncUpdate        = "async-update"

	// storageDrive is the drive name whose path is substituted with the
	// platform storage path.
	storageDrive = "sdcard"
)

// Translator turns connection descriptors into engine argument tokens.
// The same input always produces the same tokens in the same order.
type Translator struct {
	// ClientHostname is announced to the server when set.
	ClientHostname string
	// StoragePath is the local directory exposed by storage redirection.
	StoragePath string
	// H264 reports whether the engine supports the AVC444 codec.
	H264 bool
}

func flag(name string) string {
	return "/" + name
}

func value(name, v string) string {
	return "/" + name + ":" + v
}

func toggle(name string, enabled bool) string {
	if enabled {
		return "+" + name
	}
	return "-" + name
}

func (t *Translator) preamble() []string {
	args := []string{ProgramName, value(ArgGDI, "sw")}
	if t.ClientHostname != "" {
		args = append(args, value(ArgClientHostname, t.ClientHostname))
	}
	return args
}

func (t *Translator) storageDrive() string {
	return storageDrive + "," + t.StoragePath
}

// Arguments translates a bookmark. Only host and port are required; empty
// optional fields produce no token.
func (t *Translator) Arguments(b *Bookmark) ([]string, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil bookmark", ErrInvalidBookmark)
	}
	if b.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidBookmark)
	}
	if b.Port <= 0 || b.Port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range", ErrInvalidBookmark, b.Port)
	}

	args := t.preamble()

	args = append(args, value(ArgHost, b.Host), value(ArgPort, strconv.Itoa(b.Port)))
	if b.Username != "" {
		args = append(args, value(ArgUsername, b.Username))
	}
	if b.Domain != "" {
		args = append(args, value(ArgDomain, b.Domain))
	}
	if b.Password != "" {
		args = append(args, value(ArgPassword, b.Password))
	}

	args = append(args,
		value(ArgSize, fmt.Sprintf("%dx%d", b.Screen.Width, b.Screen.Height)),
		value(ArgColorDepth, strconv.Itoa(b.Screen.Colors)),
	)

	adv := b.Advanced
	if adv.ConsoleMode {
		args = append(args, flag(ArgAdmin))
	}
	switch adv.Security {
	case SecurityNLA:
		args = append(args, value(ArgSecurity, "nla"))
	case SecurityTLS:
		args = append(args, value(ArgSecurity, "tls"))
	case SecurityRDP:
		args = append(args, value(ArgSecurity, "rdp"))
	}

	perf := b.Performance
	if perf.RemoteFX {
		args = append(args, flag(ArgRemoteFX))
	}
	if perf.GFX {
		args = append(args, flag(ArgGFX))
	}
	if perf.H264 && t.H264 {
		args = append(args, value(ArgGFX, "AVC444"))
	}

	args = append(args,
		toggle(ToggleWallpaper, perf.Wallpaper),
		toggle(ToggleWindowDrag, perf.FullWindowDrag),
		toggle(ToggleMenuAnimations, perf.MenuAnimations),
		toggle(ToggleThemes, perf.Theming),
		toggle(ToggleFonts, perf.FontSmoothing),
		toggle(ToggleDesktopComposition, perf.DesktopComposition),
	)

	if adv.RemoteProgram != "" {
		args = append(args, value(ArgShell, adv.RemoteProgram))
	}
	if adv.WorkDir != "" {
		args = append(args, value(ArgShellDir, adv.WorkDir))
	}

	args = append(args,
		toggle(ToggleAsyncChannels, b.Debug.AsyncChannel),
		toggle(ToggleAsyncUpdate, b.Debug.AsyncUpdate),
	)

	if adv.RedirectStorage && t.StoragePath != "" {
		args = append(args, value(ArgDrive, t.storageDrive()))
	}
	if adv.RedirectClipboard {
		args = append(args, flag(ArgClipboard))
	}

	if gw := b.Gateway; gw.Enabled {
		args = append(args, value(ArgGateway, fmt.Sprintf("%s:%d", gw.Host, gw.Port)))
		if gw.Username != "" {
			args = append(args, value(ArgGatewayUser, gw.Username))
		}
		if gw.Domain != "" {
			args = append(args, value(ArgGatewayDomain, gw.Domain))
		}
		if gw.Password != "" {
			args = append(args, value(ArgGatewayPass, gw.Password))
		}
	}

	args = append(args, value(ArgAudioMode, strconv.Itoa(int(adv.RedirectSound))))
	if adv.RedirectSound == AudioLocal {
		args = append(args, flag(ArgSound))
	}
	if adv.RedirectMicrophone {
		args = append(args, flag(ArgMicrophone))
	}

	args = append(args, value(ArgKeyboard, "unicode:on"), value(ArgCert, "ignore"))
	if b.Debug.LogLevel != "" {
		args = append(args, value(ArgLogLevel, b.Debug.LogLevel))
	}
	return args, nil
}

// URIArguments translates a connection URI of the form
//
//	scheme://[user[:password]@]host[:port]/path?key=value&...
//
// Query parameters map as follows: "key=" becomes /key, "key=+" and
// "key=-" become +key and -key, anything else becomes /key:value. A repeated
// key keeps its first position and its last value. drive=sdcard is expanded
// to the local storage path.
func (t *Translator) URIArguments(raw string) ([]string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURI, err)
	}
	if u.Opaque != "" {
		return nil, fmt.Errorf("%w: %q is not hierarchical", ErrInvalidURI, raw)
	}

	args := t.preamble()

	if host := u.Host; host != "" {
		args = append(args, value(ArgHost, host))
	}
	if u.User != nil {
		if name := u.User.Username(); name != "" {
			args = append(args, value(ArgUsername, name))
		}
		if pass, ok := u.User.Password(); ok && pass != "" {
			args = append(args, value(ArgPassword, pass))
		}
	}

	keys, values, err := parseQuery(u.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURI, err)
	}
	for _, key := range keys {
		v := values[key]
		switch {
		case v == "":
			args = append(args, flag(key))
		case v == "+" || v == "-":
			args = append(args, v+key)
		default:
			if key == ArgDrive && v == storageDrive {
				v = t.storageDrive()
			}
			args = append(args, value(key, v))
		}
	}
	return args, nil
}

// parseQuery keeps keys in order of first appearance. '+' is kept literally
// so that "key=+" survives decoding.
func parseQuery(raw string) ([]string, map[string]string, error) {
	var keys []string
	values := make(map[string]string)
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		key, err := url.PathUnescape(k)
		if err != nil {
			return nil, nil, err
		}
		val, err := url.PathUnescape(v)
		if err != nil {
			return nil, nil, err
		}
		if key == "" {
			continue
		}
		if _, seen := values[key]; !seen {
			keys = append(keys, key)
		}
		values[key] = val
	}
	return keys, values, nil
}
