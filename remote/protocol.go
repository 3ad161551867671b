package remote

// ProtocolVersion is sent in the hello instruction.
const ProtocolVersion = "RDPBRIDGE_1_0"

// Session opcodes.
const (
	OpHello      = "hello"
	OpReady      = "ready"
	OpAck        = "ack"
	OpEvent      = "event"
	OpCall       = "call"
	OpReturn     = "return"
	OpDisconnect = "disconnect"
	OpError      = "error"
	OpNop        = "nop"
)

// Request opcodes. A request is "<op>,<id>,args..." and is answered with
// "ack,<id>,<status>,values...".
const (
	OpVersion        = "version"
	OpHasH264        = "has-h264"
	OpBuildInfo      = "build-info"
	OpNew            = "new"
	OpFree           = "free"
	OpParseArguments = "parse-arguments"
	OpConnect        = "connect"
	OpDisconnectInst = "disconnect-instance"
	OpUpdateGraphics = "update-graphics"
	OpCursor         = "cursor"
	OpKey            = "key"
	OpUnicodeKey     = "unicode-key"
	OpClipboard      = "clipboard"
	OpLastError      = "last-error"
)

// Ack status values. StatusFail is the engine returning false, StatusError
// carries a message as the first value.
const (
	StatusOK    = "ok"
	StatusFail  = "fail"
	StatusError = "error"
)

// Event names, sent as "event,<name>,<handle>,args...".
const (
	EventPreConnect             = "pre-connect"
	EventConnectionSuccess      = "connection-success"
	EventConnectionFailure      = "connection-failure"
	EventDisconnecting          = "disconnecting"
	EventDisconnected           = "disconnected"
	EventSettingsChanged        = "settings-changed"
	EventGraphicsUpdate         = "graphics-update"
	EventGraphicsResize         = "graphics-resize"
	EventRemoteClipboardChanged = "remote-clipboard-changed"
)

// Call names, sent as "call,<id>,<name>,<handle>,args..." and answered with
// "return,<id>,values...".
//
//	authenticate, gateway-authenticate: username, domain, password
//	  -> "1"|"0", username, domain, password
//	verify-certificate: host, port, common name, subject, issuer,
//	  fingerprint, flags -> decision
//	verify-changed-certificate: the same plus old subject, old issuer and
//	  old fingerprint before flags -> decision
const (
	CallAuthenticate             = "authenticate"
	CallGatewayAuthenticate      = "gateway-authenticate"
	CallVerifyCertificate        = "verify-certificate"
	CallVerifyChangedCertificate = "verify-changed-certificate"
)
