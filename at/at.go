package at

const (
	// Commands
	CmdAt          = "AT"
	CmdReset       = "AT+RESET"
	CmdRenew       = "AT+RENEW"
	CmdStart       = "AT+START"
	CmdSleep       = "AT+SLEEP"
	CmdBaud        = "AT+BAUD"
	CmdAddr        = "AT+ADDR"
	CmdAdvInterval = "AT+ADVI"
	CmdAdvType     = "AT+ADTY"
	CmdWhitelist   = "AT+ALLO"
	CmdWhitelistAD = "AT+AD"
	CmdMinConnInt  = "AT+COMI"
	CmdMaxConnInt  = "AT+COMA"
	CmdSlaveLat    = "AT+COLA"
	CmdSupervision = "AT+COSU"
	CmdConnUpdate  = "AT+COUP"
	CmdChar        = "AT+CHAR"
	CmdNotify      = "AT+NOTI"
	CmdNotifyAddr  = "AT+NOTP"
	CmdName        = "AT+NAME"
	CmdPowerCtl    = "AT+PCTL"
	CmdPass        = "AT+PASS"
	CmdPower       = "AT+POWE"
	CmdAutoSleep   = "AT+PWRM"
	CmdReliable    = "AT+RELI"
	CmdRole        = "AT+ROLE"
	CmdBondType    = "AT+TYPE"
	CmdUUID        = "AT+UUID"
	CmdUARTSleep   = "AT+UART"
	CmdAdvData     = "AT+PACK"
	CmdVersion     = "AT+VERR"

	// Query suffix appended to a command to read its current value
	Query = "?"

	// Response markers
	OK          = "OK"
	MarkerGet   = "OK+Get:"
	MarkerSet   = "OK+Set"
	MarkerBaud  = "OK+SET"
	MarkerAddr  = "OK+ADDR:"
	MarkerName  = "OK+NAME:"
	MarkerRenew = "OK+RENEW"
	MarkerReset = "OK+RESET"
	MarkerStart = "OK+START"
	MarkerSleep = "OK+SLEEP"
	MarkerWake  = "OK+WAKE"

	// Unsolicited events
	MarkerConn = "OK+CONN"
	MarkerLost = "OK+LOST"

	// Value offsets inside responses
	GetValueOffset = len(MarkerGet)
	AddrOffset     = len(MarkerAddr)
	NameOffset     = len(MarkerName)
	ConnMACOffset  = len(MarkerConn)

	MACLength      = 12
	MaxNameLength  = 12
	PasswordLength = 6

	// WakeLength is the minimum number of bytes that wakes a sleeping module.
	WakeLength = 81
)

type MessageType int

const (
	TypeData    MessageType = iota // opaque application payload
	TypeConnect                    // master connected
	TypeLost                       // master disconnected
)

func (t MessageType) String() string {
	switch t {
	case TypeConnect:
		return "connect"
	case TypeLost:
		return "lost"
	default:
		return "data"
	}
}
