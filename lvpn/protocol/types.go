package protocol

// Kind classifies a decrypted frame.
type Kind uint8

const (
	KindHeartbeat Kind = 1
	KindData      Kind = 2
)

// KindOf returns KindHeartbeat for an empty payload and KindData otherwise.
func KindOf(payload []byte) Kind {
	if len(payload) == 0 {
		return KindHeartbeat
	}
	return KindData
}

func (k Kind) String() string {
	switch k {
	case KindHeartbeat:
		return "HEARTBEAT"
	case KindData:
		return "DATA"
	default:
		return "UNKNOWN"
	}
}
