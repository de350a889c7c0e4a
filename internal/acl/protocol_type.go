package acl

import "fmt"

// ProtocolType names the interaction protocol governing a conversation.
type ProtocolType int

const (
	ProtoRequest ProtocolType = iota
	ProtoQuery
	ProtoRequestWhen
	ProtoContractNet
	ProtoIteratedContractNet
	ProtoPropose
	ProtoBrokering
	ProtoRecruiting
	ProtoSubscribe
	ProtoEnglishAuction
	ProtoDutchAuction
	ProtoCustom
)

var protocolTypeNames = map[ProtocolType]string{
	ProtoRequest:             "request",
	ProtoQuery:               "query",
	ProtoRequestWhen:         "request-when",
	ProtoContractNet:         "contract-net",
	ProtoIteratedContractNet: "iterated-contract-net",
	ProtoPropose:             "propose",
	ProtoBrokering:           "brokering",
	ProtoRecruiting:          "recruiting",
	ProtoSubscribe:           "subscribe",
	ProtoEnglishAuction:      "english-auction",
	ProtoDutchAuction:        "dutch-auction",
	ProtoCustom:              "custom",
}

func (p ProtocolType) String() string {
	if name, ok := protocolTypeNames[p]; ok {
		return name
	}
	return fmt.Sprintf("protocol(%d)", int(p))
}

// ParseProtocolType maps a wire int32 to a ProtocolType.
func ParseProtocolType(v int32) (ProtocolType, error) {
	if v < 0 || v > int32(ProtoCustom) {
		return 0, fmt.Errorf("unknown protocol: %d", v)
	}
	return ProtocolType(v), nil
}
