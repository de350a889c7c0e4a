package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/fipamesh/agentd/internal/consensus"
)

// MarshalAgentLocation encodes a consensus.AgentLocation per schema.proto.
func MarshalAgentLocation(loc consensus.AgentLocation) []byte {
	var b []byte
	b = appendString(b, 1, loc.Fingerprint)
	b = appendString(b, 2, loc.NodeID)
	b = appendVarint(b, 3, uint64(loc.UpdatedAt))
	for _, c := range loc.Capabilities {
		b = appendString(b, 4, c)
	}
	b = appendVarint(b, 5, loc.Epoch)
	return b
}

func UnmarshalAgentLocation(data []byte) (consensus.AgentLocation, error) {
	var loc consensus.AgentLocation
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return loc, fmt.Errorf("agent_location: bad tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return loc, fmt.Errorf("agent_location: bad fingerprint")
			}
			loc.Fingerprint = string(v)
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return loc, fmt.Errorf("agent_location: bad node_id")
			}
			loc.NodeID = string(v)
			data = data[n:]
		case 3:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return loc, fmt.Errorf("agent_location: bad updated_at")
			}
			loc.UpdatedAt = int64(v)
			data = data[n:]
		case 4:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return loc, fmt.Errorf("agent_location: bad capability")
			}
			loc.Capabilities = append(loc.Capabilities, string(v))
			data = data[n:]
		case 5:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return loc, fmt.Errorf("agent_location: bad epoch")
			}
			loc.Epoch = v
			data = data[n:]
		default:
			n := consumeUnknown(data, typ)
			if n < 0 {
				return loc, fmt.Errorf("agent_location: bad field %d", num)
			}
			data = data[n:]
		}
	}
	return loc, nil
}

func marshalStringMapEntry(key, value string) []byte {
	var b []byte
	b = appendString(b, 1, key)
	b = appendString(b, 2, value)
	return b
}

func unmarshalStringMapEntry(data []byte) (string, string, error) {
	var key, value string
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", "", fmt.Errorf("map_entry: bad tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return "", "", fmt.Errorf("map_entry: bad key")
			}
			key = string(v)
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return "", "", fmt.Errorf("map_entry: bad value")
			}
			value = string(v)
			data = data[n:]
		default:
			n := consumeUnknown(data, typ)
			if n < 0 {
				return "", "", fmt.Errorf("map_entry: bad field %d", num)
			}
			data = data[n:]
		}
	}
	return key, value, nil
}

// MarshalServiceEntry encodes a consensus.ServiceEntry per schema.proto.
func MarshalServiceEntry(e consensus.ServiceEntry) []byte {
	var b []byte
	b = appendString(b, 1, e.ServiceType)
	b = appendString(b, 2, e.Name)
	b = appendString(b, 3, e.Provider)
	b = appendString(b, 4, e.NodeID)
	for k, v := range e.Properties {
		b = appendMessage(b, 5, marshalStringMapEntry(k, v))
	}
	b = appendVarint(b, 6, uint64(e.RegisteredAt))
	return b
}

func UnmarshalServiceEntry(data []byte) (consensus.ServiceEntry, error) {
	var e consensus.ServiceEntry
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return e, fmt.Errorf("service_entry: bad tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return e, fmt.Errorf("service_entry: bad service_type")
			}
			e.ServiceType = string(v)
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return e, fmt.Errorf("service_entry: bad name")
			}
			e.Name = string(v)
			data = data[n:]
		case 3:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return e, fmt.Errorf("service_entry: bad provider")
			}
			e.Provider = string(v)
			data = data[n:]
		case 4:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return e, fmt.Errorf("service_entry: bad node_id")
			}
			e.NodeID = string(v)
			data = data[n:]
		case 5:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return e, fmt.Errorf("service_entry: bad properties")
			}
			k, val, err := unmarshalStringMapEntry(v)
			if err != nil {
				return e, err
			}
			if e.Properties == nil {
				e.Properties = make(map[string]string)
			}
			e.Properties[k] = val
			data = data[n:]
		case 6:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return e, fmt.Errorf("service_entry: bad registered_at")
			}
			e.RegisteredAt = int64(v)
			data = data[n:]
		default:
			n := consumeUnknown(data, typ)
			if n < 0 {
				return e, fmt.Errorf("service_entry: bad field %d", num)
			}
			data = data[n:]
		}
	}
	return e, nil
}

// MarshalServiceList encodes a slice of ServiceEntry per schema.proto's
// ServiceList.
func MarshalServiceList(entries []consensus.ServiceEntry) []byte {
	var b []byte
	for _, e := range entries {
		b = appendMessage(b, 1, MarshalServiceEntry(e))
	}
	return b
}

func UnmarshalServiceList(data []byte) ([]consensus.ServiceEntry, error) {
	var out []consensus.ServiceEntry
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("service_list: bad tag")
		}
		data = data[n:]
		if num == 1 {
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("service_list: bad entry")
			}
			e, err := UnmarshalServiceEntry(v)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
			data = data[n:]
			continue
		}
		n = consumeUnknown(data, typ)
		if n < 0 {
			return nil, fmt.Errorf("service_list: bad field %d", num)
		}
		data = data[n:]
	}
	return out, nil
}

// NodeInfo mirrors schema.proto's NodeInfo, the GetNodeInfo RPC response.
type NodeInfo struct {
	NodeID          string
	IsLeader        bool
	LeaderAddr      string
	ConnectedPeers  uint32
	MessagesSent    uint64
	MessagesRecv    uint64
	LocalAgentCount uint32
}

func MarshalNodeInfo(info NodeInfo) []byte {
	var b []byte
	b = appendString(b, 1, info.NodeID)
	if info.IsLeader {
		b = appendVarint(b, 2, 1)
	}
	b = appendString(b, 3, info.LeaderAddr)
	b = appendVarint(b, 4, uint64(info.ConnectedPeers))
	b = appendVarint(b, 5, info.MessagesSent)
	b = appendVarint(b, 6, info.MessagesRecv)
	b = appendVarint(b, 7, uint64(info.LocalAgentCount))
	return b
}

func UnmarshalNodeInfo(data []byte) (NodeInfo, error) {
	var info NodeInfo
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return info, fmt.Errorf("node_info: bad tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return info, fmt.Errorf("node_info: bad node_id")
			}
			info.NodeID = string(v)
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return info, fmt.Errorf("node_info: bad is_leader")
			}
			info.IsLeader = v != 0
			data = data[n:]
		case 3:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return info, fmt.Errorf("node_info: bad leader_addr")
			}
			info.LeaderAddr = string(v)
			data = data[n:]
		case 4:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return info, fmt.Errorf("node_info: bad connected_peers")
			}
			info.ConnectedPeers = uint32(v)
			data = data[n:]
		case 5:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return info, fmt.Errorf("node_info: bad messages_sent")
			}
			info.MessagesSent = v
			data = data[n:]
		case 6:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return info, fmt.Errorf("node_info: bad messages_recv")
			}
			info.MessagesRecv = v
			data = data[n:]
		case 7:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return info, fmt.Errorf("node_info: bad local_agent_count")
			}
			info.LocalAgentCount = uint32(v)
			data = data[n:]
		default:
			n := consumeUnknown(data, typ)
			if n < 0 {
				return info, fmt.Errorf("node_info: bad field %d", num)
			}
			data = data[n:]
		}
	}
	return info, nil
}

// HealthStatus mirrors schema.proto's HealthStatus.
type HealthStatus struct {
	OK     bool
	NodeID string
}

func MarshalHealthStatus(h HealthStatus) []byte {
	var b []byte
	if h.OK {
		b = appendVarint(b, 1, 1)
	}
	b = appendString(b, 2, h.NodeID)
	return b
}

// Ack mirrors schema.proto's Ack, the generic success/failure response
// for RPCs that have no richer payload to return.
type Ack struct {
	OK    bool
	Error string
}

func MarshalAck(a Ack) []byte {
	var b []byte
	if a.OK {
		b = appendVarint(b, 1, 1)
	}
	b = appendString(b, 2, a.Error)
	return b
}

// MarshalMigrateAgentRequest/UnmarshalMigrateAgentRequest round-trip the
// MigrateAgent/CloneAgent RPC request body.
func MarshalMigrateAgentRequest(agentName, targetNode string) []byte {
	var b []byte
	b = appendString(b, 1, agentName)
	b = appendString(b, 2, targetNode)
	return b
}

func UnmarshalMigrateAgentRequest(data []byte) (agentName, targetNode string, err error) {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", "", fmt.Errorf("migrate_agent_request: bad tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return "", "", fmt.Errorf("migrate_agent_request: bad agent_name")
			}
			agentName = string(v)
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return "", "", fmt.Errorf("migrate_agent_request: bad target_node")
			}
			targetNode = string(v)
			data = data[n:]
		default:
			n := consumeUnknown(data, typ)
			if n < 0 {
				return "", "", fmt.Errorf("migrate_agent_request: bad field %d", num)
			}
			data = data[n:]
		}
	}
	return agentName, targetNode, nil
}

func MarshalMigrateAgentResponse(epoch uint64) []byte {
	return appendVarint(nil, 1, epoch)
}

// MarshalFindRequest/UnmarshalFindRequest round-trip the single-field
// query body shared by FindAgent and FindService.
func MarshalFindRequest(query string) []byte {
	return appendString(nil, 1, query)
}

func UnmarshalFindRequest(data []byte) (string, error) {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", fmt.Errorf("find_request: bad tag")
		}
		data = data[n:]
		if num == 1 {
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return "", fmt.Errorf("find_request: bad query")
			}
			return string(v), nil
		}
		n = consumeUnknown(data, typ)
		if n < 0 {
			return "", fmt.Errorf("find_request: bad field %d", num)
		}
		data = data[n:]
	}
	return "", nil
}

func MarshalWasmModuleResponse(module []byte) []byte {
	return appendBytes(nil, 1, module)
}
