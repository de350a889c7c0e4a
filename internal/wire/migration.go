package wire

import (
	"crypto/ed25519"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/fipamesh/agentd/internal/acl"
	"github.com/fipamesh/agentd/internal/actor"
	"github.com/fipamesh/agentd/internal/migration"
	"github.com/fipamesh/agentd/internal/wasmhost"
)

// MarshalCapabilities encodes a wasmhost.Capabilities per schema.proto.
func MarshalCapabilities(c wasmhost.Capabilities) []byte {
	var b []byte
	b = appendVarint(b, 1, c.MaxExecutionTimeMS)
	b = appendVarint(b, 2, c.MaxMemoryBytes)
	b = appendVarint(b, 3, c.StorageQuotaBytes)
	for _, p := range c.AllowedProtocols {
		b = appendVarint(b, 4, uint64(p))
	}
	b = appendVarint(b, 5, c.MaxFuelPerCall)
	if c.MaxMailboxSize > 0 {
		b = appendVarint(b, 6, uint64(c.MaxMailboxSize))
	}
	b = appendVarint(b, 7, uint64(c.NetworkAccess))
	if c.MigrationAllowed {
		b = appendVarint(b, 8, 1)
	}
	if c.SpawnAllowed {
		b = appendVarint(b, 9, 1)
	}
	return b
}

func UnmarshalCapabilities(data []byte) (wasmhost.Capabilities, error) {
	var c wasmhost.Capabilities
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return c, fmt.Errorf("capabilities: bad tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return c, fmt.Errorf("capabilities: bad max_execution_time_ms")
			}
			c.MaxExecutionTimeMS = v
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return c, fmt.Errorf("capabilities: bad max_memory_bytes")
			}
			c.MaxMemoryBytes = v
			data = data[n:]
		case 3:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return c, fmt.Errorf("capabilities: bad storage_quota_bytes")
			}
			c.StorageQuotaBytes = v
			data = data[n:]
		case 4:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return c, fmt.Errorf("capabilities: bad allowed_protocols")
			}
			c.AllowedProtocols = append(c.AllowedProtocols, acl.ProtocolType(v))
			data = data[n:]
		case 5:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return c, fmt.Errorf("capabilities: bad max_fuel_per_call")
			}
			c.MaxFuelPerCall = v
			data = data[n:]
		case 6:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return c, fmt.Errorf("capabilities: bad max_mailbox_size")
			}
			c.MaxMailboxSize = int(v)
			data = data[n:]
		case 7:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return c, fmt.Errorf("capabilities: bad network_access")
			}
			c.NetworkAccess = wasmhost.NetworkAccess(v)
			data = data[n:]
		case 8:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return c, fmt.Errorf("capabilities: bad migration_allowed")
			}
			c.MigrationAllowed = v != 0
			data = data[n:]
		case 9:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return c, fmt.Errorf("capabilities: bad spawn_allowed")
			}
			c.SpawnAllowed = v != 0
			data = data[n:]
		default:
			n := consumeUnknown(data, typ)
			if n < 0 {
				return c, fmt.Errorf("capabilities: bad field %d", num)
			}
			data = data[n:]
		}
	}
	return c, nil
}

// MarshalMigration encodes a migration.Package per schema.proto's
// AgentMigration.
func MarshalMigration(p *migration.Package) []byte {
	var b []byte
	b = appendMessage(b, 1, MarshalAgentId(p.AgentID))
	b = appendBytes(b, 2, p.WasmModule)
	b = appendBytes(b, 3, p.WasmHash[:])
	b = appendBytes(b, 4, p.Memory)
	b = appendMessage(b, 5, MarshalCapabilities(p.Capabilities))
	for _, h := range p.MigrationHistory {
		b = appendString(b, 6, h)
	}
	b = appendVarint(b, 7, uint64(p.Reason))
	b = appendVarint(b, 8, uint64(p.Timestamp))
	b = appendBytes(b, 9, p.PublicKey)
	b = appendBytes(b, 10, p.Signature)
	return b
}

func UnmarshalMigration(data []byte) (*migration.Package, error) {
	p := &migration.Package{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("migration: bad tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("migration: bad agent_id")
			}
			id, err := UnmarshalAgentId(v)
			if err != nil {
				return nil, err
			}
			p.AgentID = id
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("migration: bad wasm_module")
			}
			p.WasmModule = append([]byte(nil), v...)
			data = data[n:]
		case 3:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 || len(v) != 32 {
				return nil, fmt.Errorf("migration: bad wasm_hash")
			}
			copy(p.WasmHash[:], v)
			data = data[n:]
		case 4:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("migration: bad memory")
			}
			p.Memory = append([]byte(nil), v...)
			data = data[n:]
		case 5:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("migration: bad capabilities")
			}
			caps, err := UnmarshalCapabilities(v)
			if err != nil {
				return nil, err
			}
			p.Capabilities = caps
			data = data[n:]
		case 6:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("migration: bad migration_history")
			}
			p.MigrationHistory = append(p.MigrationHistory, string(v))
			data = data[n:]
		case 7:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("migration: bad reason")
			}
			p.Reason = actor.MigrationReason(v)
			data = data[n:]
		case 8:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("migration: bad timestamp")
			}
			p.Timestamp = int64(v)
			data = data[n:]
		case 9:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("migration: bad public_key")
			}
			p.PublicKey = ed25519.PublicKey(append([]byte(nil), v...))
			data = data[n:]
		case 10:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("migration: bad signature")
			}
			p.Signature = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := consumeUnknown(data, typ)
			if n < 0 {
				return nil, fmt.Errorf("migration: bad field %d", num)
			}
			data = data[n:]
		}
	}
	return p, nil
}
