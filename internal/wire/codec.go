// Package wire hand-encodes the FIPA ACL message and node envelope types
// onto the protobuf wire format using protowire's low-level varint/tag
// primitives directly, since this build has no protoc codegen step
// available. The field layout is documented in schema.proto.
package wire

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/fipamesh/agentd/internal/acl"
	"github.com/fipamesh/agentd/internal/router"
)

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, []byte(s))
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendMessage(b []byte, num protowire.Number, body []byte) []byte {
	if len(body) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

// MarshalAgentId encodes an AgentId (name + addresses).
func MarshalAgentId(id acl.AgentId) []byte {
	var b []byte
	b = appendString(b, 1, id.Name)
	for _, addr := range id.Addresses {
		b = appendString(b, 2, addr)
	}
	return b
}

func UnmarshalAgentId(data []byte) (acl.AgentId, error) {
	var id acl.AgentId
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return id, fmt.Errorf("agent_id: bad tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return id, fmt.Errorf("agent_id: bad name")
			}
			id.Name = string(v)
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return id, fmt.Errorf("agent_id: bad address")
			}
			id.Addresses = append(id.Addresses, string(v))
			data = data[n:]
		default:
			n := consumeUnknown(data, typ)
			if n < 0 {
				return id, fmt.Errorf("agent_id: bad field %d", num)
			}
			data = data[n:]
		}
	}
	return id, nil
}

func consumeUnknown(data []byte, typ protowire.Type) int {
	switch typ {
	case protowire.VarintType:
		_, n := protowire.ConsumeVarint(data)
		return n
	case protowire.BytesType:
		_, n := protowire.ConsumeBytes(data)
		return n
	case protowire.Fixed32Type:
		_, n := protowire.ConsumeFixed32(data)
		return n
	case protowire.Fixed64Type:
		_, n := protowire.ConsumeFixed64(data)
		return n
	default:
		return -1
	}
}

// MarshalContent encodes a MessageContent.
func MarshalContent(c *acl.MessageContent) []byte {
	if c == nil {
		return nil
	}
	var b []byte
	b = appendVarint(b, 1, uint64(c.Kind))
	b = appendString(b, 2, c.Text)
	b = appendBytes(b, 3, c.Binary)
	for _, expr := range c.Structured.Expressions {
		var eb []byte
		eb = appendVarint(eb, 1, uint64(expr.Kind))
		eb = appendString(eb, 2, expr.Value)
		b = appendMessage(b, 4, eb)
	}
	return b
}

func UnmarshalContent(data []byte) (*acl.MessageContent, error) {
	c := &acl.MessageContent{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("content: bad tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("content: bad kind")
			}
			c.Kind = acl.ContentKind(v)
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("content: bad text")
			}
			c.Text = string(v)
			data = data[n:]
		case 3:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("content: bad binary")
			}
			c.Binary = append([]byte(nil), v...)
			data = data[n:]
		case 4:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("content: bad expression")
			}
			expr, err := unmarshalExpression(v)
			if err != nil {
				return nil, err
			}
			c.Structured.Expressions = append(c.Structured.Expressions, expr)
			data = data[n:]
		default:
			n := consumeUnknown(data, typ)
			if n < 0 {
				return nil, fmt.Errorf("content: bad field %d", num)
			}
			data = data[n:]
		}
	}
	return c, nil
}

func unmarshalExpression(data []byte) (acl.ContentExpression, error) {
	var e acl.ContentExpression
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return e, fmt.Errorf("expression: bad tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return e, fmt.Errorf("expression: bad kind")
			}
			e.Kind = acl.ContentExpressionKind(v)
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return e, fmt.Errorf("expression: bad value")
			}
			e.Value = string(v)
			data = data[n:]
		default:
			n := consumeUnknown(data, typ)
			if n < 0 {
				return e, fmt.Errorf("expression: bad field %d", num)
			}
			data = data[n:]
		}
	}
	return e, nil
}

// MarshalMessage encodes a complete acl.Message per schema.proto's
// AclMessage.
func MarshalMessage(msg acl.Message) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(msg.Performative))
	b = appendMessage(b, 2, MarshalAgentId(msg.Sender))
	for _, r := range msg.Receiver.Receivers {
		b = appendMessage(b, 3, MarshalAgentId(r))
	}
	if msg.Protocol != nil {
		b = appendVarint(b, 4, uint64(*msg.Protocol))
	}
	if msg.ConversationID != nil {
		b = appendString(b, 5, string(*msg.ConversationID))
	}
	if msg.ReplyWith != nil {
		b = appendString(b, 6, string(*msg.ReplyWith))
	}
	if msg.InReplyTo != nil {
		b = appendString(b, 7, string(*msg.InReplyTo))
	}
	if msg.ReplyBy != nil {
		b = appendVarint(b, 8, uint64(msg.ReplyBy.UnixMilli()))
	}
	if msg.Language != nil {
		b = appendVarint(b, 9, uint64(*msg.Language))
	}
	if msg.Encoding != nil {
		b = appendVarint(b, 10, uint64(*msg.Encoding))
	}
	if msg.Ontology != nil {
		b = appendString(b, 11, string(*msg.Ontology))
	}
	if msg.Content != nil {
		b = appendMessage(b, 12, MarshalContent(msg.Content))
	}
	return b
}

// UnmarshalMessage decodes bytes produced by MarshalMessage.
func UnmarshalMessage(data []byte) (acl.Message, error) {
	var msg acl.Message
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return msg, fmt.Errorf("message: bad tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return msg, fmt.Errorf("message: bad performative")
			}
			msg.Performative = acl.Performative(v)
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return msg, fmt.Errorf("message: bad sender")
			}
			sender, err := UnmarshalAgentId(v)
			if err != nil {
				return msg, err
			}
			msg.Sender = sender
			data = data[n:]
		case 3:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return msg, fmt.Errorf("message: bad receiver")
			}
			id, err := UnmarshalAgentId(v)
			if err != nil {
				return msg, err
			}
			msg.Receiver.Receivers = append(msg.Receiver.Receivers, id)
			data = data[n:]
		case 4:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return msg, fmt.Errorf("message: bad protocol")
			}
			p := acl.ProtocolType(v)
			msg.Protocol = &p
			data = data[n:]
		case 5:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return msg, fmt.Errorf("message: bad conversation_id")
			}
			id := acl.ConversationId(v)
			msg.ConversationID = &id
			data = data[n:]
		case 6:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return msg, fmt.Errorf("message: bad reply_with")
			}
			id := acl.MessageId(v)
			msg.ReplyWith = &id
			data = data[n:]
		case 7:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return msg, fmt.Errorf("message: bad in_reply_to")
			}
			id := acl.MessageId(v)
			msg.InReplyTo = &id
			data = data[n:]
		case 8:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return msg, fmt.Errorf("message: bad reply_by")
			}
			t := time.UnixMilli(int64(v))
			msg.ReplyBy = &t
			data = data[n:]
		case 9:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return msg, fmt.Errorf("message: bad language")
			}
			l := acl.ContentLanguage(v)
			msg.Language = &l
			data = data[n:]
		case 10:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return msg, fmt.Errorf("message: bad encoding")
			}
			e := acl.Encoding(v)
			msg.Encoding = &e
			data = data[n:]
		case 11:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return msg, fmt.Errorf("message: bad ontology")
			}
			o := acl.OntologyRef(v)
			msg.Ontology = &o
			data = data[n:]
		case 12:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return msg, fmt.Errorf("message: bad content")
			}
			content, err := UnmarshalContent(v)
			if err != nil {
				return msg, err
			}
			msg.Content = content
			data = data[n:]
		default:
			n := consumeUnknown(data, typ)
			if n < 0 {
				return msg, fmt.Errorf("message: bad field %d", num)
			}
			data = data[n:]
		}
	}
	return msg, nil
}

// MarshalEnvelope encodes a router.Envelope, inlining its ACL message
// payload via MarshalMessage when PayloadKind is PayloadAclMessage.
func MarshalEnvelope(env router.Envelope) []byte {
	var b []byte
	b = appendString(b, 1, env.SourceNode)
	b = appendString(b, 2, env.TargetNode)
	b = appendVarint(b, 3, env.Sequence)
	b = appendVarint(b, 4, uint64(env.Timestamp))
	b = appendVarint(b, 5, uint64(env.Payload.Kind))

	var payload []byte
	switch env.Payload.Kind {
	case router.PayloadAclMessage:
		if env.Payload.AclMessage != nil {
			payload = MarshalMessage(*env.Payload.AclMessage)
		}
	case router.PayloadMigration:
		payload = env.Payload.Migration
	case router.PayloadRegistryUpdate:
		payload = env.Payload.RegistryMsg
	case router.PayloadConsensus:
		payload = env.Payload.Consensus
	case router.PayloadHealthPing:
		if env.Payload.HealthPing != nil {
			payload = appendString(nil, 1, env.Payload.HealthPing.NodeID)
		}
	}
	b = appendBytes(b, 6, payload)
	return b
}

func UnmarshalEnvelope(data []byte) (router.Envelope, error) {
	var env router.Envelope
	var rawPayload []byte
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return env, fmt.Errorf("envelope: bad tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return env, fmt.Errorf("envelope: bad source_node")
			}
			env.SourceNode = string(v)
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return env, fmt.Errorf("envelope: bad target_node")
			}
			env.TargetNode = string(v)
			data = data[n:]
		case 3:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return env, fmt.Errorf("envelope: bad sequence")
			}
			env.Sequence = v
			data = data[n:]
		case 4:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return env, fmt.Errorf("envelope: bad timestamp")
			}
			env.Timestamp = int64(v)
			data = data[n:]
		case 5:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return env, fmt.Errorf("envelope: bad payload_kind")
			}
			env.Payload.Kind = router.PayloadKind(v)
			data = data[n:]
		case 6:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return env, fmt.Errorf("envelope: bad payload")
			}
			rawPayload = v
			data = data[n:]
		default:
			n := consumeUnknown(data, typ)
			if n < 0 {
				return env, fmt.Errorf("envelope: bad field %d", num)
			}
			data = data[n:]
		}
	}

	switch env.Payload.Kind {
	case router.PayloadAclMessage:
		if len(rawPayload) > 0 {
			msg, err := UnmarshalMessage(rawPayload)
			if err != nil {
				return env, err
			}
			env.Payload.AclMessage = &msg
		}
	case router.PayloadMigration:
		env.Payload.Migration = rawPayload
	case router.PayloadRegistryUpdate:
		env.Payload.RegistryMsg = rawPayload
	case router.PayloadConsensus:
		env.Payload.Consensus = rawPayload
	case router.PayloadHealthPing:
		if len(rawPayload) > 0 {
			nodeID, err := unmarshalHealthPingNodeID(rawPayload)
			if err != nil {
				return env, err
			}
			env.Payload.HealthPing = &router.HealthPing{NodeID: nodeID}
		}
	}
	return env, nil
}

func unmarshalHealthPingNodeID(data []byte) (string, error) {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", fmt.Errorf("health_ping: bad tag")
		}
		data = data[n:]
		if num == 1 {
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return "", fmt.Errorf("health_ping: bad node_id")
			}
			return string(v), nil
		}
		n = consumeUnknown(data, typ)
		if n < 0 {
			return "", fmt.Errorf("health_ping: bad field %d", num)
		}
		data = data[n:]
	}
	return "", nil
}
