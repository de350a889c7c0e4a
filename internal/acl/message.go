package acl

import "time"

type ConversationId string

type MessageId string

// ContentLanguage identifies the language used to express message content.
type ContentLanguage int

const (
	LangFipaSL ContentLanguage = iota
	LangFipaSL0
	LangFipaSL1
	LangFipaSL2
	LangXML
	LangRDF
	LangCustom
)

type Encoding int

const (
	EncodingUTF8 Encoding = iota
	EncodingBase64
	EncodingCustom
)

type OntologyRef string

// ContentKind distinguishes the payload shape carried by a message.
type ContentKind int

const (
	ContentText ContentKind = iota
	ContentBinary
	ContentStructured
)

// ContentExpressionKind mirrors the FIPA-SL expression categories used in
// structured content.
type ContentExpressionKind int

const (
	ExprAction ContentExpressionKind = iota
	ExprFact
	ExprQuery
	ExprProposal
)

type ContentExpression struct {
	Kind  ContentExpressionKind
	Value string
}

type StructuredContent struct {
	Expressions []ContentExpression
}

// MessageContent is the payload of an ACL message: text, raw bytes, or a
// structured FIPA-SL expression list. Exactly one of the fields is set,
// selected by Kind.
type MessageContent struct {
	Kind       ContentKind
	Text       string
	Binary     []byte
	Structured StructuredContent
}

// Message is a complete FIPA ACL message.
type Message struct {
	Performative   Performative
	Sender         AgentId
	Receiver       ReceiverSet
	Protocol       *ProtocolType
	ConversationID *ConversationId
	ReplyWith      *MessageId
	InReplyTo      *MessageId
	ReplyBy        *time.Time
	Language       *ContentLanguage
	Encoding       *Encoding
	Ontology       *OntologyRef
	Content        *MessageContent
}

// NewMessage builds a message with the FIPA-SL/UTF8 defaults the original
// constructor applies.
func NewMessage(performative Performative, sender AgentId, receiver ReceiverSet) Message {
	lang := LangFipaSL
	enc := EncodingUTF8
	return Message{
		Performative: performative,
		Sender:       sender,
		Receiver:     receiver,
		Language:     &lang,
		Encoding:     &enc,
	}
}

func (m Message) WithTextContent(text string) Message {
	m.Content = &MessageContent{Kind: ContentText, Text: text}
	return m
}

func (m Message) WithBinaryContent(data []byte) Message {
	m.Content = &MessageContent{Kind: ContentBinary, Binary: data}
	return m
}

func (m Message) WithProtocol(p ProtocolType) Message {
	m.Protocol = &p
	return m
}

func (m Message) WithConversation(id ConversationId) Message {
	m.ConversationID = &id
	return m
}

func (m Message) WithReplyWith(id MessageId) Message {
	m.ReplyWith = &id
	return m
}

func (m Message) WithInReplyTo(id MessageId) Message {
	m.InReplyTo = &id
	return m
}
