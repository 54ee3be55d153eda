package protocol

import "time"

// DefaultTTL é o tempo de vida padrão de uma mensagem nova
const DefaultTTL = 3600 * time.Second

// ContentType é o discriminante no fio do conteúdo de uma mensagem
type ContentType uint8

const (
	ContentText    ContentType = 0x00
	ContentFile    ContentType = 0x01
	ContentRouting ContentType = 0x02
)

// String retorna o nome do tipo de conteúdo
func (t ContentType) String() string {
	switch t {
	case ContentText:
		return "text"
	case ContentFile:
		return "file"
	case ContentRouting:
		return "routing"
	default:
		return "desconhecido"
	}
}

// MessagePriority define a urgência de uma mensagem. Valor menor = mais urgente.
type MessagePriority uint8

const (
	PriorityEmergency MessagePriority = iota
	PriorityUrgent
	PriorityNormal
	PriorityBackground
)

// String retorna o nome da prioridade
func (p MessagePriority) String() string {
	switch p {
	case PriorityEmergency:
		return "emergency"
	case PriorityUrgent:
		return "urgent"
	case PriorityNormal:
		return "normal"
	case PriorityBackground:
		return "background"
	default:
		return "desconhecida"
	}
}

// MoreUrgentThan indica se p deve ser atendida antes de other
func (p MessagePriority) MoreUrgentThan(other MessagePriority) bool {
	return p < other
}

// Content é o conteúdo de uma mensagem. Conjunto fechado: texto, arquivo ou controle de roteamento.
// A variante é fixada na construção e nunca reinterpretada.
type Content interface {
	ContentType() ContentType
	isContent()
}

// TextContent carrega uma string UTF-8
type TextContent struct {
	Text string
}

// FileContent carrega um arquivo nomeado
type FileContent struct {
	Name string
	Data []byte
}

// RoutingContent carrega um pacote de controle de roteamento
type RoutingContent struct {
	Packet ControlPacket
}

func (TextContent) ContentType() ContentType    { return ContentText }
func (FileContent) ContentType() ContentType    { return ContentFile }
func (RoutingContent) ContentType() ContentType { return ContentRouting }

func (TextContent) isContent()    {}
func (FileContent) isContent()    {}
func (RoutingContent) isContent() {}

// EqualContent compara dois conteúdos por variante e valores
func EqualContent(a, b Content) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.ContentType() != b.ContentType() {
		return false
	}
	switch av := a.(type) {
	case TextContent:
		return av.Text == b.(TextContent).Text
	case FileContent:
		bv := b.(FileContent)
		return av.Name == bv.Name && string(av.Data) == string(bv.Data)
	case RoutingContent:
		return EqualControl(av.Packet, b.(RoutingContent).Packet)
	}
	return false
}
