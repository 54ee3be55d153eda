package protocol

// ControlType é o discriminante no fio dos pacotes de controle de roteamento
type ControlType uint8

const (
	ControlRouteRequest ControlType = 0x00
	ControlRouteReply   ControlType = 0x01
	ControlRouteError   ControlType = 0x02
)

// String retorna o nome do tipo de controle
func (t ControlType) String() string {
	switch t {
	case ControlRouteRequest:
		return "route-request"
	case ControlRouteReply:
		return "route-reply"
	case ControlRouteError:
		return "route-error"
	default:
		return "desconhecido"
	}
}

// ControlPacket é um payload do protocolo de roteamento (estilo AODV).
// Conjunto fechado: RouteRequest, RouteReply e RouteError.
type ControlPacket interface {
	ControlType() ControlType
	isControlPacket()
}

// RouteRequest é difundido quando um nó precisa de uma rota até Destination.
// RequestID é atribuído pela origem; a unicidade é responsabilidade da camada de descoberta.
type RouteRequest struct {
	Origin      UserID
	Destination UserID
	RequestID   uint32
	HopCount    uint8
}

// RouteReply é enviado de volta à origem de um RouteRequest correspondente
type RouteReply struct {
	Origin      UserID
	Destination UserID
	HopCount    uint8
}

// RouteError notifica que os destinos listados estão inalcançáveis
type RouteError struct {
	Unreachable []UserID
}

func (RouteRequest) ControlType() ControlType { return ControlRouteRequest }
func (RouteReply) ControlType() ControlType   { return ControlRouteReply }
func (RouteError) ControlType() ControlType   { return ControlRouteError }

func (RouteRequest) isControlPacket() {}
func (RouteReply) isControlPacket()   {}
func (RouteError) isControlPacket()   {}

// EqualControl compara dois pacotes de controle por variante e valores.
// Uma lista Unreachable vazia é igual a uma nil.
func EqualControl(a, b ControlPacket) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.ControlType() != b.ControlType() {
		return false
	}
	switch av := a.(type) {
	case RouteRequest:
		return av == b.(RouteRequest)
	case RouteReply:
		return av == b.(RouteReply)
	case RouteError:
		bv := b.(RouteError)
		if len(av.Unreachable) != len(bv.Unreachable) {
			return false
		}
		for i := range av.Unreachable {
			if av.Unreachable[i] != bv.Unreachable[i] {
				return false
			}
		}
		return true
	}
	return false
}
