package channel

// Kind identifies one of the two transports.
type Kind string

const (
	KindPersistent Kind = "persistent"
	KindFallback   Kind = "fallback"
)

// Descriptor reports the routing status of one transport. For the persistent
// channel Available reflects live connectivity; for the fallback channel it
// reflects whether a valid session exists to authenticate requests.
type Descriptor struct {
	Kind            Kind
	EndpointBaseURL string
	Available       bool
}
