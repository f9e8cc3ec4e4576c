package inbound

// Kind is the routing decision for a payload.
type Kind int

const (
	KindUnsupported Kind = iota
	KindStatus
	KindMessage
	KindMissingContact
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindMessage:
		return "message"
	case KindMissingContact:
		return "missing_contact"
	default:
		return "unsupported"
	}
}

// Classification is the result of Classify. Status is set for KindStatus;
// Message, ContactWaID, ContactName and DisplayPhoneNumber for KindMessage.
// Value is the inspected change value, kept for logging.
type Classification struct {
	Kind               Kind
	Status             StatusUpdate
	Message            Message
	ContactWaID        string
	ContactName        string
	DisplayPhoneNumber string
	Value              Value
}

// Classify decides what a payload carries. Only the first change of the first
// entry is inspected; Classify never modifies p.
func Classify(p Payload) Classification {
	value, ok := p.FirstValue()
	if !ok {
		return Classification{Kind: KindUnsupported}
	}
	c := Classification{Value: value, DisplayPhoneNumber: value.Metadata.DisplayPhoneNumber}

	switch {
	case len(value.Messages) == 0 && len(value.Statuses) > 0:
		c.Kind = KindStatus
		c.Status = value.Statuses[0]
	case len(value.Messages) > 0 && len(value.Contacts) > 0:
		c.Kind = KindMessage
		c.Message = value.Messages[0]
		c.ContactWaID = value.Contacts[0].WaID
		c.ContactName = value.Contacts[0].Profile.Name
	case len(value.Messages) > 0:
		c.Kind = KindMissingContact
		c.Message = value.Messages[0]
	default:
		c.Kind = KindUnsupported
	}
	return c
}
