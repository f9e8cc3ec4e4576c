package inbound

// SampleTextPayload builds a text-message delivery shaped like the ones Meta
// sends. It is posted by the send-test-webhook command.
func SampleTextPayload(businessAccountID, displayPhoneNumber, phoneNumberID, from, body string) Payload {
	return Payload{
		Object: "whatsapp_business_account",
		Entry: []Entry{{
			ID: businessAccountID,
			Changes: []Change{{
				Field: "messages",
				Value: Value{
					MessagingProduct: "whatsapp",
					Metadata: Metadata{
						DisplayPhoneNumber: displayPhoneNumber,
						PhoneNumberID:      phoneNumberID,
					},
					Contacts: []Contact{{
						Profile: Profile{Name: "Test User"},
						WaID:    from,
					}},
					Messages: []Message{{
						From:      from,
						ID:        "wamid.TEST_MESSAGE_ID",
						Timestamp: "1737052800",
						Type:      TypeText,
						Text:      &TextBody{Body: body},
					}},
				},
			}},
		}},
	}
}
