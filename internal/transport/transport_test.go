package transport

import (
	"github.com/google/uuid"

	"github.com/sungwon/govnotify/internal/message"
	"github.com/sungwon/govnotify/internal/provider"
)

func testMessage() *message.Message {
	return &message.Message{
		ID:                  uuid.New(),
		OrganisationID:      uuid.New(),
		RecipientID:         uuid.New(),
		Subject:             "Parking permit renewed",
		Body:                "Your permit has been renewed.",
		HTMLBody:            "<p>Your permit has been renewed.</p>",
		SecurityLevel:       message.SecurityStandard,
		PreferredTransports: []provider.Type{provider.TypeEmail},
	}
}

func testAddress() Address {
	return Address{
		Name:         "Ada Citizen",
		Email:        "ada@example.org",
		Phone:        "+4915112345678",
		Organisation: "City Council",
	}
}
